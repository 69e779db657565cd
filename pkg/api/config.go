package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"log/slog"
	"path/filepath"
	"time"
)

const (
	defaultPort            = 8080
	defaultGrpcPort        = 9000
	defaultMaxConnections  = 10
	defaultBasePath        = "/ac-observator/"
	defaultStorageKind     = "filesystem"
	defaultStoreFolder     = "ac-observator"
	defaultRetention       = 7 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
	defaultTopicPrefix     = "ac-observator/readings"
	readTimeout            = 5 * time.Second
	shutdownTimeout        = 10 * time.Second
)

type Config struct {
	Server struct {
		Port           int    `yaml:"port" validate:"min=1024,max=65535"`
		GrpcPort       int    `yaml:"grpcPort" validate:"min=1024,max=65535"`
		MaxConnections int    `yaml:"maxConnections" validate:"min=1"`
		StaticDir      string `yaml:"staticDir"`
		BasePath       string `yaml:"basePath" validate:"startswith=/,endswith=/"`
	}
	Storage struct {
		Kind string `yaml:"kind" validate:"oneof=filesystem sqlite"`
		Path string `yaml:"path" validate:"required"`
	}
	Retention struct {
		Keep            time.Duration `yaml:"keep" validate:"gt=0"`
		CleanupInterval time.Duration `yaml:"cleanupInterval" validate:"gt=0"`
	}
	Amqp struct {
		Url   string `yaml:"url" validate:"omitempty,url"`
		Queue string `yaml:"queue"`
	}
	Mqtt struct {
		Broker      string `yaml:"broker" validate:"omitempty,url"`
		TopicPrefix string `yaml:"topicPrefix"`
		ClientId    string `yaml:"clientId"`
	}
	Kafka struct {
		Brokers []string `yaml:"brokers" validate:"omitempty,dive,hostname_port"`
		Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
	}
}

// DefaultConfig stores data under the user's home folder.
func DefaultConfig(home string) *Config {
	cfg := &Config{}
	cfg.ApplyDefaults(home)
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults(home string) {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.GrpcPort == 0 {
		c.Server.GrpcPort = defaultGrpcPort
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = defaultMaxConnections
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = defaultBasePath
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = defaultStorageKind
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath(c.Storage.Kind, home)
	}
	if c.Retention.Keep == 0 {
		c.Retention.Keep = defaultRetention
	}
	if c.Retention.CleanupInterval == 0 {
		c.Retention.CleanupInterval = defaultCleanupInterval
	}
	if c.Mqtt.TopicPrefix == "" {
		c.Mqtt.TopicPrefix = defaultTopicPrefix
	}
	if c.Mqtt.ClientId == "" {
		c.Mqtt.ClientId = "ac-observator-server"
	}
}

func defaultStoragePath(kind string, home string) string {
	if kind == "sqlite" {
		return filepath.Join(home, defaultStoreFolder, "observator.db")
	}
	return filepath.Join(home, defaultStoreFolder)
}

// Validate resets every invalid field to its default and reports what it reset.
func (c *Config) Validate(home string, logger *slog.Logger) []string {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		logger.Error("could not validate config", "err", err)
		return nil
	}
	reset := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		logger.Warn("falling back to default value", "field", fe.Namespace(), "err", fe.Error())
		c.resetField(fe.StructNamespace(), home)
		reset = append(reset, fe.StructNamespace())
	}
	return reset
}

func (c *Config) resetField(namespace string, home string) {
	switch namespace {
	case "Config.Server.Port":
		c.Server.Port = defaultPort
	case "Config.Server.GrpcPort":
		c.Server.GrpcPort = defaultGrpcPort
	case "Config.Server.MaxConnections":
		c.Server.MaxConnections = defaultMaxConnections
	case "Config.Server.BasePath":
		c.Server.BasePath = defaultBasePath
	case "Config.Storage.Kind":
		c.Storage.Kind = defaultStorageKind
		c.Storage.Path = defaultStoragePath(defaultStorageKind, home)
	case "Config.Storage.Path":
		c.Storage.Path = defaultStoragePath(c.Storage.Kind, home)
	case "Config.Retention.Keep":
		c.Retention.Keep = defaultRetention
	case "Config.Retention.CleanupInterval":
		c.Retention.CleanupInterval = defaultCleanupInterval
	case "Config.Amqp.Url":
		c.Amqp.Url = ""
	case "Config.Mqtt.Broker":
		c.Mqtt.Broker = ""
	default:
		// kafka forwarding is optional, a broken setup turns it off
		c.Kafka.Brokers = nil
		c.Kafka.Topic = ""
	}
}
