package api

import (
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig("/home/observer")
	require.Empty(t, cfg.Validate("/home/observer", testLogger))
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 9000, cfg.Server.GrpcPort)
	require.Equal(t, "filesystem", cfg.Storage.Kind)
	require.Equal(t, filepath.Join("/home/observer", "ac-observator"), cfg.Storage.Path)
	require.Equal(t, 7*24*time.Hour, cfg.Retention.Keep)
}

func TestApplyDefaultsKeepsConfiguredValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8443
	cfg.Storage.Kind = "sqlite"
	cfg.ApplyDefaults("/home/observer")

	require.Equal(t, 8443, cfg.Server.Port)
	require.Equal(t, filepath.Join("/home/observer", "ac-observator", "observator.db"), cfg.Storage.Path)
	require.Equal(t, "ac-observator/readings", cfg.Mqtt.TopicPrefix)
}

func TestValidateFallsBackToDefaults(t *testing.T) {
	home := "/home/observer"
	cfg := DefaultConfig(home)
	cfg.Server.Port = 80
	cfg.Server.BasePath = "dashboard"
	cfg.Storage.Kind = "postgres"
	cfg.Amqp.Url = "not a url"
	cfg.Kafka.Brokers = []string{"localhost:9092"}

	reset := cfg.Validate(home, testLogger)
	require.ElementsMatch(t, []string{
		"Config.Server.Port",
		"Config.Server.BasePath",
		"Config.Storage.Kind",
		"Config.Amqp.Url",
		"Config.Kafka.Topic",
	}, reset)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "/ac-observator/", cfg.Server.BasePath)
	require.Equal(t, "filesystem", cfg.Storage.Kind)
	require.Empty(t, cfg.Amqp.Url)
	require.Empty(t, cfg.Kafka.Brokers)
	require.Empty(t, cfg.Validate(home, testLogger))
}

func TestSeedCreatesDefaultSensorTypes(t *testing.T) {
	home := t.TempDir()
	cfg := DefaultConfig(home)

	names, err := Seed(cfg, testLogger)
	require.NoError(t, err)
	require.Equal(t, []string{"voltage (V)", "frequency (Hz)"}, names)

	again, err := Seed(cfg, testLogger)
	require.NoError(t, err)
	require.Equal(t, names, again)
}
