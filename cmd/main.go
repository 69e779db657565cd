package main

import (
	"fmt"
	"github.com/andreikom/ac-observator/pkg/api"
	"github.com/andreikom/ac-observator/pkg/utils"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
)

const (
	ConfigFile = "config.yml"
)

type options struct {
	configFile string
	debug      bool
	profile    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	serve := serveCmd(opts)
	cmd := &cobra.Command{
		Use:          "ac-observator",
		Short:        "Collects voltage and frequency readings and serves them to dashboards",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ~/"+ConfigFile+")")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.profile, "profile", false, "write a cpu profile on exit")
	cmd.AddCommand(serve, seedCmd(opts))
	return cmd
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the http and grpc servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts.debug)
			if opts.profile {
				defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
			}
			cfg := resolveConfig(opts, logger)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := api.Start(ctx, cfg, logger); err != nil {
				logger.Error("sensor server failed", "err", err)
				return err
			}
			return nil
		},
	}
}

func seedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default sensor types and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts.debug)
			names, err := api.Seed(resolveConfig(opts, logger), logger)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func resolveConfig(opts *options, logger *slog.Logger) *api.Config {
	userHome := utils.GetUserHome(logger)
	cfg := &api.Config{}
	path := opts.configFile
	if path == "" {
		path = filepath.Join(userHome, ConfigFile)
	}
	if err := resolveFromYaml(cfg, path, logger); err != nil {
		logger.Info("attempting to resolve config from env vars")
		resolveEnvVars(cfg, logger)
	}
	cfg.ApplyDefaults(userHome)
	cfg.Validate(userHome, logger)
	return cfg
}

func resolveFromYaml(cfg *api.Config, path string, logger *slog.Logger) error {
	configFile, err := os.Open(path)
	if err != nil {
		logger.Info("could not open config file", "path", path)
		return err
	}
	defer configFile.Close()
	decoder := yaml.NewDecoder(configFile)
	if err := decoder.Decode(cfg); err != nil {
		logger.Warn("could not decode config file", "path", path, "err", err)
		return err
	}
	logger.Info("decoded yaml config file successfully", "path", path)
	return nil
}

func resolveEnvVars(cfg *api.Config, logger *slog.Logger) {
	if port, ok := envInt("sensor_server_port", logger); ok {
		cfg.Server.Port = port
	}
	if port, ok := envInt("sensor_server_grpc_port", logger); ok {
		cfg.Server.GrpcPort = port
	}
	if url := os.Getenv("sensor_server_amqp_url"); url != "" {
		cfg.Amqp.Url = url
	}
	if kind := os.Getenv("sensor_server_storage"); kind != "" {
		cfg.Storage.Kind = kind
	}
}

func envInt(name string, logger *slog.Logger) (int, bool) {
	value := os.Getenv(name)
	if value == "" {
		logger.Debug("env var is not defined", "name", name)
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("could not read env var", "name", name, "err", err)
		return 0, false
	}
	return n, true
}
