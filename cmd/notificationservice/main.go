/*
File: cmd/notificationservice/main.go
Description: Entrypoint for the notification service CLI. Handles logging
setup and configuration loading shared by every subcommand.
*/
package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-notification-service/notificationservice/config"
)

const serviceName = "go-notification-service"

//go:embed config.yaml
var configFile []byte

func main() {
	logger := newLogger(os.Getenv("RUN_MODE"))
	slog.SetDefault(logger)

	if err := newRootCommand(logger).ExecuteContext(context.Background()); err != nil {
		logger.Error("Command failed", "err", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "notificationservice",
		Short:         "Realtime per-user notifications over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand(logger))
	cmd.AddCommand(newTokenCommand(logger))
	cmd.AddCommand(newTenantCommand(logger))
	return cmd
}

// newLogger sets up structured logging with the level from LOG_LEVEL. The
// local run mode writes text, every other mode writes JSON.
func newLogger(runMode string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if runMode == config.RunModeLocal {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", serviceName)
}

// newRealtimeLogger builds the zerolog logger used by the realtime
// components, at the same level and in the same format as the slog root.
func newRealtimeLogger(runMode string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if runMode == config.RunModeLocal {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", serviceName).Logger()
}

// loadConfig runs all configuration stages over the embedded config.yaml.
func loadConfig(logger *slog.Logger) (*config.AppConfig, error) {
	// Stage 0: Unmarshal
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}

	// Stage 1: YAML to base struct
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration from YAML: %w", err)
	}

	// Stage 2: Env overrides and validation
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize configuration with environment overrides: %w", err)
	}
	return cfg, nil
}
