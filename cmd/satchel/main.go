package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/estrateji/satchel/internal/adapter"
	"github.com/estrateji/satchel/internal/service"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	offline  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "satchel",
	Short:         "Offline cache and sync agent for the learning platform",
	Long:          "Keeps courses, modules and pending writes on disk while offline,\nand replays them to the server once it is reachable again.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never contact the server")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every subcommand runs against
type app struct {
	cfg    *adapter.Config
	logger *slog.Logger
	level  *slog.LevelVar
	engine *service.Engine
}

// openApp loads config, sets up logging and opens the engine
func openApp() (*app, error) {
	cfg, err := adapter.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, level, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
		level = new(slog.LevelVar)
	}
	slog.SetDefault(logger)

	logger.Info("starting satchel", "version", Version, "offline", offline)

	if !offline && !cfg.IsConfigured() {
		return nil, fmt.Errorf("server.url and server.token must be set (or run with --offline)")
	}

	engine, err := service.New(cfg, service.Options{Offline: offline}, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, level: level, engine: engine}, nil
}

func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
	a.logger.Info("shutting down")
}

// withApp wraps a RunE body with openApp/Close
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
