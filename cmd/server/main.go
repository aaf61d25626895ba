package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ptyd/internal/infrastructure/config"
	"github.com/GriffinCanCode/ptyd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ptyd/internal/infrastructure/server"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to a YAML or TOML config file")
	host := flag.String("host", "", "Listen host (overrides config)")
	port := flag.String("port", "", "Listen port (overrides config)")
	command := flag.String("command", "", "Program new sessions run (overrides config)")
	watch := flag.Bool("watch", true, "Reload the config file when it changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ptyd: %v\n", err)
		return 1
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *command != "" {
		cfg.Terminal.Command = *command
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ptyd: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Fail fast on a host that cannot run sessions at all.
	resolved, err := terminal.ResolveCommand(cfg.Terminal.Command)
	if err != nil {
		logger.Error("Session command unusable", zap.String("command", cfg.Terminal.Command), zap.Error(err))
		return 1
	}
	if err := terminal.Probe(); err != nil {
		logger.Error("PTY allocation failed", zap.Error(err))
		return 1
	}
	logger.Info("Session command resolved", zap.String("path", resolved))

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" && *watch {
		go func() {
			if err := srv.WatchConfig(ctx, *configPath); err != nil {
				logger.Warn("Config watch stopped", zap.Error(err))
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return 1
	}
	logger.Info("Shut down cleanly")
	return 0
}
