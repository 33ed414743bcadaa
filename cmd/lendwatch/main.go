// Command lendwatch is the entry point for the lending position aggregator.
// It loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode. With -address
// it performs a single lookup, prints the positions as JSON and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/lendwatch/internal/app"
	"github.com/alanyoungcy/lendwatch/internal/config"
	"github.com/alanyoungcy/lendwatch/internal/domain"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and environment only)")
	address := flag.String("address", "", "fetch positions of this address once and exit")
	protocol := flag.String("protocol", string(domain.ProtocolAave), "protocol for -address")
	network := flag.String("network", string(domain.NetworkEthereum), "network for -address")
	flag.Parse()

	// Lookups print JSON on stdout, so logs go to stderr.
	var logOut io.Writer = os.Stdout
	if *address != "" {
		logOut = os.Stderr
	}

	logger := newLogger(logOut, "info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(logOut, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("lendwatch starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *address != "" {
		q := domain.Query{
			Protocol:    domain.Protocol(*protocol),
			Network:     domain.Network(*network),
			UserAddress: *address,
		}
		if err := application.Fetch(ctx, q, os.Stdout); err != nil {
			logger.Error("lookup failed",
				slog.String("kind", domain.ErrorKind(err)),
				slog.String("error", err.Error()),
			)
			application.Close()
			os.Exit(1)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("lendwatch stopped")
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}
