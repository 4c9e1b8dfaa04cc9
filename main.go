package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gridvolt/emscontroller/config"
	"github.com/gridvolt/emscontroller/supervisor"
)

func main() {

	configPath := flag.String("config", "emscontroller.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		slog.Error("Failed to read config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("Starting EMS controller...", "sites", len(cfg.Sites))

	sup, err := supervisor.New(cfg)
	if err != nil {
		slog.Error("Failed to create supervisor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	// wait for a ctrl-c interrupt before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan

	// cancel any open go-routines and give them a moment to gracefully shutdown
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	slog.Info("Exiting")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
