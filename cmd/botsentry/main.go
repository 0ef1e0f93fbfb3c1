package main

import (
	"log/slog"
	"os"

	"github.com/kgrsutos/botsentry/internal/cli"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cli.LogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cli.Execute(); err != nil {
		slog.Error("Failed to execute command", "error", err)
		os.Exit(1)
	}
}
