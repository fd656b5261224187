package main

import (
	"log/slog"
	"os"

	"github.com/notewave/collabd/internal/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		slog.Error("collabd failed", slog.Any("error", err))
		os.Exit(1)
	}
}
