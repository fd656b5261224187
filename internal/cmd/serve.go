// Package cmd wires the collabd CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/notewave/collabd/internal/server"
	"github.com/notewave/collabd/internal/store"
	"github.com/notewave/collabd/pkg/config"
	"github.com/notewave/collabd/pkg/logging"
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "collabd",
		Short:         "Real-time collaborative session server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var configName string
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collab session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLogger := logging.New(logging.LevelInfo)
			cfg, err := config.Load(bootLogger, configName)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if address != "" {
				cfg.Server.Address = address
			}
			logger := logging.New(logging.ParseLevel(cfg.Log.Level))
			slog.SetDefault(logger)

			docStore, err := openStore(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer docStore.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := server.NewApp(logger, ctx, cfg, docStore)
			if err := app.Run(); err != nil {
				return fmt.Errorf("server run: %w", err)
			}
			logger.Info("Application shut down successfully.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "config", "config", "config file name (without extension), looked up in the working directory")
	cmd.Flags().StringVar(&address, "address", "", "listen address override, e.g. :8080")
	return cmd
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "pebble":
		return store.OpenPebbleStore(cfg.Path)
	default:
		return store.NewMemoryStore(), nil
	}
}
