package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile string
	var debug bool

	cmd := &cobra.Command{
		Use:   "cdropd",
		Short: "Cdropd is a host-blind gateway for ephemeral encrypted blobs",
		Long: `Cdropd accepts opaque ciphertext blobs over HTTP, hands back short
identifiers, and serves the blobs until they expire. Keys never reach the
server; encryption and decryption happen entirely on the client.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&configFile, "config", "gateway.yaml", "path to the gateway config file")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(&configFile),
		newSweepCmd(&configFile),
	)

	return cmd
}
