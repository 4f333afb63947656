package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cipherdrop/cipherdrop/internal/config"
	"github.com/cipherdrop/cipherdrop/internal/reconciler"
	"github.com/cipherdrop/cipherdrop/internal/store"
)

func newSweepCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single reconciliation pass and exit",
		Long: `Sweep pages over the body store once, deleting bodies whose expiry has
passed and untagged bodies older than the configured legacy age. Useful for
cleaning up after a crash without waiting for the serving daemon's next
scheduled pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				return err
			}

			logger := slog.Default()

			st, err := store.Open(store.Config{
				Logger:    logger,
				Directory: cfg.Storage.Directory,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			rec := reconciler.New(reconciler.Config{
				Logger: logger,
				Store:  st,
				Cfg:    cfg.Reconciler,
			})

			stats, err := rec.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			logger.Info("sweep finished",
				"scanned", stats.Scanned,
				"deleted_expired", stats.DeletedExpired,
				"deleted_legacy", stats.DeletedLegacy)
			return nil
		},
	}
}
