package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cipherdrop/cipherdrop/internal/config"
	"github.com/cipherdrop/cipherdrop/internal/limiter"
	"github.com/cipherdrop/cipherdrop/internal/reconciler"
	"github.com/cipherdrop/cipherdrop/internal/service"
	"github.com/cipherdrop/cipherdrop/internal/store"
)

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				return err
			}

			logger := slog.Default()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("opening stores", "directory", cfg.Storage.Directory)
			st, err := store.Open(store.Config{
				Logger:    logger,
				Directory: cfg.Storage.Directory,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			counters := limiter.NewCacheCounters()
			defer counters.Stop()

			limits := limiter.New(logger, counters, cfg.RateLimits)

			rec := reconciler.New(reconciler.Config{
				Logger: logger,
				Store:  st,
				Cfg:    cfg.Reconciler,
			})
			go rec.Run(ctx)

			svc := service.New(ctx, logger, cfg, st, limits)
			if err := svc.Run(); err != nil {
				return err
			}

			logger.Info("gateway exiting")
			return nil
		},
	}
}
