// Package reconciler sweeps the body store on a fixed schedule. TTL
// eviction on the metadata store cannot clean body records, and a failed
// metadata write can leave a body with no metadata at all, so an out-of-band
// pass over the bodies is the only thing that guarantees eventual cleanup.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/config"
	"github.com/cipherdrop/cipherdrop/internal/store"
)

type Stats struct {
	Scanned        int
	DeletedExpired int
	DeletedLegacy  int
	Pages          int
}

type Reconciler struct {
	logger *slog.Logger
	store  *store.Store
	cfg    config.Reconciler
	now    func() time.Time
}

type Config struct {
	Logger *slog.Logger
	Store  *store.Store
	Cfg    config.Reconciler

	// Now is the clock; tests substitute it. Nil means time.Now.
	Now func() time.Time
}

func New(cfg Config) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		logger: cfg.Logger.With("component", "reconciler"),
		store:  cfg.Store,
		cfg:    cfg.Cfg,
		now:    cfg.Now,
	}
}

// Run sweeps immediately and then on every interval tick until the context
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler starting", "interval", r.cfg.Interval, "page_size", r.cfg.PageSize)

	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Error("sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep pages over the body store and deletes what should no longer exist:
// bodies whose side-carried expiry has passed, and bodies with no expiry at
// all (written before expiry tagging) once older than the maximum possible
// TTL plus margin. Each page's deletions are independent and idempotent, so
// an interrupted sweep leaves nothing to repair.
func (r *Reconciler) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	now := r.now()
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("sweep interrupted", "cursor", cursor, "scanned", stats.Scanned)
			return stats, err
		}

		page, next, err := r.store.ListBodies(cursor, r.cfg.PageSize)
		if err != nil {
			return stats, err
		}
		stats.Pages++

		for _, info := range page {
			stats.Scanned++
			switch {
			case info.ExpiresAt != nil:
				if now.After(*info.ExpiresAt) {
					r.deleteBody(info.ID, "expired")
					stats.DeletedExpired++
				}
			case now.Sub(info.CreatedAt) > r.cfg.LegacyMaxAge:
				// No side expiry and older than any blob could
				// legitimately be.
				r.deleteBody(info.ID, "legacy age exceeded")
				stats.DeletedLegacy++
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	r.logger.Info("sweep complete",
		"scanned", stats.Scanned,
		"deleted_expired", stats.DeletedExpired,
		"deleted_legacy", stats.DeletedLegacy,
		"pages", stats.Pages)
	return stats, nil
}

func (r *Reconciler) deleteBody(id string, reason string) {
	if err := r.store.Delete(id); err != nil {
		r.logger.Error("could not delete body during sweep", "id", id, "reason", reason, "error", err)
		return
	}
	r.logger.Debug("swept body", "id", id, "reason", reason)
}
