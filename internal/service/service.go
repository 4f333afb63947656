package service

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cipherdrop/cipherdrop/internal/config"
	"github.com/cipherdrop/cipherdrop/internal/limiter"
	"github.com/cipherdrop/cipherdrop/internal/models"
	"github.com/cipherdrop/cipherdrop/internal/store"
)

// Service composes the gateway: identifier issuance, the dual store, and the
// rate limiter behind a small HTTP surface. Request handling is stateless;
// everything that must survive a request lives in the store or the counter
// cache.
type Service struct {
	appCtx context.Context
	cfg    *config.Gateway
	logger *slog.Logger
	store  *store.Store
	limits *limiter.Limiter
	mux    *http.ServeMux

	// Route-family token buckets, layered in front of the per-client
	// windows to shed floods before they reach the counter store.
	burst map[string]*rate.Limiter

	startedAt time.Time
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Gateway,
	st *store.Store,
	limits *limiter.Limiter,
) *Service {
	burst := make(map[string]*rate.Limiter)
	if rl := cfg.RateLimits.Upload; rl.BurstLimit > 0 {
		burst["upload"] = rate.NewLimiter(rate.Limit(rl.BurstLimit), rl.Burst)
		logger.Info("initialized burst guard for 'upload'", "limit", rl.BurstLimit, "burst", rl.Burst)
	}
	if rl := cfg.RateLimits.Read; rl.BurstLimit > 0 {
		burst["read"] = rate.NewLimiter(rate.Limit(rl.BurstLimit), rl.Burst)
		logger.Info("initialized burst guard for 'read'", "limit", rl.BurstLimit, "burst", rl.Burst)
	}

	s := &Service{
		appCtx: ctx,
		cfg:    cfg,
		logger: logger,
		store:  st,
		limits: limits,
		burst:  burst,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Service) routes() {
	s.mux.Handle("/api/drop", s.corsMiddleware(s.burstMiddleware(http.HandlerFunc(s.dropHandler), "upload")))
	s.mux.Handle("/api/blob/", s.corsMiddleware(s.burstMiddleware(http.HandlerFunc(s.blobHandler), "read")))
	s.mux.Handle("/api/status", s.corsMiddleware(http.HandlerFunc(s.statusHandler)))
	s.mux.Handle("/", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})))
}

// Handler exposes the composed mux for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// corsMiddleware stamps the permissive CORS contract onto every response and
// short-circuits preflights with 204.
func (s *Service) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Expose-Headers", "X-Expires-At, X-Price, X-Currency, X-Payment-Methods, Retry-After")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) burstMiddleware(next http.Handler, category string) http.Handler {
	lim, ok := s.burst[category]
	if !ok {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := lim.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.logger.Warn("burst guard tripped", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until the context is cancelled.
func (s *Service) Run() error {
	s.logger.Info("attempting to start gateway", "listen_addr", s.cfg.Binding, "tls_enabled", s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != "")

	srv := &http.Server{
		Addr:    s.cfg.Binding,
		Handler: s.mux,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	s.startedAt = time.Now()

	var err error
	if s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != "" {
		srv.TLSConfig = &tls.Config{}
		err = srv.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key)
	} else {
		s.logger.Info("TLS cert or key not specified in config, serving plain HTTP")
		err = srv.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// -------------------------- response helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("could not encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

func writeRateLimited(w http.ResponseWriter, d limiter.Decision) {
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", d.RetryAfter.Seconds()))
	writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
}
