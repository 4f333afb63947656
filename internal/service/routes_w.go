package service

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/ident"
	"github.com/cipherdrop/cipherdrop/internal/limiter"
	"github.com/cipherdrop/cipherdrop/internal/models"
)

/*
	Handlers that write to the blob store
*/

// dropHandler accepts raw ciphertext on POST /api/drop?ttl=H&price=P and
// answers 201 with the issued identifier and expiry. The body is opaque: it
// is never parsed, sniffed, or interpreted.
func (s *Service) dropHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	client := limiter.ClientAddress(r, s.cfg.TrustedProxies)
	if d := s.limits.Check(limiter.ActionUpload, client); !d.Allowed {
		writeRateLimited(w, d)
		return
	}

	defer r.Body.Close()
	// Read one byte past the limit so an oversized body is
	// distinguishable from one that is exactly at it.
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.Limits.MaxBlobBytes+1))
	if err != nil {
		s.logger.Error("could not read upload body", "error", err)
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	if int64(len(body)) > s.cfg.Limits.MaxBlobBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body exceeds maximum blob size")
		return
	}

	ttl := s.parseTTL(r.URL.Query().Get("ttl"))
	now := time.Now().UTC()
	meta := models.BlobMeta{
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64); err == nil && price > 0 {
		meta.HasPayment = true
		meta.PriceUSD = &price
	}

	id, err := ident.IssueUnused(s.store.Exists)
	if err != nil {
		var collision *ident.ErrIDCollision
		if errors.As(err, &collision) {
			s.logger.Error("identifier space collision", "attempts", collision.Attempts)
		} else {
			s.logger.Error("could not issue identifier", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "could not issue identifier")
		return
	}

	if err := s.store.Put(id, body, meta); err != nil {
		s.logger.Error("could not store blob", "id", id, "size", len(body), "error", err)
		writeError(w, http.StatusInternalServerError, "could not store blob")
		return
	}

	s.logger.Info("blob stored", "id", id, "size", len(body), "expires", meta.ExpiresAt, "paid", meta.HasPayment)
	writeJSON(w, http.StatusCreated, models.DropResponse{
		ID:      id,
		Expires: meta.ExpiresAt.Format(time.RFC3339),
	})
}

// parseTTL interprets the ttl query parameter as whole hours. Unparsable or
// out-of-range values fall back to the default rather than erroring.
func (s *Service) parseTTL(raw string) time.Duration {
	if raw == "" {
		return s.cfg.Limits.DefaultTTL
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		return s.cfg.Limits.DefaultTTL
	}
	ttl := time.Duration(hours) * time.Hour
	if ttl < s.cfg.Limits.MinTTL || ttl > s.cfg.Limits.MaxTTL {
		return s.cfg.Limits.DefaultTTL
	}
	return ttl
}
