package service

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/ident"
	"github.com/cipherdrop/cipherdrop/internal/limiter"
	"github.com/cipherdrop/cipherdrop/internal/models"
	"github.com/cipherdrop/cipherdrop/internal/store"
)

const (
	paymentCurrency = "USD"
)

var paymentMethods = []string{"lightning", "onchain"}

/*
	Handlers that read from the blob store
*/

// blobHandler serves GET /api/blob/<id>?paymentProof=T. Identifiers are
// accepted in both the compact and the legacy hyphenated shape; anything
// else is a plain 404 so the surface leaks nothing about id structure.
func (s *Service) blobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	client := limiter.ClientAddress(r, s.cfg.TrustedProxies)
	if d := s.limits.Check(limiter.ActionRead, client); !d.Allowed {
		writeRateLimited(w, d)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/blob/")
	if ident.Classify(id) == ident.IDInvalid {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, meta, err := s.store.Get(id)
	if err != nil {
		var notFound *store.ErrNotFound
		var expired *store.ErrExpired
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.As(err, &expired):
			writeError(w, http.StatusGone, "expired")
		default:
			s.logger.Error("could not read blob", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "could not read blob")
		}
		return
	}

	if meta.HasPayment {
		// TODO: verify single-use, time-bounded proof tokens once the
		// settlement backend exists. Until then any non-empty proof
		// passes the gate.
		proof := r.URL.Query().Get("paymentProof")
		if proof == "" {
			price := 0.0
			if meta.PriceUSD != nil {
				price = *meta.PriceUSD
			}
			w.Header().Set("X-Price", strconv.FormatFloat(price, 'f', -1, 64))
			w.Header().Set("X-Currency", paymentCurrency)
			w.Header().Set("X-Payment-Methods", strings.Join(paymentMethods, ","))
			writeJSON(w, http.StatusPaymentRequired, models.PaymentRequiredResponse{
				Error:    "payment required",
				PriceUSD: price,
				Currency: paymentCurrency,
				Methods:  paymentMethods,
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Expires-At", meta.ExpiresAt.Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("could not write blob response", "id", id, "error", err)
	}
}
