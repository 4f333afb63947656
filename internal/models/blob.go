package models

import "time"

// BlobMeta is the authoritative record for a stored blob. It lives in the
// metadata store under the blob id with a TTL matching ExpiresAt, and is
// always consulted before the body store. If it is missing the blob does
// not exist, regardless of what the body store holds.
type BlobMeta struct {
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	HasPayment bool      `json:"has_payment"`
	PriceUSD   *float64  `json:"price_usd,omitempty"`
}

// Expired reports whether the record's expiry has passed relative to now.
func (m *BlobMeta) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}
