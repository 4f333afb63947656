package models

// Wire payloads for the gateway HTTP surface.

type DropResponse struct {
	ID      string `json:"id"`
	Expires string `json:"expires"` // RFC3339
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PaymentRequiredResponse struct {
	Error    string   `json:"error"`
	PriceUSD float64  `json:"price"`
	Currency string   `json:"currency"`
	Methods  []string `json:"methods"`
}
