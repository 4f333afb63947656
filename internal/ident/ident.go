package ident

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// 62^12 is roughly 71 bits of entropy.
	compactAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	CompactLength   = 12

	// Previously issued links used textual UUIDs.
	LegacyLength = 36

	issueMaxAttempts = 3
)

// IDFormat tags the recognized identifier shapes. Classification is explicit
// so handlers never branch on raw string length.
type IDFormat int

const (
	IDInvalid IDFormat = iota
	IDCompact
	IDLegacy
)

type ErrIDCollision struct {
	Attempts int
}

func (e *ErrIDCollision) Error() string {
	return fmt.Sprintf("could not issue a unique identifier after %d attempts", e.Attempts)
}

// Issue generates a new compact identifier from a cryptographically strong
// source. Uniqueness against the store is the caller's concern; see
// IssueUnused.
func Issue() (string, error) {
	max := big.NewInt(int64(len(compactAlphabet)))
	out := make([]byte, CompactLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not read random source: %w", err)
		}
		out[i] = compactAlphabet[n.Int64()]
	}
	return string(out), nil
}

// IssueUnused issues identifiers until one passes the exists probe, bounded
// at a small fixed number of attempts. The probe races against concurrent
// uploads; the retry bound is the only uniqueness enforcement the dual store
// offers.
func IssueUnused(exists func(string) (bool, error)) (string, error) {
	for i := 0; i < issueMaxAttempts; i++ {
		id, err := Issue()
		if err != nil {
			return "", err
		}
		if exists == nil {
			return id, nil
		}
		taken, err := exists(id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", &ErrIDCollision{Attempts: issueMaxAttempts}
}

// Classify returns the tagged shape of an identifier.
func Classify(id string) IDFormat {
	switch len(id) {
	case CompactLength:
		for i := 0; i < len(id); i++ {
			if !isCompactSymbol(id[i]) {
				return IDInvalid
			}
		}
		return IDCompact
	case LegacyLength:
		if _, err := uuid.Parse(id); err != nil {
			return IDInvalid
		}
		return IDLegacy
	default:
		return IDInvalid
	}
}

// Validate accepts both the compact and the legacy hyphenated shape.
func Validate(id string) bool {
	return Classify(id) != IDInvalid
}

func isCompactSymbol(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
