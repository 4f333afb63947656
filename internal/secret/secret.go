// Package secret encodes the client-held decryption secret (32-byte key
// followed by 16-byte IV) into URL-fragment text and back. Two historical
// formats are decodable; encoding always emits the compact one. The fragment
// never reaches the server in normal operation: this package exists so that
// every client implementation agrees on the exact bytes.
package secret

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	KeyLength    = 32
	IVLength     = 16
	SecretLength = KeyLength + IVLength

	// CompactLength is the unpadded URL-safe base64 length of 48 bytes.
	CompactLength = 64

	// Legacy fragments carry hex fields: key:<64 hex>;iv:<32 hex>.
	legacyKeyMarker = "key:"
	legacyIVMarker  = "iv:"
	legacySeparator = ";"
)

// FragmentFormat tags the recognized fragment shapes.
type FragmentFormat int

const (
	FragmentInvalid FragmentFormat = iota
	FragmentCompact
	FragmentLegacy
)

type ErrInvalidSecret struct {
	Reason string
}

func (e *ErrInvalidSecret) Error() string {
	return fmt.Sprintf("invalid secret: %s", e.Reason)
}

// Encode emits the compact format: key‖iv as unpadded URL-safe base64,
// exactly 64 characters.
func Encode(key, iv []byte) (string, error) {
	if len(key) != KeyLength {
		return "", &ErrInvalidSecret{Reason: fmt.Sprintf("key must be %d bytes, got %d", KeyLength, len(key))}
	}
	if len(iv) != IVLength {
		return "", &ErrInvalidSecret{Reason: fmt.Sprintf("iv must be %d bytes, got %d", IVLength, len(iv))}
	}
	joined := make([]byte, 0, SecretLength)
	joined = append(joined, key...)
	joined = append(joined, iv...)
	return base64.RawURLEncoding.EncodeToString(joined), nil
}

// EncodeLegacy emits the historical hex field format. Kept for tests and
// for generating fixtures that exercise old links; the gateway and current
// clients never emit it.
func EncodeLegacy(key, iv []byte) (string, error) {
	if len(key) != KeyLength {
		return "", &ErrInvalidSecret{Reason: fmt.Sprintf("key must be %d bytes, got %d", KeyLength, len(key))}
	}
	if len(iv) != IVLength {
		return "", &ErrInvalidSecret{Reason: fmt.Sprintf("iv must be %d bytes, got %d", IVLength, len(iv))}
	}
	return legacyKeyMarker + hex.EncodeToString(key) + legacySeparator + legacyIVMarker + hex.EncodeToString(iv), nil
}

// Decode parses a fragment in either format and returns the key and iv.
// Wrong decoded lengths are rejected, never truncated.
func Decode(frag string) (key, iv []byte, err error) {
	if compactCandidate(frag) {
		key, iv, err = decodeCompact(frag)
		if err == nil {
			return key, iv, nil
		}
		// A compact-looking fragment that fails to decode may still be a
		// damaged legacy fragment; fall through to field parsing so the
		// caller gets the more specific error.
	}
	return decodeLegacy(frag)
}

// Classify reports which decoder would accept the fragment. The detection
// rule is load-bearing for interoperability: a fragment of exactly 64
// characters with no '=' and no legacy field marker is attempted as compact
// first, everything else is parsed as legacy fields.
func Classify(frag string) FragmentFormat {
	if compactCandidate(frag) {
		if _, _, err := decodeCompact(frag); err == nil {
			return FragmentCompact
		}
	}
	if _, _, err := decodeLegacy(frag); err == nil {
		return FragmentLegacy
	}
	return FragmentInvalid
}

func compactCandidate(frag string) bool {
	return len(frag) == CompactLength &&
		!strings.Contains(frag, "=") &&
		!strings.Contains(frag, legacyKeyMarker)
}

func decodeCompact(frag string) (key, iv []byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(frag)
	if err != nil {
		return nil, nil, &ErrInvalidSecret{Reason: "fragment is not URL-safe base64"}
	}
	if len(raw) != SecretLength {
		return nil, nil, &ErrInvalidSecret{Reason: fmt.Sprintf("decoded secret must be %d bytes, got %d", SecretLength, len(raw))}
	}
	return raw[:KeyLength], raw[KeyLength:], nil
}

func decodeLegacy(frag string) (key, iv []byte, err error) {
	var keyHex, ivHex string
	for _, field := range strings.Split(frag, legacySeparator) {
		switch {
		case strings.HasPrefix(field, legacyKeyMarker):
			keyHex = strings.TrimPrefix(field, legacyKeyMarker)
		case strings.HasPrefix(field, legacyIVMarker):
			ivHex = strings.TrimPrefix(field, legacyIVMarker)
		}
	}
	if keyHex == "" || ivHex == "" {
		return nil, nil, &ErrInvalidSecret{Reason: "fragment carries no key/iv fields"}
	}

	key, err = hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, &ErrInvalidSecret{Reason: "key field is not hex"}
	}
	if len(key) != KeyLength {
		return nil, nil, &ErrInvalidSecret{Reason: fmt.Sprintf("key must be %d bytes, got %d", KeyLength, len(key))}
	}

	iv, err = hex.DecodeString(ivHex)
	if err != nil {
		return nil, nil, &ErrInvalidSecret{Reason: "iv field is not hex"}
	}
	if len(iv) != IVLength {
		return nil, nil, &ErrInvalidSecret{Reason: fmt.Sprintf("iv must be %d bytes, got %d", IVLength, len(iv))}
	}
	return key, iv, nil
}
