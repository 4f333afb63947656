// Package cipherbox is the reference implementation of the cipher contract
// every cipherdrop client must reproduce byte-for-byte: AES-256-CBC with
// PKCS#7 padding, a literal 32-byte key and 16-byte IV, and no key
// derivation of any kind. The gateway itself never encrypts or decrypts —
// it stores and returns the exact bytes it received — but independent
// clients round-trip each other's ciphertext only if they all match this
// package's output for the same (plaintext, key, iv) triple.
package cipherbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	KeyLength = 32
	IVLength  = aes.BlockSize
)

type ErrCipher struct {
	Reason string
}

func (e *ErrCipher) Error() string {
	return fmt.Sprintf("cipher contract violation: %s", e.Reason)
}

// NewSecret draws a fresh random key and iv. These are the literal cipher
// inputs; nothing is ever derived from a password.
func NewSecret() (key, iv []byte, err error) {
	key = make([]byte, KeyLength)
	iv = make([]byte, IVLength)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("could not read random source: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("could not read random source: %w", err)
	}
	return key, iv, nil
}

// Seal encrypts plaintext under key/iv. The output length is always the
// plaintext length rounded up to the next block boundary; a plaintext that
// is already block-aligned gains a full padding block.
func Seal(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Open decrypts ciphertext under key/iv and strips the padding. Any padding
// inconsistency is reported as a contract violation; it usually means the
// wrong secret was supplied.
func Open(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, &ErrCipher{Reason: fmt.Sprintf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))}
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out)
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeyLength {
		return nil, &ErrCipher{Reason: fmt.Sprintf("key must be %d bytes, got %d", KeyLength, len(key))}
	}
	if len(iv) != IVLength {
		return nil, &ErrCipher{Reason: fmt.Sprintf("iv must be %d bytes, got %d", IVLength, len(iv))}
	}
	return aes.NewCipher(key)
}

func pad(in []byte) []byte {
	n := aes.BlockSize - len(in)%aes.BlockSize
	out := make([]byte, len(in)+n)
	copy(out, in)
	for i := len(in); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(in []byte) ([]byte, error) {
	n := int(in[len(in)-1])
	if n == 0 || n > aes.BlockSize || n > len(in) {
		return nil, &ErrCipher{Reason: "malformed padding"}
	}
	for _, b := range in[len(in)-n:] {
		if int(b) != n {
			return nil, &ErrCipher{Reason: "malformed padding"}
		}
	}
	return in[:len(in)-n], nil
}
