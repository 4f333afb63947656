package cipherbox

import (
	"bytes"
	"crypto/aes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, iv, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x42}},
		{"under one block", []byte("fifteen bytes!!")},
		{"exactly one block", bytes.Repeat([]byte{0xAA}, aes.BlockSize)},
		{"block aligned", bytes.Repeat([]byte{0x01}, aes.BlockSize*4)},
		{"odd length", bytes.Repeat([]byte{0x7F}, 1000)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := Seal(tc.plaintext, key, iv)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			// PKCS#7: always at least one padding byte, output rounds
			// up to the next block boundary.
			wantLen := (len(tc.plaintext)/aes.BlockSize + 1) * aes.BlockSize
			if len(ct) != wantLen {
				t.Fatalf("Expected ciphertext of %d bytes, got %d", wantLen, len(ct))
			}

			pt, err := Open(ct, key, iv)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(pt, tc.plaintext) {
				t.Fatal("Round trip did not preserve plaintext")
			}
		})
	}
}

func TestDeterministicForSameInputs(t *testing.T) {
	// The contract demands byte-identical ciphertext across independent
	// implementations for the same (plaintext, key, iv) triple.
	key, iv, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	plaintext := []byte("the same bytes every time")

	a, err := Seal(plaintext, key, iv)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, err := Seal(plaintext, key, iv)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("Seal is not deterministic for identical inputs")
	}

	otherKey, otherIV, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	c, err := Seal(plaintext, otherKey, otherIV)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatal("Different secrets produced identical ciphertext")
	}
}

func TestOpenRejectsWrongSecret(t *testing.T) {
	key, iv, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	ct, err := Seal([]byte("guarded"), key, iv)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	wrongKey, wrongIV, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	if pt, err := Open(ct, wrongKey, iv); err == nil && bytes.Equal(pt, []byte("guarded")) {
		t.Fatal("Open with the wrong key returned the plaintext")
	}
	if pt, err := Open(ct, key, wrongIV); err == nil && bytes.Equal(pt, []byte("guarded")) {
		t.Fatal("Open with the wrong iv returned the plaintext")
	}
}

func TestParameterValidation(t *testing.T) {
	key, iv, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	var ce *ErrCipher

	if _, err := Seal([]byte("x"), key[:16], iv); !errors.As(err, &ce) {
		t.Errorf("Expected ErrCipher for short key, got %v", err)
	}
	if _, err := Seal([]byte("x"), key, iv[:8]); !errors.As(err, &ce) {
		t.Errorf("Expected ErrCipher for short iv, got %v", err)
	}
	if _, err := Open(nil, key, iv); !errors.As(err, &ce) {
		t.Errorf("Expected ErrCipher for empty ciphertext, got %v", err)
	}
	if _, err := Open(bytes.Repeat([]byte{1}, aes.BlockSize+1), key, iv); !errors.As(err, &ce) {
		t.Errorf("Expected ErrCipher for unaligned ciphertext, got %v", err)
	}
}
