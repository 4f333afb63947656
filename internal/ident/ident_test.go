package ident

import (
	"errors"
	"strings"
	"testing"
)

func TestIssue(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := Issue()
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if len(id) != CompactLength {
			t.Fatalf("Expected %d chars, got %d (%q)", CompactLength, len(id), id)
		}
		if Classify(id) != IDCompact {
			t.Fatalf("Issued id %q did not classify as compact", id)
		}
		if seen[id] {
			t.Fatalf("Issued duplicate id %q within 100 draws", id)
		}
		seen[id] = true
	}
}

func TestIssueUnused(t *testing.T) {
	t.Run("first attempt free", func(t *testing.T) {
		calls := 0
		id, err := IssueUnused(func(string) (bool, error) {
			calls++
			return false, nil
		})
		if err != nil {
			t.Fatalf("IssueUnused failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected one existence probe, got %d", calls)
		}
		if !Validate(id) {
			t.Errorf("Issued id %q is not valid", id)
		}
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		calls := 0
		_, err := IssueUnused(func(string) (bool, error) {
			calls++
			return calls < 3, nil
		})
		if err != nil {
			t.Fatalf("IssueUnused failed: %v", err)
		}
		if calls != 3 {
			t.Errorf("Expected three probes, got %d", calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		_, err := IssueUnused(func(string) (bool, error) {
			return true, nil
		})
		var collision *ErrIDCollision
		if !errors.As(err, &collision) {
			t.Fatalf("Expected ErrIDCollision, got %v", err)
		}
		if collision.Attempts != 3 {
			t.Errorf("Expected 3 attempts recorded, got %d", collision.Attempts)
		}
	})

	t.Run("probe error propagates", func(t *testing.T) {
		boom := errors.New("store down")
		_, err := IssueUnused(func(string) (bool, error) {
			return false, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected probe error, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		id   string
		want IDFormat
	}{
		{"compact", "aB3xYz09QwEr", IDCompact},
		{"legacy uuid", "123e4567-e89b-12d3-a456-426614174000", IDLegacy},
		{"uppercase legacy uuid", "123E4567-E89B-12D3-A456-426614174000", IDLegacy},
		{"too short", "abc", IDInvalid},
		{"compact length, bad symbol", "aB3xYz09QwE_", IDInvalid},
		{"legacy length, not a uuid", strings.Repeat("z", 36), IDInvalid},
		{"empty", "", IDInvalid},
		{"thirteen chars", "aB3xYz09QwErX", IDInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.id); got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.id, got, tc.want)
			}
			if Validate(tc.id) != (tc.want != IDInvalid) {
				t.Errorf("Validate(%q) disagrees with Classify", tc.id)
			}
		})
	}
}
