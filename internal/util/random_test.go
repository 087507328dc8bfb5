package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantLength int
	}{
		{"job ID format", "job_", 32, 36},
		{"outbox ID format", "outbox_", 32, 39},
		{"custom prefix", "test_", 16, 21},
		{"empty hex", "x_", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.prefix)
			}
			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}
			if !isValidHex(got[len(tt.prefix):]) {
				t.Errorf("GenerateRandomID() hex part of %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	for _, length := range []int{-1, 0, 8, 64} {
		got := GenerateRandomHex(length)
		want := length
		if want < 0 {
			want = 0
		}
		if len(got) != want {
			t.Errorf("GenerateRandomHex(%d) length = %d", length, len(got))
		}
		if !isValidHex(got) {
			t.Errorf("GenerateRandomHex(%d) = %v is not valid hex", length, got)
		}
	}
}

func TestGeneratePrefixedIDs(t *testing.T) {
	if id := GenerateJobID(); !strings.HasPrefix(id, "job_") || len(id) != 36 {
		t.Errorf("GenerateJobID() = %v", id)
	}
	if id := GenerateOutboxID(); !strings.HasPrefix(id, "outbox_") || len(id) != 39 {
		t.Errorf("GenerateOutboxID() = %v", id)
	}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateJobID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %v", id)
		}
		seen[id] = true
	}
}

func isValidHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
