package util

import (
	"testing"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID() returned error: %v", err)
		}
		if len(id) != idLength {
			t.Fatalf("NewID() = %q, want %d characters", id, idLength)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("NewID() returned duplicate %q", id)
		}
		seen[id] = struct{}{}
	}
}
