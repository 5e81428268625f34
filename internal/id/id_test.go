package id

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIsUniqueUUID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v := New()
		if _, err := uuid.Parse(v); err != nil {
			t.Fatalf("id %q is not a uuid: %v", v, err)
		}
		if seen[v] {
			t.Fatalf("duplicate id %q", v)
		}
		seen[v] = true
	}
}
