package boltstore

import (
	"path/filepath"
	"testing"

	"talaria/internal/temporal"
	"talaria/internal/temporal/storetest"
)

func TestBoltstoreConformance(t *testing.T) {
	storetest.TestIndex(t, func(t *testing.T) temporal.Index {
		dir := t.TempDir()
		s, err := Open(Config{Path: filepath.Join(dir, "temporal.db")})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
