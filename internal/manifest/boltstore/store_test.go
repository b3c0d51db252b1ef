package boltstore

import (
	"path/filepath"
	"testing"

	"talaria/internal/manifest"
	"talaria/internal/manifest/storetest"
)

func TestBoltstoreConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) manifest.Store {
		dir := t.TempDir()
		s, err := Open(Config{Path: filepath.Join(dir, "manifests.db")})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
