package memstore

import (
	"testing"

	"talaria/internal/manifest"
	"talaria/internal/manifest/storetest"
)

func TestMemstoreConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) manifest.Store {
		return New()
	})
}
