// Package testutil provides shared test helpers: a temporary session store
// and an in-memory fake of the paper backend.
package testutil

import (
	"testing"

	"github.com/starford/paperlens/internal/storage"
)

// TestKV creates a temporary file-backed key-value store.
func TestKV(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}
