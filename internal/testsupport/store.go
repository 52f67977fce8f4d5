package testsupport

import (
	"context"
	"testing"

	"caster/internal/config"
	"caster/internal/recordings"
)

// MustOpenStore opens a recordings.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *recordings.Store {
	t.Helper()

	store, err := recordings.Open(cfg)
	if err != nil {
		t.Fatalf("recordings.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Reserve creates a pending recording for tests using the provided store.
func Reserve(t testing.TB, store *recordings.Store, mediaID, artifactPath string) *recordings.Recording {
	t.Helper()

	rec, err := store.Reserve(context.Background(), mediaID, "user-1", "workspace-1", "", artifactPath)
	if err != nil {
		t.Fatalf("store.Reserve: %v", err)
	}
	return rec
}
