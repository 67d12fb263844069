package storage

import (
	"path/filepath"
	"testing"

	"blogane-live/internal/models"
)

func newTestStore(t *testing.T, extra ...Option) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewJSONStorage(path, extra...)
	if err != nil {
		t.Fatalf("NewJSONStorage error: %v", err)
	}
	return store
}

func mustRegister(t *testing.T, store *Storage, email, name string) models.Identity {
	t.Helper()
	identity, err := store.RegisterIdentity(RegisterParams{Email: email, Name: name, Password: "secret"})
	if err != nil {
		t.Fatalf("RegisterIdentity(%s): %v", email, err)
	}
	return identity
}

func storePath(store *Storage) string {
	return store.persister.(*FilePersister).Path()
}
