package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/recoverybot/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t testing.TB) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})

	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}

// SeedCredential stores a credential expiring after ttl and returns it.
// A zero ttl stores the credential without an expiry.
func SeedCredential(t testing.TB, tokens *store.TokenStore, identity, refreshToken, accessToken string, ttl time.Duration) *store.Credential {
	t.Helper()
	ctx := context.Background()

	var expiry *time.Time
	if ttl != 0 {
		e := time.Now().Add(ttl)
		expiry = &e
	}
	MustNoErr(t, tokens.UpsertToken(ctx, identity, refreshToken, accessToken, expiry, ""), "seed credential")

	cred, err := tokens.GetToken(ctx, identity)
	MustNoErr(t, err, "load seeded credential")
	return cred
}
