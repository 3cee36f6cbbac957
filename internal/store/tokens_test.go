package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/store"
	"github.com/wesm/recoverybot/internal/testutil"
	"github.com/wesm/recoverybot/internal/testutil/ptr"
)

func TestUpsertTokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tokens := testutil.NewTestStore(t).Tokens("microsoft")

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	testutil.MustNoErr(t, tokens.UpsertToken(ctx, "owner@example.com", "rt-1", "at-1", &first, "Mail.Read"), "first upsert")
	testutil.MustNoErr(t, tokens.UpsertToken(ctx, "owner@example.com", "rt-2", "at-2", &second, "Mail.Read User.Read"), "second upsert")

	all, err := tokens.ListTokens(ctx)
	testutil.MustNoErr(t, err, "ListTokens")
	if len(all) != 1 {
		t.Fatalf("len(ListTokens) = %d, want 1", len(all))
	}

	got, err := tokens.GetToken(ctx, "owner@example.com")
	testutil.MustNoErr(t, err, "GetToken")
	if got == nil {
		t.Fatal("GetToken returned nil")
	}
	if got.RefreshToken != "rt-2" || got.AccessToken != "at-2" {
		t.Errorf("tokens = (%q, %q), want (rt-2, at-2)", got.RefreshToken, got.AccessToken)
	}
	if got.Scope != "Mail.Read User.Read" {
		t.Errorf("Scope = %q", got.Scope)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(second) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, second)
	}
	if got.Provider != "microsoft" {
		t.Errorf("Provider = %q", got.Provider)
	}
}

func TestUpsertTokenClearsOptionalFields(t *testing.T) {
	ctx := context.Background()
	tokens := testutil.NewTestStore(t).Tokens("microsoft")

	testutil.MustNoErr(t, tokens.UpsertToken(ctx, "a@example.com", "rt", "at", ptr.Time(time.Now().Add(time.Hour)), "Mail.Read"), "upsert")
	testutil.MustNoErr(t, tokens.UpsertToken(ctx, "a@example.com", "rt", "at", nil, ""), "upsert without expiry")

	got, err := tokens.GetToken(ctx, "a@example.com")
	testutil.MustNoErr(t, err, "GetToken")
	if got.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", got.ExpiresAt)
	}
	if got.Scope != "" {
		t.Errorf("Scope = %q, want empty", got.Scope)
	}
}

func TestUpsertTokenValidation(t *testing.T) {
	ctx := context.Background()
	tokens := testutil.NewTestStore(t).Tokens("microsoft")

	tests := []struct {
		name     string
		identity string
		refresh  string
		access   string
	}{
		{"missing identity", " ", "rt", "at"},
		{"missing refresh token", "a@example.com", "", "at"},
		{"missing access token", "a@example.com", "rt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tokens.UpsertToken(ctx, tt.identity, tt.refresh, tt.access, nil, "")
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("UpsertToken() = %v, want validation error", err)
			}
		})
	}

	all, err := tokens.ListTokens(ctx)
	testutil.MustNoErr(t, err, "ListTokens")
	if len(all) != 0 {
		t.Errorf("rejected upserts persisted %d rows", len(all))
	}
}

func TestGetTokenAbsentAndNormalized(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	tokens := st.Tokens("microsoft")

	got, err := tokens.GetToken(ctx, "nobody@example.com")
	testutil.MustNoErr(t, err, "GetToken absent")
	if got != nil {
		t.Fatalf("GetToken() = %+v, want nil", got)
	}

	testutil.MustNoErr(t, tokens.UpsertToken(ctx, "Owner@Example.com ", "rt", "at", nil, ""), "upsert")
	got, err = tokens.GetToken(ctx, "owner@example.com")
	testutil.MustNoErr(t, err, "GetToken normalized")
	if got == nil || got.UserIdentity != "owner@example.com" {
		t.Fatalf("GetToken() = %+v, want normalized identity", got)
	}

	// Same identity under another provider is a separate record.
	other, err := st.Tokens("google").GetToken(ctx, "owner@example.com")
	testutil.MustNoErr(t, err, "GetToken other provider")
	if other != nil {
		t.Errorf("other provider returned %+v, want nil", other)
	}

	if _, err := tokens.GetToken(ctx, ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("GetToken(\"\") = %v, want validation error", err)
	}
}

func TestOAuthStatesAreSingleUse(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)

	testutil.MustNoErr(t, st.SaveState(ctx, "nonce-1", "owner@example.com", time.Minute), "SaveState")

	got, err := st.ConsumeState(ctx, "nonce-1")
	testutil.MustNoErr(t, err, "ConsumeState")
	if got.LoginHint != "owner@example.com" {
		t.Errorf("LoginHint = %q", got.LoginHint)
	}

	if _, err := st.ConsumeState(ctx, "nonce-1"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("second ConsumeState = %v, want validation error", err)
	}
	if _, err := st.ConsumeState(ctx, "never-issued"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("unknown ConsumeState = %v, want validation error", err)
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)

	testutil.MustNoErr(t, st.SaveState(ctx, "stale", "", -time.Second), "SaveState stale")
	testutil.MustNoErr(t, st.SaveState(ctx, "fresh", "", time.Hour), "SaveState fresh")

	if _, err := st.ConsumeState(ctx, "stale"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("ConsumeState(stale) = %v, want validation error", err)
	}

	testutil.MustNoErr(t, st.SaveState(ctx, "stale-2", "", -time.Second), "SaveState stale-2")
	n, err := st.PurgeExpiredStates(ctx)
	testutil.MustNoErr(t, err, "PurgeExpiredStates")
	if n != 1 {
		t.Errorf("PurgeExpiredStates() = %d, want 1", n)
	}

	stats, err := st.GetStats(ctx)
	testutil.MustNoErr(t, err, "GetStats")
	if stats.PendingStates != 1 {
		t.Errorf("PendingStates = %d, want 1", stats.PendingStates)
	}
}

func TestNormalizeIdentity(t *testing.T) {
	if got := store.NormalizeIdentity("  Mixed@Case.COM\t"); got != "mixed@case.com" {
		t.Errorf("NormalizeIdentity() = %q", got)
	}
}
