package testutil

import (
	"strings"
	"testing"

	"github.com/wesm/recoverybot/internal/apperr"
)

// MustNoErr fails the test immediately if err is non-nil.
// Use this for setup operations where failure means the test cannot proceed.
func MustNoErr(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertKind fails the test unless err is classified as kind.
func AssertKind(t testing.TB, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %s", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, kind, err)
	}
}

// AssertContainsAll asserts that got contains every substring in subs.
func AssertContainsAll(t testing.TB, got string, subs ...string) {
	t.Helper()
	for _, substr := range subs {
		if !strings.Contains(got, substr) {
			t.Errorf("result %q should contain %q", got, substr)
		}
	}
}
