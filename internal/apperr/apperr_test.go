package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestKindMetadata(t *testing.T) {
	tests := []struct {
		kind   Kind
		code   string
		status int
	}{
		{KindValidation, "STATUS 5006", http.StatusBadRequest},
		{KindCredentialMissing, "STATUS 5005", http.StatusPreconditionFailed},
		{KindCredentialExpired, "STATUS 5008", http.StatusPreconditionFailed},
		{KindRefreshFailure, "STATUS 3011", http.StatusBadGateway},
		{KindBackendUnavailable, "STATUS 5007", http.StatusBadGateway},
		{KindNoRelevantMessages, "STATUS 3013", http.StatusNotFound},
		{KindConfirmationFailed, "STATUS 5009", http.StatusBadGateway},
		{KindMissingGateToken, "STATUS 001", http.StatusUnauthorized},
		{Kind(999), "STATUS 005", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Code(); got != tt.code {
				t.Errorf("Code() = %q, want %q", got, tt.code)
			}
			if got := tt.kind.HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
			if tt.kind.Suggestion() == "" {
				t.Error("Suggestion() is empty")
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransport, cause, "list messages")

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(err, cause) = false")
	}
	if !strings.Contains(err.Error(), "list messages") || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, want message and cause", err.Error())
	}
	if err.Message != "list messages" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestKindOfOutermost(t *testing.T) {
	inner := New(KindTransport, "status %d", 503)
	outer := Wrap(KindBackendUnavailable, inner, "mailbox read failed after %d attempts", 2)

	if got := KindOf(outer); got != KindBackendUnavailable {
		t.Errorf("KindOf(outer) = %v, want backend_unavailable", got)
	}
	if got := KindOf(fmt.Errorf("context: %w", inner)); got != KindTransport {
		t.Errorf("KindOf(wrapped inner) = %v, want transport", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %v, want internal", got)
	}
	if IsKind(nil, KindInternal) {
		t.Error("IsKind(nil) = true")
	}
}

func TestTrace(t *testing.T) {
	if Trace(nil) != "" {
		t.Error("Trace(nil) should be empty")
	}
	if got := Trace(New(KindInternal, "boom")); !strings.Contains(got, "boom") {
		t.Errorf("Trace() = %q, want it to mention boom", got)
	}
}
