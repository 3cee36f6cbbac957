package recovery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/testutil"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind apperr.Kind
		wantErr  bool
	}{
		{"accepted", http.StatusOK, 0, false},
		{"no content", http.StatusNoContent, 0, false},
		{"server error", http.StatusInternalServerError, apperr.KindConfirmationFailed, true},
		{"link already used", http.StatusGone, apperr.KindConfirmationFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if r.Method != http.MethodPost {
					t.Errorf("method = %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q", ct)
				}
				if body, _ := io.ReadAll(r.Body); string(body) != "{}" {
					t.Errorf("body = %q", body)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewDispatcher(srv.Client(), nil).Confirm(context.Background(), srv.URL+"/account/travel/verify?nftoken=x")
			if tt.wantErr {
				testutil.AssertKind(t, err, tt.wantKind)
			} else {
				testutil.MustNoErr(t, err, "Confirm")
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("server saw %d requests, want exactly 1", n)
			}
		})
	}
}

func TestConfirmInvalidLink(t *testing.T) {
	d := NewDispatcher(nil, nil)
	for _, link := range []string{"", "not a url", "ftp://example.com/x", "/relative/path", "https://"} {
		if err := d.Confirm(context.Background(), link); !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("Confirm(%q) = %v, want validation error", link, err)
		}
	}
}

func TestConfirmTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewDispatcher(nil, nil).Confirm(context.Background(), url)
	testutil.AssertKind(t, err, apperr.KindConfirmationFailed)
	if got := apperr.KindOf(err).Suggestion(); got == "" {
		t.Error("confirmation failures should carry a suggestion")
	}
}
