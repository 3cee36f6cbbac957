package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/config"
	"github.com/wesm/recoverybot/internal/recovery"
	"github.com/wesm/recoverybot/internal/store"
	"github.com/wesm/recoverybot/internal/testutil/ptr"
)

func withPortal(c *config.Config) {
	c.Server.GateSecret = testGateSecret
	c.Server.SessionSecret = testSessionSecret
	c.Server.ArtifactKey = testArtifact
}

func TestCapture(t *testing.T) {
	env := newTestEnv(t, nil)
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.rec.report = &recovery.Report{
		Identity: "owner@example.com",
		Results: map[string]*recovery.Extraction{
			"signInCode":          {Value: "4821", ReceivedAt: received},
			"temporarySignInLink": nil,
		},
		CheckedAt: received.Add(time.Minute),
	}

	w := env.do("POST", "/recovery/capture", `{"email":"owner@example.com"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var got struct {
		Identity string                     `json:"identity"`
		Results  map[string]json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Identity != "owner@example.com" {
		t.Errorf("identity = %q", got.Identity)
	}
	if string(got.Results["temporarySignInLink"]) != "null" {
		t.Errorf("temporarySignInLink = %s, want null", got.Results["temporarySignInLink"])
	}
	if !strings.Contains(string(got.Results["signInCode"]), `"value":"4821"`) {
		t.Errorf("signInCode = %s", got.Results["signInCode"])
	}
	if diff := cmp.Diff([]string{"owner@example.com"}, env.rec.identities); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestCaptureRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"invalid json", `{"email":`},
		{"missing email", `{}`},
		{"not an email", `{"email":"owner"}`},
		{"unknown field", `{"email":"owner@example.com","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/recovery/capture", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if resp := decodeError(t, w); resp.Error != apperr.KindValidation.Code() {
				t.Errorf("error = %q, want %q", resp.Error, apperr.KindValidation.Code())
			}
		})
	}
	if len(env.rec.identities) != 0 {
		t.Errorf("service called %d times for rejected requests", len(env.rec.identities))
	}
}

func TestCaptureErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no relevant messages", apperr.New(apperr.KindNoRelevantMessages, "nothing recent"), http.StatusNotFound},
		{"credential missing", apperr.New(apperr.KindCredentialMissing, "no credential"), http.StatusPreconditionFailed},
		{"credential expired", apperr.New(apperr.KindCredentialExpired, "expired"), http.StatusPreconditionFailed},
		{"backend unavailable", apperr.New(apperr.KindBackendUnavailable, "down"), http.StatusBadGateway},
		{"refresh failure", apperr.New(apperr.KindRefreshFailure, "rejected"), http.StatusBadGateway},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.rec.err = tt.err

			w := env.do("POST", "/recovery/capture", `{"email":"owner@example.com"}`, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			kind := apperr.KindOf(tt.err)
			resp := decodeError(t, w)
			if resp.Error != kind.Code() {
				t.Errorf("error = %q, want %q", resp.Error, kind.Code())
			}
			if resp.Suggestion != kind.Suggestion() {
				t.Errorf("suggestion = %q, want %q", resp.Suggestion, kind.Suggestion())
			}
		})
	}
}

func TestRestoration(t *testing.T) {
	link := "https://www.netflix.com/account/travel/verify?nftoken=abc"

	t.Run("confirmed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do("POST", "/recovery/restoration", `{"link":"`+link+`"}`, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
		if diff := cmp.Diff([]string{link}, env.rec.links); diff != "" {
			t.Errorf("links mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid link", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do("POST", "/recovery/restoration", `{"link":"not a url"}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if len(env.rec.links) != 0 {
			t.Error("service should not be called for an invalid link")
		}
	})

	t.Run("confirmation failed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.rec.confirmErr = apperr.New(apperr.KindConfirmationFailed, "status 500")
		w := env.do("POST", "/recovery/restoration", `{"link":"`+link+`"}`, nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", w.Code)
		}
		if resp := decodeError(t, w); resp.Error != "STATUS 5009" {
			t.Errorf("error = %q, want STATUS 5009", resp.Error)
		}
	})
}

func TestRequestAccessFlow(t *testing.T) {
	env := newTestEnv(t, withPortal)
	env.srv.portal.now = func() time.Time { return portalEpoch }

	gate := signGate(t, testGateSecret, testArtifact, portalEpoch.Add(time.Hour))
	w := env.do("GET", "/auth/request-access?gateToken="+url.QueryEscape(gate), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("request-access status = %d: %s", w.Code, w.Body.String())
	}
	var access AccessResponse
	if err := json.NewDecoder(w.Body).Decode(&access); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if access.PortalToken == "" {
		t.Fatal("empty portal token")
	}
	if !access.ExpiresAt.Equal(portalEpoch.Add(time.Hour)) {
		t.Errorf("expiresAt = %v", access.ExpiresAt)
	}

	w = env.do("GET", "/api/v1/scheduler/status", "", map[string]string{
		"Authorization": "Bearer " + access.PortalToken,
	})
	if w.Code != http.StatusOK {
		t.Errorf("portal route with token status = %d, want 200", w.Code)
	}

	w = env.do("GET", "/api/v1/scheduler/status", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("portal route without token status = %d, want 401", w.Code)
	}
	if resp := decodeError(t, w); resp.Error != "STATUS 002" {
		t.Errorf("error = %q, want STATUS 002", resp.Error)
	}
}

func TestRequestAccessRejectsBadGate(t *testing.T) {
	env := newTestEnv(t, withPortal)
	env.srv.portal.now = func() time.Time { return portalEpoch }

	for name, target := range map[string]string{
		"missing":        "/auth/request-access",
		"wrong artifact": "/auth/request-access?gateToken=" + signGate(t, testGateSecret, "nope", portalEpoch.Add(time.Hour)),
	} {
		t.Run(name, func(t *testing.T) {
			w := env.do("GET", target, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if resp := decodeError(t, w); resp.Error != "STATUS 001" {
				t.Errorf("error = %q, want STATUS 001", resp.Error)
			}
		})
	}
}

func TestRequestAccessDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do("GET", "/auth/request-access?gateToken=x", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.APIKey = "key-123" })

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"x-api-key", map[string]string{"X-API-Key": "key-123"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer key-123"}, http.StatusOK},
		{"wrong key", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"missing", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do("GET", "/api/v1/scheduler/status", "", tt.headers); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestEmailWindow(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/auth/email-window/owner@example.com", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp AuthWindowResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != env.auth.url {
		t.Errorf("url = %q", resp.URL)
	}
	if diff := cmp.Diff([]string{"owner@example.com"}, env.auth.hints); diff != "" {
		t.Errorf("hints mismatch (-want +got):\n%s", diff)
	}

	if w := env.do("GET", "/auth/email-window/not-an-email", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want 400", w.Code)
	}
}

func TestEmailWindowRequiresPortal(t *testing.T) {
	env := newTestEnv(t, withPortal)
	if w := env.do("GET", "/auth/email-window/owner@example.com", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(env.auth.hints) != 0 {
		t.Error("authorizer should not be called without portal access")
	}
}

func TestAuthCallback(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do("GET", "/auth/email-registry-account?code=c1&state=s1", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var resp AuthorizedResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Identity != "owner@example.com" || resp.Status != "authorized" {
			t.Errorf("response = %+v", resp)
		}
		if diff := cmp.Diff([]string{"c1/s1"}, env.auth.codes); diff != "" {
			t.Errorf("codes mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do("GET", "/auth/email-registry-account?error=access_denied&error_description=denied", "", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if len(env.auth.codes) != 0 {
			t.Error("Approve should not be called on provider error")
		}
	})

	t.Run("missing code", func(t *testing.T) {
		env := newTestEnv(t, nil)
		if w := env.do("GET", "/auth/email-registry-account?state=s1", "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("bad state", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.auth.err = apperr.New(apperr.KindValidation, "unknown or already used state parameter")
		if w := env.do("GET", "/auth/email-registry-account?code=c1&state=zz", "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestExportCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.srv.now = func() time.Time { return now }
	env.creds.creds = []store.Credential{
		{
			Provider:     "microsoft",
			UserIdentity: "owner@example.com",
			AccessToken:  "eyJ0eXAiOiJKV1QiLCJhbGciOi",
			RefreshToken: "short",
			Scope:        "Mail.Read",
			ExpiresAt:    ptr.Time(now.Add(10 * time.Minute)),
			UpdatedAt:    now.Add(-time.Hour),
		},
		{
			Provider:     "microsoft",
			UserIdentity: "other@example.com",
			AccessToken:  "at",
			RefreshToken: "rt",
			UpdatedAt:    now,
		},
	}

	w := env.do("GET", "/api/v1/credentials/export", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}

	records, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	want := [][]string{
		exportHeader,
		{"owner@example.com", "microsoft", "Mail.Read", "2026-03-01T12:10:00Z", "refresh_soon",
			"eyJ0********ciOi", "*****", "2026-03-01T11:00:00Z"},
		{"other@example.com", "microsoft", "", "", "expired", "**", "**", "2026-03-01T12:00:00Z"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(w.Body.String(), "eyJ0eXAiOiJKV1QiLCJhbGciOi") {
		t.Error("export leaked a raw token")
	}
}

func TestExportCredentialsStoreFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.creds.err = errors.New("database is locked")
	if w := env.do("GET", "/api/v1/credentials/export", "", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSchedulerStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	next := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	env.sched.statuses = []IdentityStatus{
		{Identity: "owner@example.com", Schedule: "*/10 * * * *", NextRun: next},
	}

	w := env.do("GET", "/api/v1/scheduler/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SchedulerStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Running {
		t.Error("running = false, want true")
	}
	if diff := cmp.Diff(env.sched.statuses, resp.Identities); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestTriggerRefresh(t *testing.T) {
	tests := []struct {
		name      string
		scheduled bool
		triggerFn func(string) error
		want      int
	}{
		{"accepted", true, nil, http.StatusAccepted},
		{"not scheduled", false, nil, http.StatusNotFound},
		{"already running", true, func(string) error { return errors.New("refresh already running") }, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.sched.scheduled["owner@example.com"] = tt.scheduled
			env.sched.triggerFn = tt.triggerFn
			if w := env.do("POST", "/api/v1/scheduler/refresh/Owner@Example.com", "", nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNilCollaboratorsAreUnavailable(t *testing.T) {
	srv := NewServer(testConfig(t), Deps{}, nil)
	t.Cleanup(srv.rateLimiter.Close)

	env := &testEnv{srv: srv}
	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/recovery/capture", `{"email":"owner@example.com"}`},
		{"POST", "/recovery/restoration", `{"link":"https://example.com/x"}`},
		{"GET", "/auth/email-window/owner@example.com", ""},
		{"GET", "/api/v1/credentials/export", ""},
		{"GET", "/api/v1/scheduler/status", ""},
	} {
		if w := env.do(tc.method, tc.path, tc.body, nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503", tc.method, tc.path, w.Code)
		}
	}
}
