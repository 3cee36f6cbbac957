package api

import (
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/recovery"
	"github.com/wesm/recoverybot/internal/store"
)

var exportHeader = []string{
	"identity", "provider", "scope", "expires_at", "status",
	"access_token", "refresh_token", "updated_at",
}

// maskToken keeps the first and last four characters of tokens long enough
// to still hide most of their content.
func maskToken(tok string) string {
	if len(tok) <= 12 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", 8) + tok[len(tok)-4:]
}

func exportRow(c store.Credential, warning time.Duration, now time.Time) []string {
	expires := ""
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return []string{
		c.UserIdentity,
		c.Provider,
		c.Scope,
		expires,
		recovery.NeedsRefresh(c.ExpiresAt, warning, now).String(),
		maskToken(c.AccessToken),
		maskToken(c.RefreshToken),
		c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleExportCredentials streams credential metadata as CSV.
func (s *Server) handleExportCredentials(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil {
		s.unavailable(w, "credential store")
		return
	}
	creds, err := s.deps.Credentials.ListTokens(r.Context())
	if err != nil {
		s.writeAppError(w, r, apperr.Wrap(apperr.KindInternal, err, "list credentials"))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="credentials.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	now := s.now()
	warning := s.cfg.RefreshWarning()
	for _, c := range creds {
		_ = cw.Write(exportRow(c, warning, now))
	}
	cw.Flush()
}
