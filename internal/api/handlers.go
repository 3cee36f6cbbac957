package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/wesm/recoverybot/internal/apperr"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// AccessResponse is returned by the gate exchange.
type AccessResponse struct {
	PortalToken string    `json:"portalToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AuthWindowResponse carries the provider authorize URL.
type AuthWindowResponse struct {
	URL string `json:"url"`
}

// AuthorizedResponse is returned after a successful authorization callback.
type AuthorizedResponse struct {
	Identity string `json:"identity"`
	Status   string `json:"status"`
}

// CaptureRequest asks for the recovery payloads of one mailbox.
type CaptureRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RestorationRequest asks to confirm a recovery link.
type RestorationRequest struct {
	Link string `json:"link" validate:"required,url"`
}

// SchedulerStatusResponse represents the scheduler status.
type SchedulerStatusResponse struct {
	Running    bool             `json:"running"`
	Identities []IdentityStatus `json:"identities"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message, suggestion string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, Suggestion: suggestion})
}

// writeAppError maps err to its kind's status, code and suggestion. Server
// side failures are logged with their trace.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	message := "internal error"
	var e *apperr.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", kind.String()),
			zap.String("trace", apperr.Trace(err)),
		)
	} else {
		s.logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	}
	writeError(w, status, kind.Code(), message, kind.Suggestion())
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, "unavailable", what+" is not configured", "")
}

// decodeBody decodes a JSON body into dst and validates it.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "request body is not valid JSON")
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return apperr.Wrap(apperr.KindValidation, err, "invalid fields: %s", strings.Join(fields, ", "))
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleRequestAccess exchanges a gate token for a portal token.
func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	if s.portal == nil {
		writeError(w, http.StatusNotFound, "portal_disabled", "The portal gate is not configured", "")
		return
	}
	if err := s.portal.VerifyGate(r.URL.Query().Get("gateToken")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	token, exp, err := s.portal.Issue()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccessResponse{PortalToken: token, ExpiresAt: exp})
}

// handleEmailWindow returns the provider authorize URL for a mailbox.
func (s *Server) handleEmailWindow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		s.unavailable(w, "authorization")
		return
	}
	email := strings.TrimSpace(chi.URLParam(r, "email"))
	if err := s.validate.Var(email, "required,email"); err != nil {
		s.writeAppError(w, r, apperr.Wrap(apperr.KindValidation, err, "email is not a valid address"))
		return
	}
	url, err := s.deps.Auth.AuthCodeURL(r.Context(), email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthWindowResponse{URL: url})
}

// handleAuthCallback completes the authorization code flow.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		s.unavailable(w, "authorization")
		return
	}
	q := r.URL.Query()
	if provErr := q.Get("error"); provErr != "" {
		s.writeAppError(w, r, apperr.New(apperr.KindValidation, "provider returned %s: %s", provErr, q.Get("error_description")))
		return
	}
	code := q.Get("code")
	if code == "" {
		s.writeAppError(w, r, apperr.New(apperr.KindValidation, "code parameter is missing"))
		return
	}
	identity, err := s.deps.Auth.Approve(r.Context(), code, q.Get("state"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.logger.Info("mailbox authorized", zap.String("identity", identity))
	writeJSON(w, http.StatusOK, AuthorizedResponse{Identity: identity, Status: "authorized"})
}

// handleCapture runs introspection for one mailbox.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recovery == nil {
		s.unavailable(w, "recovery")
		return
	}
	var req CaptureRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	report, err := s.deps.Recovery.Introspect(r.Context(), req.Email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRestoration confirms a recovery link.
func (s *Server) handleRestoration(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recovery == nil {
		s.unavailable(w, "recovery")
		return
	}
	var req RestorationRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.deps.Recovery.ConfirmRecovery(r.Context(), req.Link); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.unavailable(w, "scheduler")
		return
	}
	statuses := s.deps.Scheduler.Status()
	if statuses == nil {
		statuses = []IdentityStatus{}
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running:    s.deps.Scheduler.IsRunning(),
		Identities: statuses,
	})
}

// handleTriggerRefresh starts an out-of-schedule refresh for one identity.
func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.unavailable(w, "scheduler")
		return
	}
	identity := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
	if identity == "" {
		writeError(w, http.StatusBadRequest, apperr.KindValidation.Code(), "identity is required", "")
		return
	}
	if !s.deps.Scheduler.IsScheduled(identity) {
		writeError(w, http.StatusNotFound, "not_scheduled", "Identity "+identity+" has no refresh schedule", "")
		return
	}
	if err := s.deps.Scheduler.TriggerRefresh(identity); err != nil {
		writeError(w, http.StatusConflict, "refresh_error", err.Error(), "")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"identity": identity,
	})
}
