// Package apperr defines the error taxonomy shared by recoverybot components.
//
// Every error that crosses a component boundary is an *Error carrying a Kind.
// The Kind determines the stable status code shown to operators, the HTTP
// status used by the API, and the remediation suggestion.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindCredentialMissing
	KindCredentialExpired
	KindRefreshFailure
	KindTransport
	KindBackendUnavailable
	KindNoRelevantMessages
	KindConfirmationFailed
	KindMissingGateToken
	KindMissingPortalAccess
)

type kindInfo struct {
	name       string
	code       string
	status     int
	suggestion string
}

var kinds = map[Kind]kindInfo{
	KindInternal: {
		name:       "internal",
		code:       "STATUS 005",
		status:     http.StatusInternalServerError,
		suggestion: "Something failed internally. Try again in 5 minutes and contact support with the error code if it persists.",
	},
	KindValidation: {
		name:       "validation",
		code:       "STATUS 5006",
		status:     http.StatusBadRequest,
		suggestion: "The request or the stored credential is incomplete. Check the input, or re-authorize the mailbox from the portal.",
	},
	KindCredentialMissing: {
		name:       "credential_missing",
		code:       "STATUS 5005",
		status:     http.StatusPreconditionFailed,
		suggestion: "No credential is stored for this mailbox. Open the portal and authorize the mailbox again.",
	},
	KindCredentialExpired: {
		name:       "credential_expired",
		code:       "STATUS 5008",
		status:     http.StatusPreconditionFailed,
		suggestion: "The stored access token has expired. Open the portal and authorize the mailbox again.",
	},
	KindRefreshFailure: {
		name:       "refresh_failure",
		code:       "STATUS 3011",
		status:     http.StatusBadGateway,
		suggestion: "The provider rejected the refresh token. Re-authorize from the portal gate.",
	},
	KindTransport: {
		name:       "transport",
		code:       "STATUS 3012",
		status:     http.StatusBadGateway,
		suggestion: "The mailbox could not be read. Retry shortly and confirm the mailbox permissions.",
	},
	KindBackendUnavailable: {
		name:       "backend_unavailable",
		code:       "STATUS 5007",
		status:     http.StatusBadGateway,
		suggestion: "The mailbox provider did not answer after several attempts. Try again in a few minutes.",
	},
	KindNoRelevantMessages: {
		name:       "no_relevant_messages",
		code:       "STATUS 3013",
		status:     http.StatusNotFound,
		suggestion: "No recent recovery email was found. Request a new code or link and try again in a few minutes.",
	},
	KindConfirmationFailed: {
		name:       "confirmation_failed",
		code:       "STATUS 5009",
		status:     http.StatusBadGateway,
		suggestion: "Recovery confirmation failed. Wait 3 minutes and retry.",
	},
	KindMissingGateToken: {
		name:       "missing_gate_token",
		code:       "STATUS 001",
		status:     http.StatusUnauthorized,
		suggestion: "Review the gate token, type it correctly and submit it again.",
	},
	KindMissingPortalAccess: {
		name:       "missing_portal_access",
		code:       "STATUS 002",
		status:     http.StatusUnauthorized,
		suggestion: "The portal token is missing or expired. Enter through the gate again.",
	},
}

func (k Kind) info() kindInfo {
	if info, ok := kinds[k]; ok {
		return info
	}
	return kinds[KindInternal]
}

// String returns the snake_case name of the kind.
func (k Kind) String() string { return k.info().name }

// Code returns the operator-facing status code.
func (k Kind) Code() string { return k.info().code }

// HTTPStatus returns the HTTP status the API responds with.
func (k Kind) HTTPStatus() int { return k.info().status }

// Suggestion returns the remediation text for the kind.
func (k Kind) Suggestion() string { return k.info().suggestion }

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// Code returns the status code of the error's kind.
func (e *Error) Code() string { return e.Kind.Code() }

// Suggestion returns the remediation text of the error's kind.
func (e *Error) Suggestion() string { return e.Kind.Suggestion() }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Message: msg, err: eris.New(msg)}
}

// Wrap classifies cause under kind. A nil cause yields a plain New error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return &Error{Kind: kind, Message: msg, err: eris.New(msg)}
	}
	return &Error{Kind: kind, Message: msg, err: eris.Wrap(cause, msg)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the outermost *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Trace renders err with its stack for logging.
func Trace(err error) string {
	if err == nil {
		return ""
	}
	return eris.ToString(err, true)
}
