package recovery

import "time"

// Decision is the outcome of the expiry policy.
type Decision int

const (
	// Valid means the access token can be used as is.
	Valid Decision = iota
	// ExpiredMustFail means there is no usable access token.
	ExpiredMustFail
	// RefreshSoon means the token still works but expires within the
	// warning window.
	RefreshSoon
)

func (d Decision) String() string {
	switch d {
	case Valid:
		return "valid"
	case ExpiredMustFail:
		return "expired"
	case RefreshSoon:
		return "refresh_soon"
	default:
		return "unknown"
	}
}

// NeedsRefresh classifies an access token expiry against now. A nil expiry
// counts as expired.
func NeedsRefresh(expiry *time.Time, warningWindow time.Duration, now time.Time) Decision {
	if expiry == nil || !expiry.After(now) {
		return ExpiredMustFail
	}
	if expiry.Sub(now) <= warningWindow {
		return RefreshSoon
	}
	return Valid
}
