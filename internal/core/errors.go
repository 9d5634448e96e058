package core

import (
	"errors"
	"fmt"
)

// Denial reasons. The Access Gate surfaces all of them externally as the same
// opaque not-found response; the specific reason is only recorded internally.
var (
	// ErrTokenNotFound means the presented token matches no device.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenRevoked means the presented token was valid once but has been
	// rotated away.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrIPNotAllowed means the source IP is outside the device's allow-list.
	ErrIPNotAllowed = errors.New("ip not allowed")
	// ErrDeviceDisabled means the device exists but is disabled.
	ErrDeviceDisabled = errors.New("device disabled")
	// ErrRateLimited means the source IP exceeded the failed-lookup budget.
	ErrRateLimited = errors.New("rate limited")
)

// ErrNotFound is returned by lookups for entities that do not exist.
var ErrNotFound = errors.New("not found")

// RuleConflictError reports a duplicate priority within one scope. It is
// surfaced synchronously to the administrative caller so the rule set can be
// corrected.
type RuleConflictError struct {
	Scope    string
	Priority int
}

func (e *RuleConflictError) Error() string {
	return fmt.Sprintf("duplicate priority %d in scope %q", e.Priority, e.Scope)
}

// DenialReason maps a denial error to the reason code stored in usage records.
// Unknown errors map to "internal_error".
func DenialReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrIPNotAllowed):
		return "ip_not_allowed"
	case errors.Is(err, ErrDeviceDisabled):
		return "disabled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal_error"
	}
}
