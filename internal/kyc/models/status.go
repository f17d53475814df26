package models

import "strings"

// Status of a verification task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOTPSent  Status = "otp_sent"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether no further transitions are allowed.
// Failed is terminal for its task; retrying needs a new task.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo enforces pending -> otp_sent -> verified, pending -> verified,
// and any non-terminal state -> failed|expired. Self transitions on
// non-terminal states are allowed so repeated provider updates are harmless.
// Step.AllowsTransition narrows this per family.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusFailed, StatusExpired, StatusVerified:
		return true
	case StatusOTPSent:
		return s == StatusPending || s == StatusOTPSent
	case StatusPending:
		return s == StatusPending
	default:
		return false
	}
}

// FromProvider maps a provider status string onto a task status. ok is false
// for statuses that carry no state change (in progress, unknown).
func FromProvider(providerStatus string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "completed", "success", "verified", "valid":
		return StatusVerified, true
	case "failed", "rejected", "invalid", "error":
		return StatusFailed, true
	case "otp_sent", "otp_generated":
		return StatusOTPSent, true
	case "expired":
		return StatusExpired, true
	default:
		return "", false
	}
}
