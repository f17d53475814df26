package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason classifies a provider failure.
type Reason string

const (
	ReasonInvalidInput Reason = "invalid_input"
	ReasonAuthFailure  Reason = "auth_failure"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonUnavailable  Reason = "unavailable"
)

// Error is a classified provider failure. Detail holds provider text for
// logs only; SafeMessage is the only part fit for clients.
type Error struct {
	Reason     Reason
	ProviderID string
	StatusCode int
	Detail     string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Reason, e.Detail, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Reason, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Reason == ReasonRateLimited || e.Reason == ReasonUnavailable
}

// SafeMessage is a provider-agnostic description for clients.
func (e *Error) SafeMessage() string {
	switch e.Reason {
	case ReasonInvalidInput:
		return "the verification provider rejected the submitted details"
	case ReasonAuthFailure:
		return "the verification service is misconfigured"
	case ReasonRateLimited:
		return "the verification provider is busy, try again shortly"
	default:
		return "the verification provider is unavailable"
	}
}

func NewError(reason Reason, providerID, detail string, underlying error) *Error {
	return &Error{Reason: reason, ProviderID: providerID, Detail: detail, Underlying: underlying}
}

// ReasonForStatus maps a non-2xx HTTP status to a failure reason.
func ReasonForStatus(status int) Reason {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusNotFound:
		return ReasonInvalidInput
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ReasonAuthFailure
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited
	default:
		return ReasonUnavailable
	}
}

// ReasonOf extracts the reason from err, defaulting to unavailable.
func ReasonOf(err error) Reason {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonUnavailable
}
