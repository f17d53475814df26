package service

import (
	"context"
	"errors"

	"kycgate/internal/kyc/provider"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/sentinel"
)

var errTaskNotFound = dErrors.New(dErrors.CodeNotFound, "verification task not found")

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
		return errTaskNotFound
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification task")
	}
}

func translateProviderError(err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return dErrors.WithReason(err, dErrors.CodeProvider, string(pe.Reason), pe.SafeMessage())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "the verification provider timed out")
	}
	return dErrors.WithReason(err, dErrors.CodeProvider, string(provider.ReasonUnavailable), "the verification provider is unavailable")
}
