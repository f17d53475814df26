package service

import (
	"context"
	"strings"

	"kycgate/internal/kyc/models"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/privacy"
)

// History lists the user's recorded verifications newest first. An empty
// doc covers every document type; limit is clamped by the ledger.
func (s *Service) History(ctx context.Context, userID string, doc models.DocumentType, limit int) ([]models.HistoryEntry, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if doc != "" {
		if _, ok := models.InitiatingStep(doc); !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown document type")
		}
	}
	records, err := s.ledger.HistoryByUser(ctx, userID, doc, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification history")
	}
	out := make([]models.HistoryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, models.HistoryEntry{
			TaskID:       rec.TaskID,
			Step:         rec.Step,
			DocumentType: rec.DocumentType,
			Status:       rec.Status,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	return out, nil
}

// ValidateIdentifier checks the format of an identifying value for an
// initiating step. The provider is not contacted and nothing is stored. A
// malformed value is reported in the result, not as an error.
func (s *Service) ValidateIdentifier(step models.Step, raw string) (*models.IdentifierCheck, error) {
	if !step.IsInitiating() {
		return nil, dErrors.New(dErrors.CodeValidation, string(step)+" does not take an identifying value")
	}
	normalized, err := models.NormalizeIdentifier(step, raw)
	if err != nil {
		msg := "invalid format"
		if de, ok := dErrors.As(err); ok {
			msg = de.Message
		}
		return &models.IdentifierCheck{
			Step:        step,
			MaskedValue: privacy.Mask(strings.TrimSpace(raw)),
			Message:     msg,
		}, nil
	}
	return &models.IdentifierCheck{
		Step:        step,
		Valid:       true,
		MaskedValue: privacy.Mask(normalized),
		Message:     "valid format",
	}, nil
}
