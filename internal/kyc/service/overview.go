package service

import (
	"context"

	"kycgate/internal/kyc/models"
	dErrors "kycgate/pkg/domain-errors"
)

// Overview summarises the user's KYC progress. Cached document records win;
// documents with no cached record fall back to the ledger.
func (s *Service) Overview(ctx context.Context, userID string) (*models.Overview, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, err
	}
	docs, err := s.store.DocumentStatuses(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification status")
	}

	var missing []models.DocumentType
	for _, doc := range models.AllDocumentTypes {
		if _, ok := docs[doc]; !ok {
			missing = append(missing, doc)
		}
	}
	if len(missing) > 0 {
		records, err := s.ledger.LatestByUser(ctx, userID, missing)
		if err != nil {
			s.logger.WarnContext(ctx, "ledger fallback unavailable for overview", "user_id", userID, "error", err)
		}
		for _, rec := range records {
			docs[rec.DocumentType] = models.DocumentStatus{
				Document:  rec.DocumentType,
				Status:    rec.Status,
				TaskID:    rec.TaskID,
				UpdatedAt: rec.UpdatedAt,
			}
		}
	}

	overview := models.NewOverview(userID, docs)
	return &overview, nil
}
