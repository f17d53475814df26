package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Ledger,Provider,Publisher

import (
	"context"

	"kycgate/internal/kyc/ledger"
	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/notify"
	"kycgate/internal/kyc/provider"
)

// Ledger is the durable outcome store.
type Ledger interface {
	Upsert(ctx context.Context, rec ledger.Record) (bool, error)
	LatestByUser(ctx context.Context, userID string, docs []models.DocumentType) ([]ledger.Record, error)
	HistoryByUser(ctx context.Context, userID string, doc models.DocumentType, limit int) ([]ledger.Record, error)
}

// Provider is the verification provider.
type Provider interface {
	Initiate(ctx context.Context, req provider.InitiateRequest) (*provider.Response, error)
	Submit(ctx context.Context, req provider.SubmitRequest) (*provider.Response, error)
}

// Publisher sends status changes downstream.
type Publisher interface {
	Publish(ctx context.Context, ev notify.StatusChanged) error
}
