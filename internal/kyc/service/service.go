// Package service is the verification session manager. It validates
// requests, drives the provider, and keeps the correlation cache and the
// ledger in step with each task's state machine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"kycgate/internal/kyc/correlation"
	"kycgate/internal/kyc/ledger"
	"kycgate/internal/kyc/metrics"
	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/notify"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/privacy"
	"kycgate/pkg/requestcontext"
)

const (
	DefaultPendingTTL  = 300 * time.Second
	DefaultVerifiedTTL = 24 * time.Hour
)

// Service orchestrates verification tasks. Collaborators are injected; the
// service holds no global state.
type Service struct {
	store        *correlation.Store
	ledger       Ledger
	provider     Provider
	digester     *privacy.Digester
	publisher    Publisher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	providerName string
	pendingTTL   time.Duration
	verifiedTTL  time.Duration
	verifyGroup  singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithTTLs overrides the pending and terminal task lifetimes.
func WithTTLs(pending, verified time.Duration) Option {
	return func(s *Service) {
		if pending > 0 {
			s.pendingTTL = pending
		}
		if verified > 0 {
			s.verifiedTTL = verified
		}
	}
}

func WithProviderName(name string) Option {
	return func(s *Service) {
		s.providerName = name
	}
}

func New(store *correlation.Store, ledger Ledger, provider Provider, digester *privacy.Digester, opts ...Option) (*Service, error) {
	if store == nil || ledger == nil || provider == nil {
		return nil, errors.New("store, ledger and provider are required")
	}
	if digester == nil {
		return nil, errors.New("digester is required")
	}
	s := &Service{
		store:        store,
		ledger:       ledger,
		provider:     provider,
		digester:     digester,
		logger:       slog.Default(),
		providerName: "idfy",
		pendingTTL:   DefaultPendingTTL,
		verifiedTTL:  DefaultVerifiedTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = notify.NewLogPublisher(s.logger)
	}
	return s, nil
}

func (s *Service) ttlFor(st models.Status) time.Duration {
	if st.IsTerminal() {
		return s.verifiedTTL
	}
	return s.pendingTTL
}

// recordOutcome propagates a task's status to the document status record,
// the ledger and, when the ledger reports a change to a terminal state,
// downstream consumers.
func (s *Service) recordOutcome(ctx context.Context, task *models.Task, now time.Time) error {
	s.updateDocumentStatus(ctx, task, now)
	return s.persist(ctx, task, now)
}

// persist upserts task into the ledger and publishes when a terminal
// outcome is new. A ledger failure on a terminal status is an internal
// error; earlier states are only logged since the cache carries them.
func (s *Service) persist(ctx context.Context, task *models.Task, now time.Time) error {
	changed, err := s.ledger.Upsert(ctx, ledger.Record{
		TaskID:       task.TaskID,
		UserID:       task.UserID,
		Step:         task.Step,
		DocumentType: task.Step.Document(),
		Status:       task.Status,
		ResultData:   task.ResultData,
		Provider:     s.providerName,
		UpdatedAt:    now,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to upsert ledger",
			"task_id", task.TaskID,
			"step", string(task.Step),
			"status", string(task.Status),
			"error", err,
		)
		if task.Status.IsTerminal() {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification outcome")
		}
		return nil
	}
	if changed && task.Status.IsTerminal() {
		s.publish(ctx, task, now)
	}
	return nil
}

func (s *Service) updateDocumentStatus(ctx context.Context, task *models.Task, now time.Time) {
	if err := s.store.UpdateDocumentStatus(ctx, task, now, s.verifiedTTL); err != nil {
		s.logger.WarnContext(ctx, "failed to save document status",
			"task_id", task.TaskID,
			"document", string(task.Step.Document()),
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, task *models.Task, now time.Time) {
	if err := s.publisher.Publish(ctx, notify.NewStatusChanged(task, now)); err != nil {
		s.metrics.IncNotification("error")
		s.logger.WarnContext(ctx, "failed to publish status change",
			"task_id", task.TaskID,
			"status", string(task.Status),
			"error", err,
		)
		return
	}
	s.metrics.IncNotification("sent")
}

func requestTime(ctx context.Context) time.Time {
	return requestcontext.Now(ctx)
}
