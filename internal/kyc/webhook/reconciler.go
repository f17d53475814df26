// Package webhook reconciles asynchronous provider callbacks into the
// correlation cache and the ledger.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kycgate/internal/kyc/correlation"
	"kycgate/internal/kyc/ledger"
	"kycgate/internal/kyc/metrics"
	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/notify"
	"kycgate/pkg/platform/sentinel"
	"kycgate/pkg/requestcontext"
)

// Ledger is the durable store consulted when the cache no longer holds a
// task. FindByTaskID resolves both the owner and the step in one read.
type Ledger interface {
	Upsert(ctx context.Context, rec ledger.Record) (bool, error)
	FindByTaskID(ctx context.Context, taskID string) (*ledger.Record, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev notify.StatusChanged) error
}

// Payload is the provider callback body.
type Payload struct {
	TaskID    string          `json:"task_id"`
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result"`
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
}

// ID is the task id the callback refers to.
func (p Payload) ID() string {
	if p.TaskID != "" {
		return p.TaskID
	}
	return p.RequestID
}

// Outcome describes what a delivery did.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeReconfirmed Outcome = "reconfirmed"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeConflict    Outcome = "conflict"
	OutcomeUnresolved  Outcome = "unresolved"
)

// Reconciler applies callbacks. Every delivery is idempotent: replays of a
// stored outcome change nothing and notify nobody.
type Reconciler struct {
	store        *correlation.Store
	ledger       Ledger
	publisher    Publisher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	providerName string
	terminalTTL  time.Duration
}

type ReconcilerOption func(*Reconciler)

func WithLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithPublisher(p Publisher) ReconcilerOption {
	return func(r *Reconciler) {
		r.publisher = p
	}
}

func WithTerminalTTL(ttl time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.terminalTTL = ttl
		}
	}
}

func WithProviderName(name string) ReconcilerOption {
	return func(r *Reconciler) {
		r.providerName = name
	}
}

func NewReconciler(store *correlation.Store, ledger Ledger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:        store,
		ledger:       ledger,
		logger:       slog.Default(),
		providerName: "idfy",
		terminalTTL:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.publisher == nil {
		r.publisher = notify.NewLogPublisher(r.logger)
	}
	return r
}

// Reconcile applies p. Errors are internal failures worth a provider retry;
// everything else is acknowledged.
func (r *Reconciler) Reconcile(ctx context.Context, p Payload) (Outcome, error) {
	now := requestcontext.Now(ctx)
	taskID := p.ID()

	status, known := models.FromProvider(p.Status)
	if !known {
		r.logger.InfoContext(ctx, "webhook status carries no transition",
			"task_id", taskID,
			"provider_status", p.Status,
		)
		return OutcomeIgnored, nil
	}

	task, err := r.store.TaskByID(ctx, taskID)
	switch {
	case err == nil:
		return r.applyToTask(ctx, task, status, p.Result, now)
	case errors.Is(err, sentinel.ErrNotFound):
		return r.applyToLedger(ctx, taskID, status, p.Result, now)
	default:
		return "", fmt.Errorf("load task %s: %w", taskID, err)
	}
}

func (r *Reconciler) applyToTask(ctx context.Context, task *models.Task, status models.Status, result json.RawMessage, now time.Time) (Outcome, error) {
	if task.Status.IsTerminal() {
		if task.Status != status {
			r.logger.WarnContext(ctx, "webhook contradicts terminal task; skipping",
				"task_id", task.TaskID,
				"stored_status", string(task.Status),
				"webhook_status", string(status),
			)
			return OutcomeConflict, nil
		}
		if _, err := r.upsert(ctx, task, now); err != nil {
			return "", err
		}
		return OutcomeReconfirmed, nil
	}

	if !task.Transition(status, now, r.terminalTTL) {
		return OutcomeIgnored, nil
	}
	if len(result) > 0 && string(result) != "null" {
		task.ResultData = result
	}
	if status == models.StatusFailed && task.FailureReason == "" {
		task.FailureReason = "rejected"
	}
	if err := r.store.Save(ctx, task, now); err != nil {
		return "", fmt.Errorf("save task %s: %w", task.TaskID, err)
	}
	if err := r.store.UpdateDocumentStatus(ctx, task, now, r.terminalTTL); err != nil {
		r.logger.WarnContext(ctx, "failed to save document status", "task_id", task.TaskID, "error", err)
	}

	changed, err := r.upsert(ctx, task, now)
	if err != nil {
		return "", err
	}
	if changed {
		r.publish(ctx, task, now)
	}
	return OutcomeApplied, nil
}

// applyToLedger handles callbacks that outlived the cache entry.
func (r *Reconciler) applyToLedger(ctx context.Context, taskID string, status models.Status, result json.RawMessage, now time.Time) (Outcome, error) {
	rec, err := r.ledger.FindByTaskID(ctx, taskID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return "", fmt.Errorf("find task %s: %w", taskID, err)
		}
		r.logger.WarnContext(ctx, "webhook task could not be resolved", "task_id", taskID)
		return OutcomeUnresolved, nil
	}
	if rec.Status.IsTerminal() && rec.Status != status {
		r.logger.WarnContext(ctx, "webhook contradicts terminal ledger row; skipping",
			"task_id", taskID,
			"stored_status", string(rec.Status),
			"webhook_status", string(status),
		)
		return OutcomeConflict, nil
	}
	if !rec.Status.IsTerminal() && !rec.Step.AllowsTransition(rec.Status, status) {
		return OutcomeIgnored, nil
	}

	task := &models.Task{
		TaskID:     rec.TaskID,
		UserID:     rec.UserID,
		Step:       rec.Step,
		Status:     status,
		ResultData: result,
		UpdatedAt:  now,
	}
	if len(result) == 0 {
		task.ResultData = rec.ResultData
	}
	changed, err := r.upsert(ctx, task, now)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeReconfirmed, nil
	}
	if err := r.store.UpdateDocumentStatus(ctx, task, now, r.terminalTTL); err != nil {
		r.logger.WarnContext(ctx, "failed to save document status", "task_id", taskID, "error", err)
	}
	r.publish(ctx, task, now)
	return OutcomeApplied, nil
}

func (r *Reconciler) upsert(ctx context.Context, task *models.Task, now time.Time) (bool, error) {
	changed, err := r.ledger.Upsert(ctx, ledger.Record{
		TaskID:       task.TaskID,
		UserID:       task.UserID,
		Step:         task.Step,
		DocumentType: task.Step.Document(),
		Status:       task.Status,
		ResultData:   task.ResultData,
		Provider:     r.providerName,
		UpdatedAt:    now,
	})
	if err != nil {
		return false, fmt.Errorf("upsert ledger %s: %w", task.TaskID, err)
	}
	return changed, nil
}

func (r *Reconciler) publish(ctx context.Context, task *models.Task, now time.Time) {
	if err := r.publisher.Publish(ctx, notify.NewStatusChanged(task, now)); err != nil {
		r.metrics.IncNotification("error")
		r.logger.WarnContext(ctx, "failed to publish status change", "task_id", task.TaskID, "error", err)
		return
	}
	r.metrics.IncNotification("sent")
}
