// Package notify publishes verification status changes to downstream
// consumers. Publishing is fire-and-forget from the caller's point of view.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kycgate/internal/kyc/models"
)

// EventStatusUpdate is the event type carried by every StatusChanged.
const EventStatusUpdate = "kyc-status-update"

// StatusChanged announces that a task reached a new status.
type StatusChanged struct {
	Event        string              `json:"event"`
	TaskID       string              `json:"task_id"`
	UserID       string              `json:"user_id"`
	Step         models.Step         `json:"step"`
	DocumentType models.DocumentType `json:"document_type"`
	Status       models.Status       `json:"status"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// NewStatusChanged builds the event for a task.
func NewStatusChanged(task *models.Task, at time.Time) StatusChanged {
	return StatusChanged{
		Event:        EventStatusUpdate,
		TaskID:       task.TaskID,
		UserID:       task.UserID,
		Step:         task.Step,
		DocumentType: task.Step.Document(),
		Status:       task.Status,
		OccurredAt:   at,
	}
}

func encode(ev StatusChanged) ([]byte, error) {
	if ev.Event == "" {
		ev.Event = EventStatusUpdate
	}
	return json.Marshal(ev)
}

// LogPublisher writes events to the log. It is the default when no broker
// is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev StatusChanged) error {
	p.logger.InfoContext(ctx, "kyc status changed",
		"event", EventStatusUpdate,
		"task_id", ev.TaskID,
		"user_id", ev.UserID,
		"document_type", string(ev.DocumentType),
		"status", string(ev.Status),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records events in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []StatusChanged
	err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes subsequent Publish calls return err.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryPublisher) Publish(_ context.Context, ev StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []StatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StatusChanged, len(p.events))
	copy(out, p.events)
	return out
}

func (p *MemoryPublisher) Close() error { return nil }
