package models

import (
	"encoding/json"
	"time"
)

// Task is the cached snapshot of one provider-side unit of work. It never
// holds the raw identifying value; PayloadDigest and MaskedValue stand in.
type Task struct {
	TaskID        string          `json:"task_id"`
	UserID        string          `json:"user_id"`
	Step          Step            `json:"step"`
	Status        Status          `json:"status"`
	PayloadDigest string          `json:"payload_digest"`
	MaskedValue   string          `json:"masked_value,omitempty"`
	Message       string          `json:"message,omitempty"`
	ResultData    json.RawMessage `json:"result_data,omitempty"`
	CaptureRef    string          `json:"capture_ref,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// IsExpiredAt reports whether a non-terminal task has outlived its TTL.
func (t *Task) IsExpiredAt(now time.Time) bool {
	return !t.Status.IsTerminal() && !now.Before(t.ExpiresAt)
}

// Transition moves the task to next, refreshing timestamps. It reports false
// and leaves the task untouched when the state machine for the task's step
// forbids the move.
func (t *Task) Transition(next Status, now time.Time, ttl time.Duration) bool {
	if !t.Step.AllowsTransition(t.Status, next) {
		return false
	}
	t.Status = next
	t.UpdatedAt = now
	t.ExpiresAt = now.Add(ttl)
	return true
}

// TTLAt is the remaining lifetime, never negative.
func (t *Task) TTLAt(now time.Time) time.Duration {
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TaskRef resolves a bare task id to its cache key parts.
type TaskRef struct {
	Step   Step   `json:"step"`
	UserID string `json:"user_id"`
}

// DocumentStatus is the explicit per-document status record used for the
// overall KYC view.
type DocumentStatus struct {
	Document  DocumentType `json:"document"`
	Status    Status       `json:"status"`
	TaskID    string       `json:"taskId"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// TaskView is the client-facing rendering of a task.
type TaskView struct {
	TaskID      string          `json:"taskId"`
	Step        Step            `json:"step"`
	Status      Status          `json:"status"`
	Message     string          `json:"message,omitempty"`
	MaskedValue string          `json:"maskedValue,omitempty"`
	CaptureRef  string          `json:"captureRef,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// View renders the task for responses. Results are only exposed once verified.
func (t *Task) View() TaskView {
	v := TaskView{
		TaskID:      t.TaskID,
		Step:        t.Step,
		Status:      t.Status,
		Message:     t.Message,
		MaskedValue: t.MaskedValue,
		CaptureRef:  t.CaptureRef,
		ExpiresAt:   t.ExpiresAt,
	}
	if t.Status == StatusVerified {
		v.Result = t.ResultData
	}
	return v
}
