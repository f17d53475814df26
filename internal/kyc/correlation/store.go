package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kycgate/internal/kyc/models"
	"kycgate/pkg/platform/sentinel"
)

// DefaultTimeout bounds every cache round trip.
const DefaultTimeout = 2 * time.Second

// Store reads and writes typed correlation records over a Cache.
type Store struct {
	cache   Cache
	timeout time.Duration
}

type StoreOption func(*Store)

func WithTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewStore(cache Cache, opts ...StoreOption) *Store {
	s := &Store{cache: cache, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create writes a new task, its task-id reference and the current-task
// pointer. The previous current task, if any, is left untouched.
func (s *Store) Create(ctx context.Context, task *models.Task, now time.Time) error {
	ttl := task.TTLAt(now)
	if ttl <= 0 {
		return fmt.Errorf("create task %s: %w", task.TaskID, sentinel.ErrExpired)
	}
	taskBody, refBody, err := encodeTask(task)
	if err != nil {
		return err
	}
	entries := []Entry{
		{Key: TaskKey(task.Step, task.UserID, task.TaskID), Value: taskBody, TTL: ttl},
		{Key: TaskRefKey(task.TaskID), Value: refBody, TTL: ttl},
		{Key: CurrentKey(task.Step, task.UserID), Value: []byte(task.TaskID), TTL: ttl},
	}
	return s.write(ctx, entries)
}

// Save overwrites an existing task and refreshes its task-id reference with
// the task's own remaining TTL.
func (s *Store) Save(ctx context.Context, task *models.Task, now time.Time) error {
	ttl := task.TTLAt(now)
	if ttl <= 0 {
		return fmt.Errorf("save task %s: %w", task.TaskID, sentinel.ErrExpired)
	}
	taskBody, refBody, err := encodeTask(task)
	if err != nil {
		return err
	}
	return s.write(ctx, []Entry{
		{Key: TaskKey(task.Step, task.UserID, task.TaskID), Value: taskBody, TTL: ttl},
		{Key: TaskRefKey(task.TaskID), Value: refBody, TTL: ttl},
	})
}

// Task loads a task by its full key.
func (s *Store) Task(ctx context.Context, step models.Step, userID, taskID string) (*models.Task, error) {
	body, err := s.get(ctx, TaskKey(step, userID, taskID))
	if err != nil {
		return nil, err
	}
	var task models.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// TaskByID resolves a task from its id alone.
func (s *Store) TaskByID(ctx context.Context, taskID string) (*models.Task, error) {
	body, err := s.get(ctx, TaskRefKey(taskID))
	if err != nil {
		return nil, err
	}
	var ref models.TaskRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return nil, fmt.Errorf("decode task ref %s: %w", taskID, err)
	}
	return s.Task(ctx, ref.Step, ref.UserID, taskID)
}

// Current returns the id of the user's latest task for step.
func (s *Store) Current(ctx context.Context, step models.Step, userID string) (string, error) {
	body, err := s.get(ctx, CurrentKey(step, userID))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ClearCurrent drops the back-pointer only.
func (s *Store) ClearCurrent(ctx context.Context, step models.Step, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.cache.Delete(ctx, CurrentKey(step, userID))
}

// SaveDocumentStatus records the latest status for one document type.
func (s *Store) SaveDocumentStatus(ctx context.Context, userID string, st models.DocumentStatus, ttl time.Duration) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode document status: %w", err)
	}
	return s.write(ctx, []Entry{{Key: DocumentStatusKey(st.Document, userID), Value: body, TTL: ttl}})
}

// UpdateDocumentStatus points the document record at task. A verified
// record from another task is kept until it lapses.
func (s *Store) UpdateDocumentStatus(ctx context.Context, task *models.Task, now time.Time, ttl time.Duration) error {
	doc := task.Step.Document()
	if task.Status != models.StatusVerified {
		existing, err := s.DocumentStatus(ctx, task.UserID, doc)
		if err == nil && existing.Status == models.StatusVerified && existing.TaskID != task.TaskID {
			return nil
		}
	}
	return s.SaveDocumentStatus(ctx, task.UserID, models.DocumentStatus{
		Document:  doc,
		Status:    task.Status,
		TaskID:    task.TaskID,
		UpdatedAt: now,
	}, ttl)
}

// DocumentStatus returns the cached record for one document type.
func (s *Store) DocumentStatus(ctx context.Context, userID string, doc models.DocumentType) (*models.DocumentStatus, error) {
	body, err := s.get(ctx, DocumentStatusKey(doc, userID))
	if err != nil {
		return nil, err
	}
	var st models.DocumentStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode document status: %w", err)
	}
	return &st, nil
}

// DocumentStatuses returns every cached per-document record for the user.
// Missing documents are simply absent from the map.
func (s *Store) DocumentStatuses(ctx context.Context, userID string) (map[models.DocumentType]models.DocumentStatus, error) {
	out := make(map[models.DocumentType]models.DocumentStatus)
	for _, doc := range models.AllDocumentTypes {
		body, err := s.get(ctx, DocumentStatusKey(doc, userID))
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var st models.DocumentStatus
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, fmt.Errorf("decode document status: %w", err)
		}
		out[doc] = st
	}
	return out, nil
}

// Ping checks the underlying cache.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.cache.Ping(ctx)
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.cache.Get(ctx, key)
}

func (s *Store) write(ctx context.Context, entries []Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if bc, ok := s.cache.(BatchCache); ok {
		return bc.SetMany(ctx, entries)
	}
	for _, e := range entries {
		if err := s.cache.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

func encodeTask(task *models.Task) ([]byte, []byte, error) {
	taskBody, err := json.Marshal(task)
	if err != nil {
		return nil, nil, fmt.Errorf("encode task: %w", err)
	}
	refBody, err := json.Marshal(models.TaskRef{Step: task.Step, UserID: task.UserID})
	if err != nil {
		return nil, nil, fmt.Errorf("encode task ref: %w", err)
	}
	return taskBody, refBody, nil
}
