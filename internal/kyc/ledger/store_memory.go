package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"

	"kycgate/internal/kyc/models"
	"kycgate/pkg/platform/sentinel"
)

// MemoryStore is an in-process ledger for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Upsert inserts or updates by task id. The owning user and step of an
// existing row are never changed. changed is false when the stored outcome
// already matches.
func (s *MemoryStore) Upsert(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.TaskID]
	if !ok {
		s.records[rec.TaskID] = rec
		return true, nil
	}
	if existing.sameOutcome(rec) {
		return false, nil
	}
	existing.Status = rec.Status
	existing.ResultData = rec.ResultData
	existing.Provider = rec.Provider
	existing.UpdatedAt = rec.UpdatedAt
	s.records[rec.TaskID] = existing
	return true, nil
}

func (s *MemoryStore) FindUserIDByTaskID(_ context.Context, taskID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return rec.UserID, nil
}

// FindByTaskID returns a copy of the stored row.
func (s *MemoryStore) FindByTaskID(_ context.Context, taskID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) LatestByUser(_ context.Context, userID string, docs []models.DocumentType) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[models.DocumentType]Record)
	for _, rec := range s.records {
		if rec.UserID != userID || !slices.Contains(docs, rec.DocumentType) {
			continue
		}
		if cur, ok := latest[rec.DocumentType]; !ok || rec.UpdatedAt.After(cur.UpdatedAt) {
			latest[rec.DocumentType] = rec
		}
	}
	out := make([]Record, 0, len(latest))
	for _, doc := range docs {
		if rec, ok := latest[doc]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// HistoryByUser returns the user's rows newest first, optionally for one
// document type.
func (s *MemoryStore) HistoryByUser(_ context.Context, userID string, doc models.DocumentType, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if rec.UserID != userID || (doc != "" && rec.DocumentType != doc) {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})
	if n := HistoryLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len is the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
