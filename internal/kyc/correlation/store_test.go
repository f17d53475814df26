package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycgate/internal/kyc/models"
	"kycgate/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	now   time.Time
	cache *MemoryCache
	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	s.cache = NewMemoryCache(WithClock(func() time.Time { return s.now }))
	s.store = NewStore(s.cache)
}

func (s *StoreSuite) newTask(taskID string) *models.Task {
	return &models.Task{
		TaskID:        taskID,
		UserID:        "5d2c0a0e-5b1e-4c38-9f1f-4b7d0e7c0a11",
		Step:          models.StepAadhaarOTPInit,
		Status:        models.StatusOTPSent,
		PayloadDigest: "digest",
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
		ExpiresAt:     s.now.Add(300 * time.Second),
	}
}

func (s *StoreSuite) TestCreateWritesTaskRefAndPointer() {
	ctx := context.Background()
	task := s.newTask("task-1")
	s.Require().NoError(s.store.Create(ctx, task, s.now))

	key := TaskKey(task.Step, task.UserID, task.TaskID)
	s.Equal("task:aadhaar_otp_init:"+task.UserID+":task-1", key)
	s.InDelta(300, s.cache.TTL(key).Seconds(), 1)

	got, err := s.store.TaskByID(ctx, "task-1")
	s.Require().NoError(err)
	s.Equal(task.UserID, got.UserID)
	s.Equal(models.StatusOTPSent, got.Status)

	current, err := s.store.Current(ctx, task.Step, task.UserID)
	s.Require().NoError(err)
	s.Equal("task-1", current)
}

func (s *StoreSuite) TestClearingPointerKeepsTask() {
	ctx := context.Background()
	task := s.newTask("task-2")
	s.Require().NoError(s.store.Create(ctx, task, s.now))

	s.Require().NoError(s.store.ClearCurrent(ctx, task.Step, task.UserID))

	_, err := s.store.Current(ctx, task.Step, task.UserID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.Task(ctx, task.Step, task.UserID, task.TaskID)
	s.NoError(err, "task survives pointer removal")
}

func (s *StoreSuite) TestNewTaskSupersedesPointerOnly() {
	ctx := context.Background()
	first := s.newTask("task-a")
	s.Require().NoError(s.store.Create(ctx, first, s.now))
	second := s.newTask("task-b")
	s.Require().NoError(s.store.Create(ctx, second, s.now))

	current, err := s.store.Current(ctx, first.Step, first.UserID)
	s.Require().NoError(err)
	s.Equal("task-b", current)

	_, err = s.store.Task(ctx, first.Step, first.UserID, "task-a")
	s.NoError(err, "superseded task remains until its own ttl")
}

func (s *StoreSuite) TestEntriesExpireAfterTTL() {
	ctx := context.Background()
	task := s.newTask("task-3")
	s.Require().NoError(s.store.Create(ctx, task, s.now))

	s.now = s.now.Add(301 * time.Second)
	_, err := s.store.TaskByID(ctx, "task-3")
	s.True(errors.Is(err, sentinel.ErrNotFound))
	s.Equal(3, s.cache.Sweep())
}

func (s *StoreSuite) TestSaveExtendsTTL() {
	ctx := context.Background()
	task := s.newTask("task-4")
	s.Require().NoError(s.store.Create(ctx, task, s.now))

	task.Transition(models.StatusVerified, s.now, 24*time.Hour)
	s.Require().NoError(s.store.Save(ctx, task, s.now))

	s.InDelta((24 * time.Hour).Seconds(), s.cache.TTL(TaskKey(task.Step, task.UserID, task.TaskID)).Seconds(), 1)
	s.InDelta((24 * time.Hour).Seconds(), s.cache.TTL(TaskRefKey(task.TaskID)).Seconds(), 1)
}

func (s *StoreSuite) TestSaveRejectsExpiredTask() {
	task := s.newTask("task-5")
	task.ExpiresAt = s.now.Add(-time.Second)
	err := s.store.Save(context.Background(), task, s.now)
	s.True(errors.Is(err, sentinel.ErrExpired))
}

func (s *StoreSuite) TestDocumentStatuses() {
	ctx := context.Background()
	userID := "5d2c0a0e-5b1e-4c38-9f1f-4b7d0e7c0a11"
	s.Require().NoError(s.store.SaveDocumentStatus(ctx, userID, models.DocumentStatus{
		Document: models.DocumentPAN, Status: models.StatusVerified, TaskID: "t", UpdatedAt: s.now,
	}, time.Hour))

	got, err := s.store.DocumentStatuses(ctx, userID)
	s.Require().NoError(err)
	s.Len(got, 1)
	s.Equal(models.StatusVerified, got[models.DocumentPAN].Status)
}

func (s *StoreSuite) TestCacheNeverHoldsRawValue() {
	ctx := context.Background()
	task := s.newTask("task-6")
	task.MaskedValue = "23********23"
	s.Require().NoError(s.store.Create(ctx, task, s.now))

	raw, err := s.cache.Get(ctx, TaskKey(task.Step, task.UserID, task.TaskID))
	s.Require().NoError(err)
	s.NotContains(string(raw), "234567890123")
}
