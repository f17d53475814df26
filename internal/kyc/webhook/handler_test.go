package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"kycgate/internal/kyc/correlation"
	"kycgate/internal/kyc/ledger"
	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/notify"
	"kycgate/pkg/testutil"
)

const (
	testSecret = "whsec_test_only"
	ownerID    = "5d2c0a0e-5b1e-4c38-9f1f-4b7d0e7c0a11"
)

type countingCache struct {
	*correlation.MemoryCache
	writes atomic.Int32
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.writes.Add(1)
	return c.MemoryCache.Set(ctx, key, value, ttl)
}

func (c *countingCache) SetMany(ctx context.Context, entries []correlation.Entry) error {
	c.writes.Add(int32(len(entries)))
	return c.MemoryCache.SetMany(ctx, entries)
}

type countingLedger struct {
	*ledger.MemoryStore
	upserts   atomic.Int32
	upsertErr error
	findErr   error
}

func (l *countingLedger) FindByTaskID(ctx context.Context, taskID string) (*ledger.Record, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	return l.MemoryStore.FindByTaskID(ctx, taskID)
}

func (l *countingLedger) Upsert(ctx context.Context, rec ledger.Record) (bool, error) {
	l.upserts.Add(1)
	if l.upsertErr != nil {
		return false, l.upsertErr
	}
	return l.MemoryStore.Upsert(ctx, rec)
}

type WebhookSuite struct {
	suite.Suite
	now       time.Time
	cache     *countingCache
	store     *correlation.Store
	ledger    *countingLedger
	publisher *notify.MemoryPublisher
	router    chi.Router
}

func TestWebhookSuite(t *testing.T) {
	suite.Run(t, new(WebhookSuite))
}

func (s *WebhookSuite) SetupTest() {
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	mem := correlation.NewMemoryCache(correlation.WithClock(func() time.Time { return s.now }))
	s.cache = &countingCache{MemoryCache: mem}
	s.store = correlation.NewStore(s.cache)
	s.ledger = &countingLedger{MemoryStore: ledger.NewMemoryStore()}
	s.publisher = notify.NewMemoryPublisher()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := NewReconciler(s.store, s.ledger, WithLogger(logger), WithPublisher(s.publisher))
	h, err := NewHandler([]byte(testSecret), rec, logger, nil)
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, testutil.WithRequestTime(r, s.now))
		})
	})
	h.Register(s.router)
}

func (s *WebhookSuite) seedTask(taskID string, status models.Status) {
	task := &models.Task{
		TaskID:    taskID,
		UserID:    ownerID,
		Step:      models.StepAadhaarOTPInit,
		Status:    status,
		CreatedAt: s.now,
		UpdatedAt: s.now,
		ExpiresAt: s.now.Add(300 * time.Second),
	}
	s.Require().NoError(s.store.Create(context.Background(), task, s.now))
	_, err := s.ledger.MemoryStore.Upsert(context.Background(), ledger.Record{
		TaskID: taskID, UserID: ownerID, Step: task.Step, DocumentType: models.DocumentAadhaar, Status: status, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	s.cache.writes.Store(0)
}

func (s *WebhookSuite) deliver(body []byte, header, signature string) *httptest.ResponseRecorder {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/webhook/provider", string(body))
	if signature != "" {
		req.Header.Set(header, signature)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *WebhookSuite) signedDeliver(body []byte) *httptest.ResponseRecorder {
	return s.deliver(body, HeaderSignature, Sign([]byte(testSecret), body))
}

func payload(taskID, status, result string) []byte {
	m := map[string]any{"task_id": taskID, "status": status, "event_type": "task.completed"}
	if result != "" {
		m["result"] = json.RawMessage(result)
	}
	b, _ := json.Marshal(m)
	return b
}

func (s *WebhookSuite) task(taskID string) *models.Task {
	t, err := s.store.TaskByID(context.Background(), taskID)
	s.Require().NoError(err)
	return t
}

func (s *WebhookSuite) TestTamperedBodyIsRejectedWithoutWrites() {
	s.seedTask("t-1", models.StatusOTPSent)
	original := payload("t-1", "completed", `{"name":"A"}`)
	tampered := payload("t-1", "completed", `{"name":"B"}`)

	rr := s.deliver(tampered, HeaderSignature, Sign([]byte(testSecret), original))

	testutil.AssertStatusAndKind(s.T(), rr, http.StatusUnauthorized, "auth_error")
	s.Equal(int32(0), s.cache.writes.Load())
	s.Equal(int32(0), s.ledger.upserts.Load())
	s.Equal(models.StatusOTPSent, s.task("t-1").Status)
}

func (s *WebhookSuite) TestMissingSignatureIsRejected() {
	s.seedTask("t-2", models.StatusOTPSent)
	rr := s.deliver(payload("t-2", "completed", ""), HeaderSignature, "")
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Equal(int32(0), s.ledger.upserts.Load())
}

func (s *WebhookSuite) TestValidSignatureIsApplied() {
	s.seedTask("t-3", models.StatusOTPSent)
	rr := s.signedDeliver(payload("t-3", "completed", `{"name":"A"}`))

	s.Equal(http.StatusOK, rr.Code)
	task := s.task("t-3")
	s.Equal(models.StatusVerified, task.Status)
	s.Equal(ownerID, task.UserID)
	s.JSONEq(`{"name":"A"}`, string(task.ResultData))
	s.InDelta((24 * time.Hour).Seconds(), s.cache.TTL(correlation.TaskKey(task.Step, ownerID, "t-3")).Seconds(), 1)
	s.Len(s.publisher.Events(), 1)
}

func (s *WebhookSuite) TestPrefixedAlternateHeaderIsAccepted() {
	s.seedTask("t-4", models.StatusOTPSent)
	body := payload("t-4", "failed", "")
	rr := s.deliver(body, HeaderIdfySignature, "sha256="+Sign([]byte(testSecret), body))
	s.Equal(http.StatusOK, rr.Code)
	s.Equal(models.StatusFailed, s.task("t-4").Status)
}

func (s *WebhookSuite) TestDuplicateDeliveryTransitionsOnce() {
	s.seedTask("t-5", models.StatusOTPSent)
	body := payload("t-5", "completed", `{"ok":true}`)

	first := s.signedDeliver(body)
	second := s.signedDeliver(body)

	s.Equal(http.StatusOK, first.Code)
	s.Equal(http.StatusOK, second.Code)
	s.Contains(second.Body.String(), string(OutcomeReconfirmed))
	s.Len(s.publisher.Events(), 1)

	rec, err := s.ledger.FindByTaskID(context.Background(), "t-5")
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, rec.Status)
}

func (s *WebhookSuite) TestContradictingTerminalTaskIsSkipped() {
	s.seedTask("t-6", models.StatusOTPSent)
	s.Equal(http.StatusOK, s.signedDeliver(payload("t-6", "completed", `{}`)).Code)

	rr := s.signedDeliver(payload("t-6", "failed", ""))
	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), string(OutcomeConflict))
	s.Equal(models.StatusVerified, s.task("t-6").Status)
}

func (s *WebhookSuite) TestCacheMissFallsBackToLedger() {
	s.seedTask("t-7", models.StatusOTPSent)
	s.now = s.now.Add(10 * time.Minute)

	rr := s.signedDeliver(payload("t-7", "completed", `{"late":true}`))
	s.Equal(http.StatusOK, rr.Code)

	rec, err := s.ledger.FindByTaskID(context.Background(), "t-7")
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, rec.Status)
	s.Equal(ownerID, rec.UserID)
	s.Len(s.publisher.Events(), 1)
}

func (s *WebhookSuite) TestLedgerLookupFailureOnCacheMissIsInternalError() {
	s.seedTask("t-10", models.StatusOTPSent)
	s.now = s.now.Add(10 * time.Minute)
	s.ledger.findErr = errors.New("connection reset by peer")

	rr := s.signedDeliver(payload("t-10", "completed", ""))
	testutil.AssertStatusAndKind(s.T(), rr, http.StatusInternalServerError, "internal_error")
	s.NotContains(rr.Body.String(), string(OutcomeUnresolved))
	s.NotContains(rr.Body.String(), "connection reset")
	s.Equal(int32(0), s.ledger.upserts.Load())
	s.Empty(s.publisher.Events())
}

func (s *WebhookSuite) TestLedgerFallbackKeepsOTPOrdering() {
	_, err := s.ledger.MemoryStore.Upsert(context.Background(), ledger.Record{
		TaskID: "t-11", UserID: ownerID, Step: models.StepAadhaarOTPInit, DocumentType: models.DocumentAadhaar,
		Status: models.StatusPending, UpdatedAt: s.now,
	})
	s.Require().NoError(err)

	rr := s.signedDeliver(payload("t-11", "completed", ""))
	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), string(OutcomeIgnored))

	rec, err := s.ledger.FindByTaskID(context.Background(), "t-11")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, rec.Status)
	s.Empty(s.publisher.Events())
}

func (s *WebhookSuite) TestUnknownTaskIsAcknowledged() {
	rr := s.signedDeliver(payload("ghost", "completed", ""))
	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), string(OutcomeUnresolved))
	s.Equal(0, s.ledger.Len())
	s.Empty(s.publisher.Events())
}

func (s *WebhookSuite) TestInProgressIsAcknowledgedWithoutMutation() {
	s.seedTask("t-8", models.StatusOTPSent)
	rr := s.signedDeliver(payload("t-8", "in_progress", ""))
	s.Equal(http.StatusOK, rr.Code)
	s.Equal(int32(0), s.cache.writes.Load())
	s.Equal(models.StatusOTPSent, s.task("t-8").Status)
}

func (s *WebhookSuite) TestMissingTaskIDIsBadRequest() {
	rr := s.signedDeliver([]byte(`{"status":"completed"}`))
	testutil.AssertStatusAndKind(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *WebhookSuite) TestLedgerFailureIsInternalError() {
	s.seedTask("t-9", models.StatusOTPSent)
	s.ledger.upsertErr = errors.New("connection refused")

	rr := s.signedDeliver(payload("t-9", "completed", ""))
	s.Equal(http.StatusInternalServerError, rr.Code)
	s.NotContains(rr.Body.String(), "connection refused")
}

func (s *WebhookSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/webhook/health"))
	testutil.AssertStatusOK(s.T(), rr)
}

func TestNewHandlerRequiresSecret(t *testing.T) {
	if _, err := NewHandler(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"task_id":"x"}`)
	sig := Sign([]byte("k"), body)
	if err := VerifySignature([]byte("k"), body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature([]byte("k"), body, "sha256="+sig); err != nil {
		t.Fatalf("prefixed signature rejected: %v", err)
	}
	if !errors.Is(VerifySignature([]byte("k"), body, "zz"), ErrBadSignature) {
		t.Fatal("non-hex signature accepted")
	}
	if !errors.Is(VerifySignature([]byte("other"), body, sig), ErrBadSignature) {
		t.Fatal("wrong key accepted")
	}
	if !errors.Is(VerifySignature([]byte("k"), body, ""), ErrMissingSignature) {
		t.Fatal("empty signature accepted")
	}
}
