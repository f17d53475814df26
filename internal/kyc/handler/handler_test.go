package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kycgate/internal/kyc/handler/mocks"
	"kycgate/internal/kyc/ledger"
	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/service"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/httputil"
	"kycgate/pkg/platform/middleware/admin"
	"kycgate/pkg/platform/middleware/auth"
	request "kycgate/pkg/platform/middleware/request"
	"kycgate/pkg/testutil"
)

const (
	userID    = "7a1d5c9e-2f44-4e0b-8d3c-9b2f6a1e4c77"
	otherUser = "0b6f3c1e-9d2a-4f5b-8c7e-1a2b3c4d5e6f"
)

// tokenValidator accepts "token-<userId>".
type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	user, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &auth.JWTClaims{UserID: user}, nil
}

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	s.router.Use(request.RequestID)
	New(s.svc, tokenValidator{}, logger).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, user string) (*httptest.ResponseRecorder, httputil.Envelope) {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if user != "" {
		req.Header.Set("Authorization", "Bearer token-"+user)
	}
	rr := testutil.DoRequest(s.router, req)
	return rr, testutil.UnmarshalEnvelope(s.T(), rr)
}

func (s *HandlerSuite) TestInitiateMapsBodyToCommand() {
	s.svc.EXPECT().Initiate(gomock.Any(), service.InitiateCommand{
		UserID:           userID,
		Step:             models.StepAadhaarOTPInit,
		IdentifyingValue: "234567890123",
		Consent:          true,
	}).Return(&models.TaskView{TaskID: "t-1", Status: models.StatusOTPSent, MaskedValue: "23********23"}, nil)

	rr, env := s.do(http.MethodPost, "/verify/aadhaar_otp_init/initiate", InitiateRequest{
		UserID:           userID,
		IdentifyingValue: "234567890123",
		Consent:          true,
	}, userID)

	s.Equal(http.StatusOK, rr.Code)
	s.True(env.Success)
	s.NotContains(rr.Body.String(), "234567890123")
}

func (s *HandlerSuite) TestRequiresBearerToken() {
	rr, env := s.do(http.MethodPost, "/verify/pan_verify/initiate", InitiateRequest{UserID: userID, IdentifyingValue: "x"}, "")
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Equal("auth_error", env.Kind)
}

func (s *HandlerSuite) TestForeignUserIDIsForbidden() {
	rr, env := s.do(http.MethodPost, "/verify/pan_verify/initiate", InitiateRequest{
		UserID:           otherUser,
		IdentifyingValue: "ABCDE1234F",
		Consent:          true,
	}, userID)
	s.Equal(http.StatusForbidden, rr.Code)
	s.Equal("auth_error", env.Kind)
}

func (s *HandlerSuite) TestUnknownStep() {
	rr, env := s.do(http.MethodPost, "/verify/selfie/initiate", InitiateRequest{UserID: userID, IdentifyingValue: "x"}, userID)
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Equal(string(dErrors.CodeValidation), env.Kind)
}

func (s *HandlerSuite) TestMissingFieldsRejectedBeforeService() {
	rr, _ := s.do(http.MethodPost, "/verify/aadhaar_otp_verify/verify", VerifyRequest{UserID: userID}, userID)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *HandlerSuite) TestVerifyErrorsMapToStatus() {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"wrong otp", dErrors.New(dErrors.CodeVerificationFailed, "verification failed"), http.StatusUnprocessableEntity},
		{"unknown task", dErrors.New(dErrors.CodeNotFound, "verification task not found"), http.StatusNotFound},
		{"terminal task", dErrors.New(dErrors.CodeConflict, "verification task is already failed"), http.StatusConflict},
		{"provider down", dErrors.WithReason(nil, dErrors.CodeProvider, "unavailable", "the verification provider is unavailable"), http.StatusServiceUnavailable},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "timed out"), http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.svc.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, tt.err)
			rr, env := s.do(http.MethodPost, "/verify/aadhaar_otp_verify/verify", VerifyRequest{
				UserID: userID, TaskID: "t-1", Proof: "123456",
			}, userID)
			s.Equal(tt.want, rr.Code)
			s.False(env.Success)
		})
	}
}

func (s *HandlerSuite) TestInternalErrorHidesMessage() {
	s.svc.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, dErrors.Wrap(errors.New("redis: connection refused"), dErrors.CodeInternal, "cache read failed"))
	rr, env := s.do(http.MethodPost, "/verify/aadhaar_otp_verify/verify", VerifyRequest{
		UserID: userID, TaskID: "t-1", Proof: "123456",
	}, userID)
	s.Equal(http.StatusInternalServerError, rr.Code)
	s.NotContains(env.Error, "redis")
}

func (s *HandlerSuite) TestBiometricCaptureCarriesSample() {
	template := strings.Repeat("A", 120)
	s.svc.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd service.VerifyCommand) (*models.TaskView, error) {
		s.Require().NotNil(cmd.Capture)
		s.Equal(models.BiometricFingerprint, cmd.Capture.Type)
		s.Equal(template, cmd.Capture.Template)
		s.Equal(80, cmd.Capture.Quality)
		s.Equal("ISO_19794_2", cmd.Capture.Format)
		return &models.TaskView{TaskID: cmd.TaskID, Status: models.StatusPending}, nil
	})

	rr, _ := s.do(http.MethodPost, "/verify/biometric_capture/verify", VerifyRequest{
		UserID: userID, TaskID: "t-9", BiometricType: "fingerprint", Template: template, Quality: 80, Format: "ISO_19794_2",
	}, userID)
	s.Equal(http.StatusOK, rr.Code)
}

func (s *HandlerSuite) TestResend() {
	s.svc.EXPECT().ResendOTP(gomock.Any(), gomock.Any()).Return(&models.TaskView{TaskID: "t-2"}, nil)
	rr, _ := s.do(http.MethodPost, "/verify/aadhaar_otp_init/resend", InitiateRequest{
		UserID: userID, IdentifyingValue: "234567890123", Consent: true,
	}, userID)
	s.Equal(http.StatusOK, rr.Code)
}

func (s *HandlerSuite) TestCancel() {
	s.svc.EXPECT().Cancel(gomock.Any(), userID, models.StepPANVerify, "t-3").Return(&models.TaskView{TaskID: "t-3", Status: models.StatusFailed}, nil)
	rr, _ := s.do(http.MethodPost, "/verify/pan_verify/cancel", CancelRequest{UserID: userID, TaskID: "t-3"}, userID)
	s.Equal(http.StatusOK, rr.Code)
}

func (s *HandlerSuite) TestTaskStatusDefaultsToSubject() {
	s.svc.EXPECT().TaskStatus(gomock.Any(), userID, models.StepPANVerify, "t-4").Return(&models.TaskView{TaskID: "t-4"}, nil)
	rr, _ := s.do(http.MethodGet, "/verify/pan_verify/tasks/t-4", nil, userID)
	s.Equal(http.StatusOK, rr.Code)

	rr, _ = s.do(http.MethodGet, "/verify/pan_verify/tasks/t-4?userId="+otherUser, nil, userID)
	s.Equal(http.StatusForbidden, rr.Code)
}

func (s *HandlerSuite) TestOverview() {
	s.svc.EXPECT().Overview(gomock.Any(), userID).Return(&models.Overview{UserID: userID, Overall: models.OverallPartial, Percentage: 50}, nil)
	rr, env := s.do(http.MethodGet, "/kyc/status/"+userID, nil, userID)
	s.Equal(http.StatusOK, rr.Code)

	data, ok := env.Data.(map[string]any)
	s.Require().True(ok)
	s.Equal("partial", data["overallStatus"])
	s.EqualValues(50, data["completionPercentage"])

	rr, _ = s.do(http.MethodGet, "/kyc/status/"+otherUser, nil, userID)
	s.Equal(http.StatusForbidden, rr.Code)
}

func (s *HandlerSuite) TestValidateIdentifier() {
	s.svc.EXPECT().ValidateIdentifier(models.StepPANVerify, "abcde1234f").
		Return(&models.IdentifierCheck{Step: models.StepPANVerify, Valid: true, MaskedValue: "AB******4F", Message: "valid format"}, nil)

	rr, env := s.do(http.MethodPost, "/verify/pan_verify/validate", ValidateRequest{UserID: userID, IdentifyingValue: "abcde1234f"}, userID)
	s.Equal(http.StatusOK, rr.Code)
	data, ok := env.Data.(map[string]any)
	s.Require().True(ok)
	s.Equal(true, data["valid"])
	s.Equal("AB******4F", data["maskedValue"])
	s.NotContains(rr.Body.String(), "abcde1234f")

	rr, _ = s.do(http.MethodPost, "/verify/pan_verify/validate", ValidateRequest{UserID: otherUser, IdentifyingValue: "abcde1234f"}, userID)
	s.Equal(http.StatusForbidden, rr.Code)

	rr, _ = s.do(http.MethodPost, "/verify/pan_verify/validate", ValidateRequest{UserID: userID}, userID)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *HandlerSuite) TestHistory() {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.svc.EXPECT().History(gomock.Any(), userID, models.DocumentPAN, 5).
		Return([]models.HistoryEntry{{TaskID: "t-5", Step: models.StepPANVerify, DocumentType: models.DocumentPAN, Status: models.StatusVerified, UpdatedAt: at}}, nil)
	s.svc.EXPECT().History(gomock.Any(), userID, models.DocumentType(""), 0).Return([]models.HistoryEntry{}, nil)

	rr, env := s.do(http.MethodGet, "/kyc/history/"+userID+"?document=pan&limit=5", nil, userID)
	s.Equal(http.StatusOK, rr.Code)
	data, ok := env.Data.(map[string]any)
	s.Require().True(ok)
	entries, ok := data["entries"].([]any)
	s.Require().True(ok)
	s.Len(entries, 1)

	rr, _ = s.do(http.MethodGet, "/kyc/history/"+userID, nil, userID)
	s.Equal(http.StatusOK, rr.Code)

	rr, env = s.do(http.MethodGet, "/kyc/history/"+userID+"?limit=ten", nil, userID)
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Equal(string(dErrors.CodeValidation), env.Kind)

	rr, _ = s.do(http.MethodGet, "/kyc/history/"+otherUser, nil, userID)
	s.Equal(http.StatusForbidden, rr.Code)
}

func (s *HandlerSuite) TestRetryPolicy() {
	rr, env := s.do(http.MethodGet, "/kyc/retry-policy", nil, userID)
	s.Equal(http.StatusOK, rr.Code)
	data, ok := env.Data.(map[string]any)
	s.Require().True(ok)
	s.EqualValues(3, data["threshold"])
	s.EqualValues(2, data["baseSeconds"])
	s.EqualValues(10, data["maxCooldownSeconds"])
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		deps map[string]Pinger
		want int
	}{
		{"all up", map[string]Pinger{"cache": stubPinger{}, "ledger": stubPinger{}}, http.StatusOK},
		{"ledger down", map[string]Pinger{"cache": stubPinger{}, "ledger": stubPinger{err: errors.New("dial tcp")}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHealth(logger, tt.deps).Register(r)

			rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health/ready"))
			testutil.AssertStatus(t, rr, tt.want)
			if strings.Contains(rr.Body.String(), "dial tcp") {
				t.Fatalf("readiness leaked dependency error: %s", rr.Body.String())
			}

			rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health/live"))
			testutil.AssertStatusOK(t, rr)
		})
	}
}

func TestAdminTaskLookup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledger.NewMemoryStore()
	_, err := store.Upsert(context.Background(), ledger.Record{
		TaskID:       "t-7",
		UserID:       userID,
		Step:         models.StepPANVerify,
		DocumentType: models.DocumentPAN,
		Status:       models.StatusVerified,
		ResultData:   json.RawMessage(`{"name":"secret name"}`),
		Provider:     "idfy",
		UpdatedAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	NewAdmin("ops-token", store, logger).Register(r)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set(admin.HeaderAdminToken, token)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	if rr := get("/admin/tasks/t-7", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", rr.Code)
	}
	rr := get("/admin/tasks/t-7", "ops-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup: got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret name") {
		t.Fatal("admin view exposed provider result data")
	}
	if rr := get("/admin/tasks/unknown", "ops-token"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown: got %d", rr.Code)
	}
}

func TestAuthorizeUser(t *testing.T) {
	h := New(nil, tokenValidator{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name    string
		subject string
		userID  string
		ok      bool
		status  int
	}{
		{"matching subject", userID, userID, true, http.StatusOK},
		{"foreign user", userID, otherUser, false, http.StatusForbidden},
		{"no subject in context", "", userID, false, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewRequest(t, http.MethodGet, "/kyc/status/"+tt.userID)
			if tt.subject != "" {
				req = testutil.WithUserID(req, tt.subject)
			}
			rr := httptest.NewRecorder()
			if got := h.authorizeUser(rr, req, tt.userID); got != tt.ok {
				t.Fatalf("authorizeUser: got %v want %v", got, tt.ok)
			}
			testutil.AssertStatus(t, rr, tt.status)
		})
	}
}
