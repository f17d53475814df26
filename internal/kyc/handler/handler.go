// Package handler exposes the verification session manager over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/service"
	"kycgate/pkg/backoff"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/httputil"
	"kycgate/pkg/platform/middleware/auth"
	request "kycgate/pkg/platform/middleware/request"
	"kycgate/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the session manager operations the handlers call.
type Service interface {
	Initiate(ctx context.Context, cmd service.InitiateCommand) (*models.TaskView, error)
	ResendOTP(ctx context.Context, cmd service.InitiateCommand) (*models.TaskView, error)
	Verify(ctx context.Context, cmd service.VerifyCommand) (*models.TaskView, error)
	Cancel(ctx context.Context, userID string, step models.Step, taskID string) (*models.TaskView, error)
	TaskStatus(ctx context.Context, userID string, step models.Step, taskID string) (*models.TaskView, error)
	Overview(ctx context.Context, userID string) (*models.Overview, error)
	History(ctx context.Context, userID string, doc models.DocumentType, limit int) ([]models.HistoryEntry, error)
	ValidateIdentifier(step models.Step, raw string) (*models.IdentifierCheck, error)
}

// requestTimeout bounds one client request, provider call included.
const requestTimeout = 45 * time.Second

// Handler serves the client-facing verification routes.
type Handler struct {
	logger       *slog.Logger
	kyc          Service
	jwtValidator auth.JWTValidator
	retryPolicy  backoff.Policy
}

type Option func(*Handler)

// WithRetryPolicy sets the client retry policy advertised to SDKs.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(h *Handler) {
		h.retryPolicy = p
	}
}

func New(kyc Service, jwtValidator auth.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:       logger,
		kyc:          kyc,
		jwtValidator: jwtValidator,
		retryPolicy:  backoff.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the authenticated verification and status routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(requestTimeout))
		r.Use(request.ContentTypeJSON)
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))

		r.Post("/verify/{step}/initiate", h.handleInitiate)
		r.Post("/verify/{step}/verify", h.handleVerify)
		r.Post("/verify/{step}/resend", h.handleResend)
		r.Post("/verify/{step}/cancel", h.handleCancel)
		r.Post("/verify/{step}/validate", h.handleValidate)
		r.Get("/verify/{step}/tasks/{taskId}", h.handleTaskStatus)
		r.Get("/kyc/status/{userId}", h.handleOverview)
		r.Get("/kyc/history/{userId}", h.handleHistory)
		r.Get("/kyc/retry-policy", h.handleRetryPolicy)
	})
}

// RetryPolicy is the client-side cooldown schedule for verify attempts.
type RetryPolicy struct {
	Threshold       int `json:"threshold"`
	ThresholdOffset int `json:"thresholdOffset"`
	BaseSeconds     int `json:"baseSeconds"`
	MaxSeconds      int `json:"maxCooldownSeconds"`
}

func (h *Handler) handleRetryPolicy(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, RetryPolicy{
		Threshold:       h.retryPolicy.Threshold,
		ThresholdOffset: h.retryPolicy.ThresholdOffset,
		BaseSeconds:     int(h.retryPolicy.Base / time.Second),
		MaxSeconds:      int(h.retryPolicy.MaxCooldown / time.Second),
	})
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.kyc.Initiate, "initiate")
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.kyc.ResendOTP, "resend")
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request, call func(context.Context, service.InitiateCommand) (*models.TaskView, error), op string) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[InitiateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if !h.authorizeUser(w, r, req.UserID) {
		return
	}

	view, err := call(ctx, service.InitiateCommand{
		UserID:           req.UserID,
		Step:             step,
		IdentifyingValue: req.IdentifyingValue,
		Consent:          req.Consent,
		DateOfBirth:      req.DateOfBirth,
		BiometricType:    req.BiometricType,
	})
	if err != nil {
		h.writeServiceError(w, r, err, op, step)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if !h.authorizeUser(w, r, req.UserID) {
		return
	}

	cmd := service.VerifyCommand{
		UserID: req.UserID,
		Step:   step,
		TaskID: req.TaskID,
		Proof:  req.Proof,
	}
	if step == models.StepBiometricCapture {
		cmd.Capture = req.capture()
		cmd.Proof = cmd.Capture.Template
	}

	view, err := h.kyc.Verify(ctx, cmd)
	if err != nil {
		h.writeServiceError(w, r, err, "verify", step)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if !h.authorizeUser(w, r, req.UserID) {
		return
	}

	view, err := h.kyc.Cancel(ctx, req.UserID, step, req.TaskID)
	if err != nil {
		h.writeServiceError(w, r, err, "cancel", step)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = auth.GetUserID(r.Context())
	}
	if !h.authorizeUser(w, r, userID) {
		return
	}

	view, err := h.kyc.TaskStatus(r.Context(), userID, step, chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeServiceError(w, r, err, "task_status", step)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !h.authorizeUser(w, r, userID) {
		return
	}

	overview, err := h.kyc.Overview(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "overview", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, overview)
}

// handleValidate checks an identifying value's format without opening a task.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ValidateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if !h.authorizeUser(w, r, req.UserID) {
		return
	}

	check, err := h.kyc.ValidateIdentifier(step, req.IdentifyingValue)
	if err != nil {
		h.writeServiceError(w, r, err, "validate", step)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, check)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !h.authorizeUser(w, r, userID) {
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.kyc.History(r.Context(), userID, models.DocumentType(query.Get("document")), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "history", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"userId":  userID,
		"entries": entries,
	})
}

func (h *Handler) stepParam(w http.ResponseWriter, r *http.Request) (models.Step, bool) {
	step, err := models.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "unknown verification step"))
		return "", false
	}
	return step, true
}

// authorizeUser rejects a userId that is not the token subject.
func (h *Handler) authorizeUser(w http.ResponseWriter, r *http.Request, userID string) bool {
	ctx := r.Context()
	subject := auth.GetUserID(ctx)
	if subject == "" {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return false
	}
	if userID != subject {
		h.logger.WarnContext(ctx, "user id does not match token subject",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "userId does not match the authenticated user"))
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string, step models.Step) {
	ctx := r.Context()
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"step", string(step),
		"code", string(dErrors.CodeOf(err)),
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "verification request failed", attrs...)
	} else {
		h.logger.InfoContext(ctx, "verification request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
