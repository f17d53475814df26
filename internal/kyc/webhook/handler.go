package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycgate/internal/kyc/metrics"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/httputil"
	"kycgate/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Handler authenticates provider callbacks by HMAC and hands them to the
// Reconciler. Nothing is read from or written to storage before the
// signature checks out.
type Handler struct {
	secret     []byte
	reconciler *Reconciler
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewHandler(secret []byte, reconciler *Reconciler, logger *slog.Logger, m *metrics.Metrics) (*Handler, error) {
	if len(secret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{secret: secret, reconciler: reconciler, logger: logger, metrics: m}, nil
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhook/provider", h.handleProviderCallback)
	r.Get("/webhook/health", h.handleHealth)
}

func (h *Handler) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.IncWebhook("bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "webhook body is unreadable or too large"))
		return
	}

	if err := VerifySignature(h.secret, body, signatureFrom(r)); err != nil {
		h.metrics.IncWebhook("unauthorized")
		h.logger.WarnContext(ctx, "security: webhook signature rejected",
			"request_id", requestID,
			"client_ip", requestcontext.ClientIP(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		h.metrics.IncWebhook("bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	if p.ID() == "" {
		h.metrics.IncWebhook("bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "task_id is required"))
		return
	}

	outcome, err := h.reconciler.Reconcile(ctx, p)
	if err != nil {
		h.metrics.IncWebhook("error")
		h.logger.ErrorContext(ctx, "webhook reconciliation failed",
			"request_id", requestID,
			"task_id", p.ID(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "webhook processing failed"))
		return
	}

	h.metrics.IncWebhook(string(outcome))
	h.logger.InfoContext(ctx, "webhook processed",
		"request_id", requestID,
		"task_id", p.ID(),
		"event_type", p.EventType,
		"outcome", string(outcome),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"taskId":   p.ID(),
		"outcome":  outcome,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
