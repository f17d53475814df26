package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kycgate/internal/kyc/ledger"
	"kycgate/internal/kyc/models"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/httputil"
	"kycgate/pkg/platform/middleware/admin"
	"kycgate/pkg/platform/sentinel"
	"kycgate/pkg/requestcontext"
)

// TaskLookup reads ledger rows for operators.
type TaskLookup interface {
	FindByTaskID(ctx context.Context, taskID string) (*ledger.Record, error)
}

// LedgerEntry is the operator view of a ledger row. Provider result data is
// not exposed.
type LedgerEntry struct {
	TaskID       string              `json:"taskId"`
	UserID       string              `json:"userId"`
	Step         models.Step         `json:"step"`
	DocumentType models.DocumentType `json:"documentType"`
	Status       models.Status       `json:"status"`
	Provider     string              `json:"provider"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Admin serves operator lookups behind the admin token.
type Admin struct {
	logger *slog.Logger
	token  string
	lookup TaskLookup
}

func NewAdmin(token string, lookup TaskLookup, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{logger: logger, token: token, lookup: lookup}
}

func (a *Admin) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(a.token, a.logger))
		r.Get("/admin/tasks/{taskId}", a.handleTask)
	})
}

func (a *Admin) handleTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskId")

	rec, err := a.lookup.FindByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "verification task not found"))
			return
		}
		a.logger.ErrorContext(ctx, "ledger lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"task_id", taskID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "ledger lookup failed"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, LedgerEntry{
		TaskID:       rec.TaskID,
		UserID:       rec.UserID,
		Step:         rec.Step,
		DocumentType: rec.DocumentType,
		Status:       rec.Status,
		Provider:     rec.Provider,
		UpdatedAt:    rec.UpdatedAt,
	})
}
