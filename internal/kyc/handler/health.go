package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/httputil"
)

// Pinger is a dependency checked by readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readyTimeout bounds one readiness probe.
const readyTimeout = 2 * time.Second

// Health serves liveness and readiness probes.
type Health struct {
	logger *slog.Logger
	deps   map[string]Pinger
}

// NewHealth checks every named dependency on readiness.
func NewHealth(logger *slog.Logger, deps map[string]Pinger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	return &Health{logger: logger, deps: deps}
}

func (h *Health) Register(r chi.Router) {
	r.Get("/health/live", h.handleLive)
	r.Get("/health/ready", h.handleReady)
}

func (h *Health) handleLive(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings every dependency concurrently and fails on the first
// error.
func (h *Health) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for name, dep := range h.deps {
		g.Go(func() error {
			if err := dep.Ping(gctx); err != nil {
				h.logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				return dErrors.WithReason(err, dErrors.CodeProvider, "unavailable", name+" is unavailable")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
