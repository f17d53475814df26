package httputil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "kycgate/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error hides message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body Envelope
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Kind != "internal_error" {
			t.Fatalf("expected kind internal_error, got %q", body.Kind)
		}
		if body.Success {
			t.Fatalf("expected success=false")
		}
		if strings.Contains(body.Error, "db failed") {
			t.Fatalf("internal message leaked: %q", body.Error)
		}
	})

	t.Run("bad request includes message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body Envelope
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Kind != "bad_request" {
			t.Fatalf("expected kind bad_request, got %q", body.Kind)
		}
		if body.Error != "invalid input" {
			t.Fatalf("expected error message to be returned for bad request")
		}
	})

	t.Run("provider reason selects status", func(t *testing.T) {
		cases := map[string]int{
			"invalid_input": http.StatusUnprocessableEntity,
			"auth_failure":  http.StatusForbidden,
			"rate_limited":  http.StatusTooManyRequests,
			"unavailable":   http.StatusServiceUnavailable,
		}
		for reason, status := range cases {
			w := httptest.NewRecorder()
			WriteError(w, dErrors.WithReason(nil, dErrors.CodeProvider, reason, "provider failed"))
			if w.Code != status {
				t.Fatalf("reason %s: expected %d, got %d", reason, status, w.Code)
			}
		}
	})

	t.Run("unauthorized maps to auth_error kind", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid signature"))

		var body Envelope
		_ = json.NewDecoder(w.Body).Decode(&body)
		if w.Code != http.StatusUnauthorized || body.Kind != "auth_error" {
			t.Fatalf("unexpected response %d %+v", w.Code, body)
		}
	})
}

type sampleRequest struct {
	Name string `json:"name"`
}

func (r *sampleRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[sampleRequest](w, r, logger, r.Context(), "req-1")
		if !ok || req.Name != "x" {
			t.Fatalf("expected decoded request, got %+v ok=%v", req, ok)
		}
	})

	t.Run("validation failure writes 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[sampleRequest](w, r, logger, r.Context(), "req-2")
		if ok || w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("malformed json writes 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[sampleRequest](w, r, logger, r.Context(), "req-3")
		if ok || w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}
