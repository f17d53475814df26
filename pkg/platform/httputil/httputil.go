// Package httputil holds the JSON envelope shared by every handler.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "kycgate/pkg/domain-errors"
)

// maxBodyBytes caps decoded request bodies.
const maxBodyBytes = 1 << 20

// Envelope is the response shape for every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Validatable is implemented by request DTOs.
type Validatable interface {
	Validate() error
}

// WriteJSON writes v as a successful envelope.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	writeEnvelope(w, status, Envelope{Success: true, Data: v})
}

// WriteError maps err onto a status code and a failure envelope. Internal
// errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	env := Envelope{Success: false, Kind: kindFor(code)}

	var reason string
	if de, ok := dErrors.As(err); ok {
		reason = de.Reason
		env.Error = de.Message
		env.Reason = de.Reason
	}
	if code == dErrors.CodeInternal || env.Error == "" {
		env.Error = "internal server error"
		env.Reason = ""
	}

	writeEnvelope(w, StatusFor(code, reason), env)
}

// StatusFor maps a domain code to an HTTP status.
func StatusFor(code dErrors.Code, reason string) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeCooldown:
		return http.StatusTooManyRequests
	case dErrors.CodeVerificationFailed:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeProvider:
		switch reason {
		case "invalid_input":
			return http.StatusUnprocessableEntity
		case "auth_failure":
			return http.StatusForbidden
		case "rate_limited":
			return http.StatusTooManyRequests
		default:
			return http.StatusServiceUnavailable
		}
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(code dErrors.Code) string {
	switch code {
	case dErrors.CodeUnauthorized, dErrors.CodeForbidden:
		return "auth_error"
	default:
		return string(code)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// DecodeAndPrepare decodes the request body into T and runs its validation.
// On failure it writes the error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}

	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			logger.InfoContext(ctx, "request validation failed",
				"error", err,
				"request_id", requestID,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}
