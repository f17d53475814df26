package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycgate/internal/kyc/metrics"
	"kycgate/internal/kyc/models"
	"kycgate/pkg/platform/circuit"
)

// DefaultTimeout bounds each provider call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a provider reply is read.
const maxResponseBytes = 1 << 20

// One fixed endpoint per operation.
var initiatePaths = map[models.Step]string{
	models.StepAadhaarOTPInit:    "/v3/tasks/async/verify_with_source/ind_aadhaar_otp",
	models.StepPANVerify:         "/v3/tasks/sync/verify_with_source/ind_pan",
	models.StepPassportVerify:    "/v3/tasks/sync/verify_with_source/ind_passport",
	models.StepBiometricInitiate: "/v3/tasks/sync/aadhaar/biometric/initiate",
}

var submitPaths = map[models.Step]string{
	models.StepAadhaarOTPVerify: "/v3/tasks/async/verify_with_source/ind_aadhaar_otp",
	models.StepBiometricCapture: "/v3/tasks/sync/aadhaar/biometric/capture",
	models.StepBiometricVerify:  "/v3/tasks/sync/aadhaar/biometric/verify",
}

// taskStatusPath is polled for single-shot steps that finished
// asynchronously.
const taskStatusPath = "/v3/tasks/"

// HTTPConfig configures the HTTP provider client.
type HTTPConfig struct {
	ProviderID string
	BaseURL    string
	APIKey     string
	AccountID  string
	Timeout    time.Duration
}

// HTTPClient is the provider client over the provider's REST API.
type HTTPClient struct {
	cfg     HTTPConfig
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(h *HTTPClient) {
		h.breaker = b
	}
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTPClient) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(h *HTTPClient) {
		h.metrics = m
	}
}

// NewHTTPClient validates cfg and builds a client.
func NewHTTPClient(cfg HTTPConfig, opts ...HTTPOption) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("provider base URL: %w", err)
	}
	if cfg.APIKey == "" || cfg.AccountID == "" {
		return nil, errors.New("provider API key and account id are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProviderID == "" {
		cfg.ProviderID = "idfy"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.New("provider-"+cfg.ProviderID, circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:  slog.Default(),
		tracer:  otel.Tracer("kycgate/internal/kyc/provider"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ProviderID names the provider in ledger rows and logs.
func (c *HTTPClient) ProviderID() string {
	return c.cfg.ProviderID
}

type taskPayload struct {
	TaskID  string         `json:"task_id"`
	GroupID string         `json:"group_id"`
	Data    map[string]any `json:"data"`
}

type apiResponse struct {
	RequestID string          `json:"request_id"`
	TaskID    string          `json:"task_id"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Result    json.RawMessage `json:"result"`
}

func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (*Response, error) {
	path, ok := initiatePaths[req.Step]
	if !ok {
		return nil, NewError(ReasonInvalidInput, c.cfg.ProviderID, "no initiate endpoint for step "+string(req.Step), nil)
	}
	body := taskPayload{TaskID: req.TaskID, GroupID: req.GroupID, Data: req.Data}
	return c.do(ctx, "initiate", req.Step, http.MethodPost, path, body)
}

func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*Response, error) {
	if path, ok := submitPaths[req.Step]; ok {
		data := make(map[string]any, len(req.Data)+1)
		for k, v := range req.Data {
			data[k] = v
		}
		if req.Proof != "" {
			switch req.Step {
			case models.StepAadhaarOTPVerify:
				data["otp"] = req.Proof
			case models.StepBiometricVerify:
				data["capture_id"] = req.Proof
			}
		}
		body := taskPayload{TaskID: req.TaskID, GroupID: req.GroupID, Data: data}
		return c.do(ctx, "submit", req.Step, http.MethodPost, path, body)
	}
	if req.Step.SingleShot() {
		return c.do(ctx, "status", req.Step, http.MethodGet, taskStatusPath+url.PathEscape(req.TaskID), nil)
	}
	return nil, NewError(ReasonInvalidInput, c.cfg.ProviderID, "no submit endpoint for step "+string(req.Step), nil)
}

func (c *HTTPClient) do(ctx context.Context, op string, step models.Step, method, path string, payload any) (resp *Response, err error) {
	ctx, span := c.tracer.Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kyc.provider", c.cfg.ProviderID),
			attribute.String("kyc.step", string(step)),
			attribute.String("http.request.method", method),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.ObserveProvider(op, time.Since(start).Seconds())
		if err != nil {
			reason := ReasonOf(err)
			c.metrics.IncProviderFailure(string(reason))
			span.RecordError(err)
			span.SetStatus(codes.Error, string(reason))
		}
		span.End()
	}()

	if !c.breaker.Allow() {
		return nil, NewError(ReasonUnavailable, c.cfg.ProviderID, "circuit open", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, NewError(ReasonInvalidInput, c.cfg.ProviderID, "encode request", err)
		}
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, NewError(ReasonUnavailable, c.cfg.ProviderID, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("api-key", c.cfg.APIKey)
	httpReq.Header.Set("account-id", c.cfg.AccountID)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, NewError(ReasonUnavailable, c.cfg.ProviderID, "request failed", err)
	}
	defer httpResp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, NewError(ReasonUnavailable, c.cfg.ProviderID, "read response", err)
	}

	return c.parse(ctx, op, step, httpResp.StatusCode, raw)
}

// parse inspects the status code instead of treating 4xx as transport
// failures, so callers get a classified error.
func (c *HTTPClient) parse(ctx context.Context, op string, step models.Step, status int, raw []byte) (*Response, error) {
	var body apiResponse
	decodeErr := json.Unmarshal(raw, &body)

	if status < 200 || status > 299 {
		reason := ReasonForStatus(status)
		if reason == ReasonUnavailable || reason == ReasonRateLimited {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
		detail := body.Message
		if detail == "" {
			detail = body.Error
		}
		c.logger.WarnContext(ctx, "provider rejected request",
			"provider", c.cfg.ProviderID,
			"operation", op,
			"step", string(step),
			"status_code", status,
			"reason", string(reason),
		)
		c.logger.DebugContext(ctx, "provider rejection detail",
			"provider", c.cfg.ProviderID,
			"detail", detail,
		)
		pe := NewError(reason, c.cfg.ProviderID, detail, nil)
		pe.StatusCode = status
		return nil, pe
	}

	c.breaker.RecordSuccess()
	if decodeErr != nil {
		return nil, NewError(ReasonUnavailable, c.cfg.ProviderID, "malformed response", decodeErr)
	}

	id := body.RequestID
	if id == "" {
		id = body.TaskID
	}
	return &Response{
		ProviderTaskID: id,
		Status:         body.Status,
		Message:        body.Message,
		Result:         body.Result,
	}, nil
}
