// Package kycclient is a Go SDK for the verification REST API. Each Client
// is one client session: it owns a backoff.Controller that gates Verify
// locally, so no request is sent while a cooldown is running.
package kycclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kycgate/pkg/backoff"
)

// DefaultTimeout bounds each API call.
const DefaultTimeout = 60 * time.Second

// Task is the server's view of a verification task.
type Task struct {
	TaskID      string          `json:"taskId"`
	Step        string          `json:"step"`
	Status      string          `json:"status"`
	Message     string          `json:"message,omitempty"`
	MaskedValue string          `json:"maskedValue,omitempty"`
	CaptureRef  string          `json:"captureRef,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// DocumentStatus is one entry of an Overview.
type DocumentStatus struct {
	Document  string    `json:"document"`
	Status    string    `json:"status"`
	TaskID    string    `json:"taskId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Overview is the per-user KYC summary.
type Overview struct {
	UserID     string                    `json:"userId"`
	Overall    string                    `json:"overallStatus"`
	Percentage int                       `json:"completionPercentage"`
	NextStep   string                    `json:"nextStep,omitempty"`
	Documents  map[string]DocumentStatus `json:"documents"`
}

// InitiateInput starts a verification.
type InitiateInput struct {
	IdentifyingValue string `json:"identifyingValue"`
	Consent          bool   `json:"consent"`
	DateOfBirth      string `json:"dateOfBirth,omitempty"`
	BiometricType    string `json:"biometricType,omitempty"`
}

// VerifyInput submits a proof or biometric sample.
type VerifyInput struct {
	TaskID        string `json:"taskId"`
	Proof         string `json:"proof,omitempty"`
	BiometricType string `json:"biometricType,omitempty"`
	Template      string `json:"template,omitempty"`
	Quality       int    `json:"quality,omitempty"`
	Format        string `json:"format,omitempty"`
}

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode int
	Kind       string
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("kyc api %d %s/%s: %s", e.StatusCode, e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("kyc api %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// Client is one client session against the API.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
	gate    *backoff.Controller
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithPolicy replaces the default backoff policy.
func WithPolicy(p backoff.Policy) Option {
	return func(cl *Client) {
		cl.gate = backoff.New(p)
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		cl.now = now
	}
}

// New builds a session for userID authenticated by a bearer token.
func New(baseURL, token, userID string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("kyc base URL: %w", err)
	}
	if token == "" || userID == "" {
		return nil, errors.New("token and user id are required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		http:    &http.Client{Timeout: DefaultTimeout},
		gate:    backoff.New(backoff.DefaultPolicy()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RetryState exposes the session's backoff state.
func (c *Client) RetryState() backoff.RetryState {
	return c.gate.State()
}

// Initiate starts a verification. It is not gated by the cooldown.
func (c *Client) Initiate(ctx context.Context, step string, in InitiateInput) (*Task, error) {
	var task Task
	body := struct {
		UserID string `json:"userId"`
		InitiateInput
	}{c.userID, in}
	if err := c.do(ctx, http.MethodPost, "/verify/"+url.PathEscape(step)+"/initiate", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Resend requests a fresh OTP for an Aadhaar verification.
func (c *Client) Resend(ctx context.Context, step string, in InitiateInput) (*Task, error) {
	var task Task
	body := struct {
		UserID string `json:"userId"`
		InitiateInput
	}{c.userID, in}
	if err := c.do(ctx, http.MethodPost, "/verify/"+url.PathEscape(step)+"/resend", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Verify submits a proof. While a cooldown is running it returns
// *backoff.CooldownActiveError without contacting the server. Any failure
// counts toward the next cooldown; a success clears it.
func (c *Client) Verify(ctx context.Context, step string, in VerifyInput) (*Task, error) {
	if err := c.gate.Check(c.now()); err != nil {
		return nil, err
	}

	var task Task
	body := struct {
		UserID string `json:"userId"`
		VerifyInput
	}{c.userID, in}
	if err := c.do(ctx, http.MethodPost, "/verify/"+url.PathEscape(step)+"/verify", body, &task); err != nil {
		c.gate.RecordFailure(c.now())
		return nil, err
	}
	c.gate.RecordSuccess()
	return &task, nil
}

func (c *Client) Cancel(ctx context.Context, step, taskID string) (*Task, error) {
	var task Task
	body := map[string]string{"userId": c.userID, "taskId": taskID}
	if err := c.do(ctx, http.MethodPost, "/verify/"+url.PathEscape(step)+"/cancel", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) TaskStatus(ctx context.Context, step, taskID string) (*Task, error) {
	var task Task
	path := "/verify/" + url.PathEscape(step) + "/tasks/" + url.PathEscape(taskID) + "?userId=" + url.QueryEscape(c.userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SyncPolicy adopts the server's advertised retry policy. The current
// attempt count is kept.
func (c *Client) SyncPolicy(ctx context.Context) (backoff.Policy, error) {
	var rp struct {
		Threshold       int `json:"threshold"`
		ThresholdOffset int `json:"thresholdOffset"`
		BaseSeconds     int `json:"baseSeconds"`
		MaxSeconds      int `json:"maxCooldownSeconds"`
	}
	if err := c.do(ctx, http.MethodGet, "/kyc/retry-policy", nil, &rp); err != nil {
		return backoff.Policy{}, err
	}
	p := backoff.Policy{
		Threshold:       rp.Threshold,
		ThresholdOffset: rp.ThresholdOffset,
		Base:            time.Duration(rp.BaseSeconds) * time.Second,
		MaxCooldown:     time.Duration(rp.MaxSeconds) * time.Second,
	}
	c.gate.SetPolicy(p)
	return p, nil
}

func (c *Client) Status(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.do(ctx, http.MethodGet, "/kyc/status/"+url.PathEscape(c.userID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Reason  string          `json:"reason"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kyc api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Kind: "unknown", Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Kind: env.Kind, Reason: env.Reason, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
