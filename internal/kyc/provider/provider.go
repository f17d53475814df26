// Package provider talks to the third-party verification provider.
package provider

import (
	"context"
	"encoding/json"

	"kycgate/internal/kyc/models"
)

// Client is the provider contract the session manager depends on.
// Implementations return *Error for every failure and never panic on 4xx.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Response, error)
	Submit(ctx context.Context, req SubmitRequest) (*Response, error)
}

// InitiateRequest starts a provider task. Data carries the identifying
// value; it is sent to the provider and nowhere else.
type InitiateRequest struct {
	Step    models.Step
	TaskID  string
	GroupID string
	Data    map[string]any
}

// SubmitRequest sends a proof for, or polls, an existing task.
type SubmitRequest struct {
	Step    models.Step
	TaskID  string
	GroupID string
	Proof   string
	Data    map[string]any
}

// Response is the provider's normalized reply.
type Response struct {
	// ProviderTaskID is the provider's own id when it assigns one.
	ProviderTaskID string
	Status         string
	Message        string
	Result         json.RawMessage
}
