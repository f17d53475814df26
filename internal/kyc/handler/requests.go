package handler

import (
	"strings"

	"kycgate/internal/kyc/models"
	dErrors "kycgate/pkg/domain-errors"
)

// InitiateRequest is the body of POST /verify/{step}/initiate and
// POST /verify/{step}/resend.
type InitiateRequest struct {
	UserID           string `json:"userId"`
	IdentifyingValue string `json:"identifyingValue"`
	Consent          bool   `json:"consent"`
	DateOfBirth      string `json:"dateOfBirth,omitempty"`
	BiometricType    string `json:"biometricType,omitempty"`
}

func (r *InitiateRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "userId is required")
	}
	if strings.TrimSpace(r.IdentifyingValue) == "" {
		return dErrors.New(dErrors.CodeValidation, "identifyingValue is required")
	}
	return nil
}

// VerifyRequest is the body of POST /verify/{step}/verify. Biometric captures
// carry the sample in template, biometricType, quality and format.
type VerifyRequest struct {
	UserID        string `json:"userId"`
	TaskID        string `json:"taskId"`
	Proof         string `json:"proof,omitempty"`
	BiometricType string `json:"biometricType,omitempty"`
	Template      string `json:"template,omitempty"`
	Quality       int    `json:"quality,omitempty"`
	Format        string `json:"format,omitempty"`
}

func (r *VerifyRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.TaskID = strings.TrimSpace(r.TaskID)
	r.Proof = strings.TrimSpace(r.Proof)
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "userId is required")
	}
	if r.TaskID == "" {
		return dErrors.New(dErrors.CodeValidation, "taskId is required")
	}
	return nil
}

// capture builds the biometric sample. The template may arrive as proof.
func (r *VerifyRequest) capture() *models.Capture {
	template := r.Template
	if template == "" {
		template = r.Proof
	}
	return &models.Capture{
		Type:     models.BiometricType(r.BiometricType),
		Template: template,
		Quality:  r.Quality,
		Format:   r.Format,
	}
}

// CancelRequest is the body of POST /verify/{step}/cancel.
type CancelRequest struct {
	UserID string `json:"userId"`
	TaskID string `json:"taskId"`
}

func (r *CancelRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.TaskID = strings.TrimSpace(r.TaskID)
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "userId is required")
	}
	if r.TaskID == "" {
		return dErrors.New(dErrors.CodeValidation, "taskId is required")
	}
	return nil
}

// ValidateRequest is the body of POST /verify/{step}/validate.
type ValidateRequest struct {
	UserID           string `json:"userId"`
	IdentifyingValue string `json:"identifyingValue"`
}

func (r *ValidateRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "userId is required")
	}
	if strings.TrimSpace(r.IdentifyingValue) == "" {
		return dErrors.New(dErrors.CodeValidation, "identifyingValue is required")
	}
	return nil
}
