package models

import "time"

// OverallStatus summarises a user's KYC progress.
type OverallStatus string

const (
	OverallCompleted OverallStatus = "completed"
	OverallPartial   OverallStatus = "partial"
	OverallPending   OverallStatus = "pending"
)

// RequiredDocuments must all be verified for completed status.
var RequiredDocuments = []DocumentType{DocumentAadhaar, DocumentPAN}

// Overview is the per-user KYC summary.
type Overview struct {
	UserID     string                          `json:"userId"`
	Overall    OverallStatus                   `json:"overallStatus"`
	Percentage int                             `json:"completionPercentage"`
	NextStep   Step                            `json:"nextStep,omitempty"`
	Documents  map[DocumentType]DocumentStatus `json:"documents"`
}

// NewOverview derives overall status, completion and the next step from the
// per-document records. Passport and biometric are optional.
func NewOverview(userID string, docs map[DocumentType]DocumentStatus) Overview {
	o := Overview{UserID: userID, Documents: docs}
	if o.Documents == nil {
		o.Documents = map[DocumentType]DocumentStatus{}
	}

	required := 0
	anyVerified := false
	for _, d := range o.Documents {
		if d.Status == StatusVerified {
			anyVerified = true
		}
	}
	for _, doc := range RequiredDocuments {
		if o.Documents[doc].Status == StatusVerified {
			required++
			continue
		}
		if o.NextStep == "" {
			o.NextStep, _ = InitiatingStep(doc)
		}
	}

	o.Percentage = required * 100 / len(RequiredDocuments)
	switch {
	case required == len(RequiredDocuments):
		o.Overall = OverallCompleted
	case anyVerified:
		o.Overall = OverallPartial
	default:
		o.Overall = OverallPending
	}
	return o
}

// HistoryEntry is one past verification as shown to its owner. Provider
// result data stays in the ledger.
type HistoryEntry struct {
	TaskID       string       `json:"taskId"`
	Step         Step         `json:"step"`
	DocumentType DocumentType `json:"documentType"`
	Status       Status       `json:"status"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// IdentifierCheck is the outcome of a format-only identifier check.
type IdentifierCheck struct {
	Step        Step   `json:"step"`
	Valid       bool   `json:"valid"`
	MaskedValue string `json:"maskedValue"`
	Message     string `json:"message"`
}
