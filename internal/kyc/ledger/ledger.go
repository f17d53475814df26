// Package ledger is the durable record of verification outcomes. Entries
// are keyed by provider task id and outlive the correlation cache.
package ledger

import (
	"bytes"
	"encoding/json"
	"time"

	"kycgate/internal/kyc/models"
)

// DefaultTimeout bounds every ledger round trip.
const DefaultTimeout = 3 * time.Second

// History page bounds.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// HistoryLimit clamps a requested page size into (0, MaxHistoryLimit].
func HistoryLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return n
	}
}

// Record is one ledger row.
type Record struct {
	TaskID       string
	UserID       string
	Step         models.Step
	DocumentType models.DocumentType
	Status       models.Status
	ResultData   json.RawMessage
	Provider     string
	UpdatedAt    time.Time
}

// sameOutcome reports whether r and other carry the same status and result.
// Results compare after JSON compaction so whitespace differences from the
// provider do not count as changes.
func (r Record) sameOutcome(other Record) bool {
	if r.Status != other.Status {
		return false
	}
	return bytes.Equal(compact(r.ResultData), compact(other.ResultData))
}

func compact(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	if buf.String() == "null" {
		return nil
	}
	return buf.Bytes()
}
