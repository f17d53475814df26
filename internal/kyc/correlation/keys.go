package correlation

import (
	"kycgate/internal/kyc/models"
)

// TaskKey addresses one task snapshot.
func TaskKey(step models.Step, userID, taskID string) string {
	return "task:" + string(step) + ":" + userID + ":" + taskID
}

// CurrentKey addresses the back-pointer to the user's latest task for a
// step. It owns nothing: removing it leaves the task in place.
func CurrentKey(step models.Step, userID string) string {
	return "current:" + string(step) + ":" + userID
}

// TaskRefKey resolves a bare task id, as delivered by webhooks.
func TaskRefKey(taskID string) string {
	return "taskref:" + taskID
}

// DocumentStatusKey addresses the per-document status record.
func DocumentStatusKey(doc models.DocumentType, userID string) string {
	return "status:" + string(doc) + ":" + userID
}
