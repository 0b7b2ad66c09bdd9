package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTokenCleanup sweeps expired token rows.
	TaskTokenCleanup = "token:cleanup"
)

// TokenCleanupPayload parameterizes a cleanup run. RetainDays bounds how long
// expired rows are kept for audit before being purged.
type TokenCleanupPayload struct {
	RetainDays int `json:"retain_days"`
}

// NewTokenCleanupTask constructs an Asynq task.
func NewTokenCleanupTask(payload TokenCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTokenCleanup, data), nil
}
