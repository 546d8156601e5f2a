package tasks

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypeRunExtraction = "extraction:run"
)

// TaskPriority defines priority levels for tasks
const (
	PriorityLow      = "low"
	PriorityDefault  = "default"
	PriorityCritical = "critical"
)

var ErrInvalidPayload = errors.New("invalid task payload")

// RunPayload identifies the job a worker must run. Everything else is read
// from the job repository when the task starts.
type RunPayload struct {
	JobID string `json:"job_id"`
}

// NewRunTask builds the task that runs a job on a worker.
func NewRunTask(jobID string, opts ...asynq.Option) (*asynq.Task, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: empty job id", ErrInvalidPayload)
	}

	payload, err := json.Marshal(RunPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return asynq.NewTask(TypeRunExtraction, payload, opts...), nil
}

// ParseRunPayload decodes and validates the payload of a run task.
func ParseRunPayload(data []byte) (RunPayload, error) {
	var payload RunPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if payload.JobID == "" {
		return payload, fmt.Errorf("%w: empty job id", ErrInvalidPayload)
	}

	return payload, nil
}
