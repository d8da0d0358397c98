package api

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepStatus represents the lifecycle state of one step within an execution.
// A step downgraded by an on_error skip policy ends as skipped, not failed.
// Steps never started because the execution stopped or was cancelled remain
// pending.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of one step within one execution. Retries
// mutate Attempt in place rather than creating new entries.
type StepResult struct {
	StepID      string      `json:"step_id"`
	Status      StepStatus  `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Attempt     int         `json:"attempt"`
	MaxAttempts int         `json:"max_attempts"`
	Output      interface{} `json:"output,omitempty"`
	Error       *Error      `json:"error,omitempty"`
}

// ExecutionResult is the complete record of one workflow execution. It is
// created at execution start, mutated only by the engine driving that
// execution, and immutable once terminal.
type ExecutionResult struct {
	ExecutionID     string                 `json:"execution_id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion string                 `json:"workflow_version"`
	Status          ExecutionStatus        `json:"status"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationMs      int64                  `json:"duration_ms"`
	Outputs         map[string]interface{} `json:"outputs"`
	Steps           []*StepResult          `json:"steps"`
	StepsCompleted  int                    `json:"steps_completed"`
	StepsSkipped    int                    `json:"steps_skipped"`
	StepsFailed     int                    `json:"steps_failed"`
	Error           *Error                 `json:"error,omitempty"`
}

// Step returns the StepResult for the given step id, or nil.
func (r *ExecutionResult) Step(stepID string) *StepResult {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s
		}
	}
	return nil
}

// ExecutionSummary is the listing shape for execution history, omitting
// per-step detail.
type ExecutionSummary struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	StepCount   int             `json:"step_count"`
	Error       *Error          `json:"error,omitempty"`
}

// ListExecutionsRequest filters and paginates execution history queries.
type ListExecutionsRequest struct {
	WorkflowID string          `json:"workflow_id,omitempty"`
	Status     ExecutionStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// ListExecutionsResponse is a page of execution summaries, most recent
// first.
type ListExecutionsResponse struct {
	Executions []ExecutionSummary `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
	HasMore    bool               `json:"has_more"`
}
