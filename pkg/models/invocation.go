package models

import "time"

// InvocationStatus represents the current state of a tool invocation.
type InvocationStatus string

const (
	// InvocationStatusPending indicates the invocation has not been admitted yet.
	InvocationStatusPending InvocationStatus = "pending"
	// InvocationStatusQueued indicates the invocation is waiting in the execution queue.
	InvocationStatusQueued InvocationStatus = "queued"
	// InvocationStatusExecuting indicates the invocation is currently running.
	InvocationStatusExecuting InvocationStatus = "executing"
	// InvocationStatusRetrying indicates the invocation failed and is waiting to re-enter execution.
	InvocationStatusRetrying InvocationStatus = "retrying"
	// InvocationStatusSuccess indicates the invocation completed successfully.
	InvocationStatusSuccess InvocationStatus = "success"
	// InvocationStatusFailed indicates the invocation failed terminally.
	InvocationStatusFailed InvocationStatus = "failed"
	// InvocationStatusCancelled indicates the invocation was cancelled before completion.
	InvocationStatusCancelled InvocationStatus = "cancelled"
	// InvocationStatusTimeout indicates the invocation exceeded its time budget.
	InvocationStatusTimeout InvocationStatus = "timeout"
)

// Valid returns true if the status is a known value.
func (s InvocationStatus) Valid() bool {
	switch s {
	case InvocationStatusPending, InvocationStatusQueued, InvocationStatusExecuting,
		InvocationStatusRetrying, InvocationStatusSuccess, InvocationStatusFailed,
		InvocationStatusCancelled, InvocationStatusTimeout:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state. The retrying
// sub-loop (retrying -> executing) is the only backward movement the
// lifecycle permits; terminal statuses are never left.
func (s InvocationStatus) Terminal() bool {
	switch s {
	case InvocationStatusSuccess, InvocationStatusFailed,
		InvocationStatusCancelled, InvocationStatusTimeout:
		return true
	default:
		return false
	}
}

// Invocation represents one request to run a named tool with arguments,
// tracked through its status lifecycle by the coordinator. Invocations
// are created on batch submission, mutated only by the coordinator, and
// discarded after the batch settles.
type Invocation struct {
	// ID is the unique identifier for this invocation.
	ID string `json:"id"`
	// SessionID is the session this invocation belongs to.
	SessionID string `json:"session_id"`
	// Tool is the registered tool name to execute.
	Tool string `json:"tool"`
	// Args holds the tool arguments.
	Args map[string]any `json:"args,omitempty"`
	// Status is the current lifecycle state.
	Status InvocationStatus `json:"status"`
	// Priority orders admission; higher runs first.
	Priority int `json:"priority"`
	// DependsOn lists invocation IDs that must complete before this one.
	DependsOn []string `json:"depends_on,omitempty"`
	// RetryCount is the number of retries attempted so far.
	RetryCount int `json:"retry_count"`
	// MaxRetries is the retry budget for this invocation.
	MaxRetries int `json:"max_retries"`
	// Timeout is the per-invocation execution time budget.
	Timeout time.Duration `json:"timeout,omitempty"`
	// CreatedAt is when the invocation was built.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution first began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the invocation reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the tool payload on success.
	Result any `json:"result,omitempty"`
	// Error holds the failure message on failure.
	Error string `json:"error,omitempty"`
	// Metadata carries coordinator annotations (fallback tagging, phase).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExecutionResult is the immutable outcome of one invocation attempt.
type ExecutionResult struct {
	// InvocationID identifies the invocation this result settles.
	InvocationID string `json:"invocation_id"`
	// Tool is the tool name that produced this result.
	Tool string `json:"tool"`
	// Success indicates whether the attempt succeeded.
	Success bool `json:"success"`
	// Payload holds the tool output on success.
	Payload any `json:"payload,omitempty"`
	// Error holds the failure message on failure.
	Error string `json:"error,omitempty"`
	// Elapsed is the wall-clock execution time of the final attempt.
	Elapsed time.Duration `json:"elapsed"`
	// RetryCount is the number of retries consumed before settling.
	RetryCount int `json:"retry_count"`
}
