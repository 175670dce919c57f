package domain

import "time"

// TaskStatus is set once a queued task reaches a terminal state.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Attempt records a single retry of a queued task.
type Attempt struct {
	Timestamp   time.Time `json:"timestamp"`
	RetryNumber int       `json:"retry_number"`
}

// QueueTask is one unit of background work on the FIFO queue. Only the
// enqueue/retry/complete operations mutate it, and each task is handed to a
// single dequeuer at a time, so no locking is needed.
type QueueTask struct {
	TaskID    string         `json:"task_id"`
	Payload   map[string]any `json:"payload"`
	Retries   int            `json:"retries"`
	CreatedAt time.Time      `json:"created_at"`
	Attempts  []Attempt      `json:"attempts"`
	Status    TaskStatus     `json:"status,omitempty"`
	FailedAt  *time.Time     `json:"failed_at,omitempty"`
}

// CompletedTask is the audit snapshot written when a task succeeds. It is
// retained for 24 hours and not queryable after that.
type CompletedTask struct {
	QueueTask
	CompletedAt time.Time `json:"completed_at"`
}
