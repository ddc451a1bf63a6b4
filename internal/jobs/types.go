package jobs

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Kind selects which orchestrator entry point the job drives.
type Kind string

const (
	KindBatch       Kind = "batch"
	KindRetryFailed Kind = "retry-failed"
)

type EnqueueRequest struct {
	Source    string
	SessionID string
	Kind      Kind
}

// GenerationJob is one queued batch run. The session ID doubles as the
// dedupe key, so a session has at most one pending or running job.
type GenerationJob struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
