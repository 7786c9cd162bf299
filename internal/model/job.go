package model

import "time"

// JobStatus represents the state of a maintenance job run.
type JobStatus string

const (
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// JobRun records one invocation of a maintenance command.
type JobRun struct {
	ID        string         `json:"id"`
	Job       string         `json:"job"`
	DryRun    bool           `json:"dry_run"`
	Status    JobStatus      `json:"status"`
	Params    map[string]any `json:"params,omitempty"`
	Result    *JobResult     `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// JobResult summarizes what a maintenance run examined and changed.
type JobResult struct {
	Examined int            `json:"examined"`
	Affected int            `json:"affected"`
	Batches  int            `json:"batches"`
	Residual int            `json:"residual"`
	Details  map[string]any `json:"details,omitempty"`
}
