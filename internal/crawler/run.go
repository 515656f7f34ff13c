package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Stage names a pipeline stage.
type Stage string

// Pipeline stages.
const (
	StageHarvest   Stage = "harvest"
	StageNormalize Stage = "normalize"
)

// RunStatus enumerates the lifecycle states of a stage run.
type RunStatus string

// Run states.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Run is one invocation of a stage. Completed runs are also the payload of
// stage-completion events.
type Run struct {
	ID         string     `json:"run_id"`
	Stage      Stage      `json:"stage"`
	Status     RunStatus  `json:"status"`
	Query      string     `json:"query,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	From       time.Time  `json:"from"`
	To         time.Time  `json:"to"`
	Submitted  time.Time  `json:"submitted_at"`
	Started    *time.Time `json:"started_at,omitempty"`
	Finished   *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Summary    any        `json:"summary,omitempty"`
}

// Attributes are the message attributes a completion event carries so
// subscribers can filter without decoding the body.
func (r Run) Attributes() map[string]string {
	return map[string]string{
		"run_id": r.ID,
		"stage":  string(r.Stage),
		"status": string(r.Status),
	}
}

// RunStore tracks stage runs started through the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
}

// RunQueue hands submitted runs to the workers that execute them.
type RunQueue interface {
	Enqueue(ctx context.Context, run Run) error
	Dequeue(ctx context.Context) (Run, error)
}
