// Package runstore persists workflow run records.
//
// A run record is created when a workflow starts, mutated by the engine's
// progress, and finalized exactly once. Persistence is behind a small Store
// interface; the in-memory implementation is enough for a single process,
// and a durable implementation slots in for resuming across restarts.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/actor"
)

// Kind distinguishes the two workflow entry points.
type Kind string

const (
	// KindAnalyze is a full run starting from a reported problem.
	KindAnalyze Kind = "analyze"
	// KindReview resumes work on an already-open proposal.
	KindReview Kind = "review"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is the persisted record of one workflow run.
type Run struct {
	ID             string             `json:"id"`
	Kind           Kind               `json:"kind"`
	Status         Status             `json:"status"`
	IterationCount int                `json:"iteration_count"`
	// ActiveDelegations counts in-flight delegations per agent kind.
	ActiveDelegations map[actor.Kind]int `json:"active_delegations"`
	Outcome           string             `json:"outcome,omitempty"`
	Error             string             `json:"error,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        *time.Time         `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (r *Run) Clone() *Run {
	out := *r
	out.ActiveDelegations = make(map[actor.Kind]int, len(r.ActiveDelegations))
	for k, v := range r.ActiveDelegations {
		out.ActiveDelegations[k] = v
	}
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		out.FinishedAt = &finished
	}
	return &out
}

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// ErrFinalized is returned when mutating a run already in a terminal state.
var ErrFinalized = errors.New("run already finalized")

// Store persists run records.
type Store interface {
	// Create registers a new run record.
	Create(ctx context.Context, run *Run) error

	// Get returns a copy of the run with the given id.
	Get(ctx context.Context, id string) (*Run, error)

	// Update applies mutate to the stored run. It fails with ErrFinalized
	// if the run is already terminal.
	Update(ctx context.Context, id string, mutate func(*Run)) error

	// Finalize moves the run into a terminal status exactly once.
	Finalize(ctx context.Context, id string, status Status, outcome, errText string) error

	// List returns copies of all runs, filtered by status when status is
	// non-empty, most recent first.
	List(ctx context.Context, status Status) ([]*Run, error)
}
