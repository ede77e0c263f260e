// Package orchestrator drives the fix → propose → critique → iterate
// workflow.
//
// One Engine hosts many runs; each run proceeds through its state machine
// sequentially, so a run's transcript, call budget and cache are only ever
// touched by one delegation path at a time. Concurrent runs get independent
// instances of all three.
package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/actor"
	"github.com/fyrsmithlabs/remedyd/internal/forge"
	"github.com/fyrsmithlabs/remedyd/internal/retry"
	"github.com/fyrsmithlabs/remedyd/internal/runstore"
	"github.com/fyrsmithlabs/remedyd/internal/transcript"
)

// Phase names the engine's states. They double as progress event labels.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseEvaluating   Phase = "evaluating"
	PhaseImplementing Phase = "implementing"
	PhaseCritiquing   Phase = "critiquing"
	PhaseCIChecking   Phase = "ci_checking"
	PhaseDeciding     Phase = "deciding"
	PhaseReporting    Phase = "reporting"
)

// Config bounds a single run.
type Config struct {
	// MaxIterations caps the review → fix loop. Default: 3
	MaxIterations int

	// AddTests asks the implementer to cover the fix with tests.
	AddTests bool

	// CallBudget caps external calls per run. Default: budget.DefaultLimit
	CallBudget int

	// Retry is the policy applied to every external call. Nil means
	// defaults.
	Retry *retry.Config

	// PollInterval is the sleep between bounded CI status rechecks.
	// Default: 30s
	PollInterval time.Duration

	// Compaction holds the transcript compactor budgets.
	Compaction transcript.CompactorConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	c.Compaction.ApplyDefaults()
}

// Input describes the work a run starts from.
type Input struct {
	// Issue is the reported problem to fix.
	Issue forge.Ref

	// Seed is the single instruction the transcript opens with.
	Seed string

	// Resume, when set, skips analysis and implementation and goes straight
	// to critiquing the referenced open proposal.
	Resume *forge.Ref
}

// Outcome is what a finished run reports.
type Outcome struct {
	RunID      string
	Status     runstore.Status
	Iterations int
	Proposal   *forge.Ref
	Verdict    actor.Verdict
	// Feedback is the last combined critique + CI feedback, kept even when
	// the iteration budget ran out.
	Feedback string
	Summary  string
}

// ciRechecks is how many bounded re-polls an in_progress status gets before
// the engine falls through with whatever it last saw.
const ciRechecks = 2
