package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/actor"
	"github.com/fyrsmithlabs/remedyd/internal/budget"
	"github.com/fyrsmithlabs/remedyd/internal/cache"
	"github.com/fyrsmithlabs/remedyd/internal/forge"
	"github.com/fyrsmithlabs/remedyd/internal/progress"
	"github.com/fyrsmithlabs/remedyd/internal/runstore"
	"github.com/fyrsmithlabs/remedyd/internal/transcript"
)

// phaseFor maps an agent kind to the engine state its delegations run in.
var phaseFor = map[actor.Kind]Phase{
	actor.KindAnalyst:     PhaseAnalyzing,
	actor.KindImplementer: PhaseImplementing,
	actor.KindCritic:      PhaseCritiquing,
}

// capabilities names the forge operations each agent kind may ask for.
var capabilities = map[actor.Kind][]string{
	actor.KindAnalyst:     {"fetch_issue", "list_comments"},
	actor.KindImplementer: {"create_branch", "open_proposal", "create_comment"},
	actor.KindCritic:      {"fetch_diff", "submit_critique"},
}

// Engine is the workflow supervisor.
//
// The injected forge and checker are the raw platform clients; every run
// wraps them with its own call-budget counter and result cache, so
// concurrent runs cannot starve or poison each other.
type Engine struct {
	cfg     Config
	actors  map[actor.Kind]actor.Actor
	forge   forge.Forge
	checker forge.Checker
	store   runstore.Store
	sink    progress.Sink
	logger  *zap.Logger
}

// New assembles an engine. checker may be nil when no CI status is
// configured; sink may be nil to discard progress events.
func New(cfg Config, actors []actor.Actor, f forge.Forge, checker forge.Checker, store runstore.Store, sink progress.Sink, logger *zap.Logger) (*Engine, error) {
	cfg.ApplyDefaults()

	byKind := make(map[actor.Kind]actor.Actor, len(actors))
	for _, a := range actors {
		byKind[a.Kind()] = a
	}
	for _, kind := range []actor.Kind{actor.KindAnalyst, actor.KindImplementer, actor.KindCritic} {
		if _, ok := byKind[kind]; !ok {
			return nil, fmt.Errorf("missing %s actor", kind)
		}
	}
	if f == nil {
		return nil, fmt.Errorf("forge is required")
	}
	if store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if sink == nil {
		sink = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:     cfg,
		actors:  byKind,
		forge:   f,
		checker: checker,
		store:   store,
		sink:    sink,
		logger:  logger,
	}, nil
}

// Run executes one workflow to a terminal state.
//
// The returned error is non-nil only for Failed runs; a run that exhausts
// its iteration budget or is cancelled still returns a nil error with the
// outcome describing what happened.
func (e *Engine) Run(ctx context.Context, input Input) (Outcome, error) {
	kind := runstore.KindAnalyze
	if input.Resume != nil {
		kind = runstore.KindReview
	}
	run := runstore.NewRun(kind)
	if err := e.store.Create(ctx, run); err != nil {
		return Outcome{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return e.execute(ctx, run.ID, input)
}

// Start launches a run asynchronously and returns its id immediately. The
// terminal outcome lands in the run store.
func (e *Engine) Start(ctx context.Context, input Input) (string, error) {
	kind := runstore.KindAnalyze
	if input.Resume != nil {
		kind = runstore.KindReview
	}
	run := runstore.NewRun(kind)
	if err := e.store.Create(ctx, run); err != nil {
		return "", fmt.Errorf("failed to create run record: %w", err)
	}

	go func() {
		if _, err := e.execute(ctx, run.ID, input); err != nil {
			e.logger.Warn("background run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return run.ID, nil
}

// execute drives an already-registered run to a terminal state.
func (e *Engine) execute(ctx context.Context, runID string, input Input) (Outcome, error) {
	logger := e.logger.With(zap.String("run_id", runID), zap.Stringer("issue", input.Issue))
	logger.Info("starting workflow run",
		zap.Int("max_iterations", e.cfg.MaxIterations),
	)

	// Per-run guards: one budget counter and one cache per sequential
	// delegation path.
	counter := budget.NewCounter(e.cfg.CallBudget)
	runCache := cache.New()
	guarded := forge.NewGuarded(e.forge, runCache, counter, e.cfg.Retry, logger)
	var checker forge.Checker
	if e.checker != nil {
		checker = forge.NewGuardedChecker(e.checker, counter, e.cfg.Retry)
	}

	outcome, err := e.drive(ctx, runID, input, guarded, checker, logger)
	outcome.RunID = runID

	stats := runCache.Stats()
	logger.Debug("run cache stats",
		zap.Int("hits", stats.Hits),
		zap.Int("misses", stats.Misses),
		zap.Int("invalidations", stats.Invalidations),
		zap.Int("size", stats.Size),
		zap.Int("calls", counter.Count()),
	)

	switch {
	case err != nil:
		outcome.Status = runstore.StatusFailed
		e.finalize(runID, runstore.StatusFailed, outcome.Summary, err.Error(), logger)
		e.recordRun(ctx, runstore.StatusFailed, outcome.Iterations, err)
		return outcome, err
	case outcome.Status == runstore.StatusCancelled:
		e.finalize(runID, runstore.StatusCancelled, outcome.Summary, "", logger)
		e.recordRun(ctx, runstore.StatusCancelled, outcome.Iterations, nil)
		return outcome, nil
	default:
		outcome.Status = runstore.StatusCompleted
		e.finalize(runID, runstore.StatusCompleted, outcome.Summary, "", logger)
		e.recordRun(ctx, runstore.StatusCompleted, outcome.Iterations, nil)
		return outcome, nil
	}
}

// drive walks the state machine. It returns a cancelled outcome (nil error)
// when the run-scoped signal fires between transitions, and an error only
// for failures that are fatal to the run.
func (e *Engine) drive(ctx context.Context, runID string, input Input, f forge.Forge, checker forge.Checker, logger *zap.Logger) (Outcome, error) {
	var outcome Outcome

	tr := transcript.New(input.Seed)
	proposal := input.Resume
	branch := fmt.Sprintf("remedyd/fix-%d", input.Issue.Number)
	analysis := ""
	feedback := ""

	if proposal == nil {
		// Analyzing
		if cancelled(ctx) {
			outcome.Status = runstore.StatusCancelled
			return outcome, nil
		}
		issueText, err := f.FetchIssue(ctx, input.Issue)
		if err != nil {
			return outcome, err
		}
		analysis, err = e.delegate(ctx, runID, tr, actor.KindAnalyst, analystInstruction(input.Issue, issueText), 0)
		if err != nil {
			return outcome, err
		}

		// Evaluating
		e.reason(runID, tr, PhaseEvaluating, "evaluating analysis verdict")
		if notActionable(analysis) {
			logger.Info("analysis found the report not actionable")
			outcome.Summary = "not actionable: " + firstLine(analysis)
			e.report(ctx, f, input.Issue, outcome.Summary, logger)
			return outcome, nil
		}
	}

	fixMode := proposal != nil
	for iteration := 1; ; iteration++ {
		// Implementing (skipped on the first pass of a resumed run: the
		// proposal to critique already exists)
		if !(input.Resume != nil && iteration == 1) {
			if cancelled(ctx) {
				outcome.Status = runstore.StatusCancelled
				return outcome, nil
			}
			instruction := implementerInstruction(input.Issue, analysis, feedback, branch, proposal, fixMode, e.cfg.AddTests)
			implResult, err := e.delegate(ctx, runID, tr, actor.KindImplementer, instruction, iteration)
			if err != nil {
				return outcome, err
			}

			if proposal == nil {
				if _, err := f.CreateBranch(ctx, input.Issue, branch); err != nil {
					return outcome, err
				}
				opened, err := f.OpenProposal(ctx, forge.ProposalSpec{
					Owner: input.Issue.Owner,
					Repo:  input.Issue.Repo,
					Title: fmt.Sprintf("Fix %s", input.Issue),
					Body:  firstLine(implResult),
					Head:  branch,
				})
				if err != nil {
					return outcome, err
				}
				proposal = &forge.Ref{Owner: input.Issue.Owner, Repo: input.Issue.Repo, Number: opened.Number}
				logger.Info("proposal open", zap.Stringer("proposal", *proposal), zap.Bool("pre_existing", opened.Skipped))
			}
			fixMode = true
		}
		outcome.Proposal = proposal

		// Critiquing
		if cancelled(ctx) {
			outcome.Status = runstore.StatusCancelled
			return outcome, nil
		}
		diff, err := f.FetchDiff(ctx, *proposal)
		if err != nil {
			return outcome, err
		}
		critique, err := e.delegate(ctx, runID, tr, actor.KindCritic, criticInstruction(*proposal, diff, feedback), iteration)
		if err != nil {
			return outcome, err
		}
		verdict := actor.ParseVerdict(critique)
		if _, err := f.SubmitCritique(ctx, *proposal, critique); err != nil {
			return outcome, err
		}
		outcome.Verdict = verdict
		outcome.Iterations = iteration
		if err := e.store.Update(ctx, runID, func(r *runstore.Run) {
			r.IterationCount = iteration
		}); err != nil {
			logger.Warn("failed to record iteration count", zap.Error(err))
		}

		// CIChecking
		ci := forge.CheckResult{Overall: forge.CheckNone}
		if checker != nil {
			ci, err = e.pollChecks(ctx, tr, *proposal, checker)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				outcome.Status = runstore.StatusCancelled
				return outcome, nil
			}
			if err != nil {
				return outcome, err
			}
		}

		// Deciding
		e.reason(runID, tr, PhaseDeciding,
			fmt.Sprintf("iteration %d/%d verdict=%s ci=%s", iteration, e.cfg.MaxIterations, verdict, ci.Overall))
		if verdict == actor.VerdictResolved && (ci.Overall == forge.CheckSuccess || ci.Overall == forge.CheckNone) {
			outcome.Summary = fmt.Sprintf("resolved after %d iteration(s): %s", iteration, proposal)
			break
		}

		feedback = combineFeedback(critique, ci)
		outcome.Feedback = feedback
		if iteration >= e.cfg.MaxIterations {
			// Running out of iterations is a bounded stop, not a failure.
			logger.Info("iteration budget exhausted", zap.Int("iterations", iteration))
			outcome.Summary = fmt.Sprintf("iteration budget exhausted after %d iteration(s), last verdict %s: %s", iteration, verdict, proposal)
			break
		}
	}

	// Reporting
	if cancelled(ctx) {
		outcome.Status = runstore.StatusCancelled
		return outcome, nil
	}
	e.report(ctx, f, *proposal, outcome.Summary, logger)
	return outcome, nil
}

// delegate hands an instruction to one agent and appends the paired
// delegation/result turns. The transcript is compacted before every
// delegation so a long-lived run stays inside its character budget. A panic
// inside an agent is caught and surfaced as that delegation's error.
func (e *Engine) delegate(ctx context.Context, runID string, tr *transcript.Transcript, kind actor.Kind, instruction string, iteration int) (result string, err error) {
	transcript.CompactIterations(tr, e.cfg.Compaction)
	transcript.CompactBySize(tr, e.cfg.Compaction)

	callID := uuid.NewString()
	tr.Append(transcript.Delegation(kind, callID, instruction))

	if updateErr := e.store.Update(ctx, runID, func(r *runstore.Run) {
		r.ActiveDelegations[kind]++
	}); updateErr != nil {
		e.logger.Warn("failed to record delegation start", zap.Error(updateErr))
	}
	e.sink.Publish(progress.Event{
		RunID:         runID,
		Phase:         string(phaseFor[kind]),
		Action:        progress.ActionStarted,
		Iteration:     iteration,
		MaxIterations: e.cfg.MaxIterations,
	})

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s delegation panicked: %v", kind, r)
		}
		elapsed := time.Since(start)

		if updateErr := e.store.Update(context.WithoutCancel(ctx), runID, func(r *runstore.Run) {
			r.ActiveDelegations[kind]--
			if r.ActiveDelegations[kind] <= 0 {
				delete(r.ActiveDelegations, kind)
			}
		}); updateErr != nil {
			e.logger.Warn("failed to record delegation end", zap.Error(updateErr))
		}
		e.sink.Publish(progress.Event{
			RunID:         runID,
			Phase:         string(phaseFor[kind]),
			Action:        progress.ActionCompleted,
			Iteration:     iteration,
			MaxIterations: e.cfg.MaxIterations,
			Elapsed:       elapsed,
		})

		delegationDuration.Record(context.WithoutCancel(ctx), elapsed.Seconds(),
			metric.WithAttributes(attribute.String("actor", string(kind))))
		if err != nil {
			delegationErrors.Add(context.WithoutCancel(ctx), 1,
				metric.WithAttributes(attribute.String("actor", string(kind))))
		}
	}()

	result, err = e.actors[kind].Invoke(ctx, instruction, capabilities[kind])
	if err != nil {
		return "", fmt.Errorf("%s delegation failed: %w", kind, err)
	}

	tr.Append(transcript.Result(kind, callID, result))
	return result, nil
}

// pollChecks reads the proposal's CI status, re-polling a bounded number of
// times while checks are still running. Each poll is recorded as a
// verification turn pair.
func (e *Engine) pollChecks(ctx context.Context, tr *transcript.Transcript, proposal forge.Ref, checker forge.Checker) (forge.CheckResult, error) {
	var result forge.CheckResult
	for attempt := 0; ; attempt++ {
		callID := uuid.NewString()
		tr.Append(transcript.VerificationCall(callID, fmt.Sprintf("ci status for %s", proposal)))

		var err error
		result, err = checker.Check(ctx, proposal)
		if err != nil {
			return result, err
		}
		tr.Append(transcript.VerificationResult(callID, fmt.Sprintf("%s %s", result.Overall, result.Detail)))

		if result.Overall != forge.CheckInProgress || attempt >= ciRechecks {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// reason appends a reasoning turn and mirrors it as a progress event.
func (e *Engine) reason(runID string, tr *transcript.Transcript, phase Phase, text string) {
	tr.Append(transcript.Reasoning(text))
	e.sink.Publish(progress.Event{
		RunID:  runID,
		Phase:  string(phase),
		Action: progress.ActionReasoning,
		Detail: text,
	})
}

// report posts the run summary on the issue or proposal. The write is
// idempotent and its failure does not fail an otherwise finished run.
func (e *Engine) report(ctx context.Context, f forge.Forge, ref forge.Ref, summary string, logger *zap.Logger) {
	if summary == "" {
		return
	}
	if _, err := f.CreateComment(ctx, ref, summary); err != nil {
		logger.Warn("failed to post run summary", zap.Error(err))
	}
}

// finalize moves the run record into its terminal status.
func (e *Engine) finalize(runID string, status runstore.Status, outcome, errText string, logger *zap.Logger) {
	if err := e.store.Finalize(context.Background(), runID, status, outcome, errText); err != nil {
		logger.Error("failed to finalize run record", zap.Error(err))
		return
	}
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.String("outcome", outcome),
	)
}

// recordRun emits terminal run metrics.
func (e *Engine) recordRun(ctx context.Context, status runstore.Status, iterations int, err error) {
	ctx = context.WithoutCancel(ctx)
	runsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	iterationHistogram.Record(ctx, int64(iterations))

	var exceeded *budget.ExceededError
	if errors.As(err, &exceeded) {
		budgetTrips.Add(ctx, 1)
	}
}

// cancelled polls the run-scoped cancellation signal. Cancellation is
// cooperative: an in-flight call finishes, and this gate blocks the next
// transition.
func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// notActionable reports whether the analyst declined the report.
func notActionable(analysis string) bool {
	lower := strings.ToLower(analysis)
	return strings.Contains(lower, "not actionable") || strings.Contains(lower, "not_actionable")
}

// firstLine trims text to its first non-empty line for summaries.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return text
}

// combineFeedback folds a CI failure into the critique so the implementer
// sees one payload.
func combineFeedback(critique string, ci forge.CheckResult) string {
	if ci.Overall != forge.CheckFailure {
		return critique
	}
	if ci.Detail == "" {
		return critique + "\n\nCI checks failed."
	}
	return critique + "\n\nCI checks failed: " + ci.Detail
}

func analystInstruction(issue forge.Ref, issueText string) string {
	return fmt.Sprintf("Analyze the report %s and decide whether it is actionable.\n\n%s", issue, issueText)
}

func implementerInstruction(issue forge.Ref, analysis, feedback, branch string, proposal *forge.Ref, fixMode, addTests bool) string {
	var b strings.Builder
	if fixMode && proposal != nil {
		// The proposal's head branch is whatever it was opened with; on a
		// resumed run that is not ours to name, so identify the work by the
		// proposal itself.
		fmt.Fprintf(&b, "Amend the existing change for %s on proposal %s; do not create a new one.\n", issue, proposal)
	} else {
		fmt.Fprintf(&b, "Implement a fix for %s on branch %s.\n", issue, branch)
	}
	if addTests {
		b.WriteString("Cover the change with tests.\n")
	}
	if analysis != "" {
		b.WriteString("\nAnalysis:\n")
		b.WriteString(analysis)
	}
	if feedback != "" {
		b.WriteString("\nFeedback to address:\n")
		b.WriteString(feedback)
	}
	return b.String()
}

func criticInstruction(proposal forge.Ref, diff, previousFeedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review proposal %s and answer with a verdict: resolved or needs-changes.\n\nDiff:\n%s", proposal, diff)
	if previousFeedback != "" {
		b.WriteString("\n\nPrior feedback:\n")
		b.WriteString(previousFeedback)
	}
	return b.String()
}
