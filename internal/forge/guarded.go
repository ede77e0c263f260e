package forge

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/budget"
	"github.com/fyrsmithlabs/remedyd/internal/cache"
	"github.com/fyrsmithlabs/remedyd/internal/retry"
)

// Guarded wraps a Forge with the run's call budget, retry policy and result
// cache.
//
// Layering: the cache sits inside the breaker, so a read served from cache
// never spends budget and never hits the platform. Only a real call is
// counted, and only then does the retry policy engage. Writes invalidate the
// exact key for the written resource, every comment listing cached for the
// same location, and every cached diff (any write can change any number of
// downstream comparisons).
type Guarded struct {
	inner   Forge
	cache   *cache.Cache
	counter *budget.Counter
	retry   *retry.Config
	logger  *zap.Logger
}

// NewGuarded wires a forge into the run's shared cache and call budget.
// retryCfg may be nil to use defaults; logger may be nil.
func NewGuarded(inner Forge, c *cache.Cache, counter *budget.Counter, retryCfg *retry.Config, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &Guarded{
		inner:   inner,
		cache:   c,
		counter: counter,
		retry:   retryCfg,
		logger:  logger,
	}
}

// Cache returns the wrapped cache, for stats reporting.
func (g *Guarded) Cache() *cache.Cache {
	return g.cache
}

// read serves key from the cache, falling back to a budgeted, retried call.
func (g *Guarded) read(ctx context.Context, label, key string, op func(ctx context.Context) (string, error)) (string, error) {
	if value, ok := g.cache.Get(key); ok {
		g.logger.Debug("forge read served from cache", zap.String("key", key))
		return value, nil
	}

	if err := g.counter.Increment(label); err != nil {
		return "", err
	}

	var value string
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var opErr error
		value, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		return "", err
	}

	g.cache.Set(key, value)
	return value, nil
}

// write performs a budgeted, retried write and then invalidates the keys the
// write may have made stale.
func (g *Guarded) write(ctx context.Context, label, exactKey, location string, op func(ctx context.Context) (WriteResult, error)) (WriteResult, error) {
	if err := g.counter.Increment(label); err != nil {
		return WriteResult{}, err
	}

	var result WriteResult
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		return WriteResult{}, err
	}

	invalidated := 0
	if exactKey != "" && g.cache.Invalidate(exactKey) {
		invalidated++
	}
	invalidated += g.cache.InvalidateByPrefixAndSuffix(commentsKeyPrefix, locationSuffix(location))
	invalidated += g.cache.InvalidateByPrefix(diffKeyPrefix)

	g.logger.Debug("forge write invalidated cache entries",
		zap.String("operation", label),
		zap.Int("invalidated", invalidated),
		zap.Bool("skipped", result.Skipped),
	)
	return result, nil
}

// FetchIssue implements Forge.
func (g *Guarded) FetchIssue(ctx context.Context, ref Ref) (string, error) {
	return g.read(ctx, "fetch_issue", IssueKey(ref), func(ctx context.Context) (string, error) {
		return g.inner.FetchIssue(ctx, ref)
	})
}

// ListComments implements Forge.
func (g *Guarded) ListComments(ctx context.Context, ref Ref) (string, error) {
	return g.read(ctx, "list_comments", CommentsKey(ref), func(ctx context.Context) (string, error) {
		return g.inner.ListComments(ctx, ref)
	})
}

// FetchDiff implements Forge.
func (g *Guarded) FetchDiff(ctx context.Context, ref Ref) (string, error) {
	return g.read(ctx, "fetch_diff", DiffKey(ref), func(ctx context.Context) (string, error) {
		return g.inner.FetchDiff(ctx, ref)
	})
}

// CreateComment implements Forge.
func (g *Guarded) CreateComment(ctx context.Context, ref Ref, body string) (WriteResult, error) {
	return g.write(ctx, "create_comment", CommentsKey(ref), ref.Location(), func(ctx context.Context) (WriteResult, error) {
		return g.inner.CreateComment(ctx, ref, body)
	})
}

// CreateBranch implements Forge.
func (g *Guarded) CreateBranch(ctx context.Context, ref Ref, name string) (WriteResult, error) {
	return g.write(ctx, "create_branch", "", ref.Location(), func(ctx context.Context) (WriteResult, error) {
		return g.inner.CreateBranch(ctx, ref, name)
	})
}

// OpenProposal implements Forge.
func (g *Guarded) OpenProposal(ctx context.Context, spec ProposalSpec) (WriteResult, error) {
	location := spec.Owner + "/" + spec.Repo
	return g.write(ctx, "open_proposal", "", location, func(ctx context.Context) (WriteResult, error) {
		return g.inner.OpenProposal(ctx, spec)
	})
}

// SubmitCritique implements Forge.
func (g *Guarded) SubmitCritique(ctx context.Context, ref Ref, body string) (WriteResult, error) {
	return g.write(ctx, "submit_critique", CommentsKey(ref), ref.Location(), func(ctx context.Context) (WriteResult, error) {
		return g.inner.SubmitCritique(ctx, ref, body)
	})
}

// GuardedChecker wraps a status Checker with the same call budget and retry
// policy. Check results are never cached: the whole point of polling is to
// observe state changing underneath us.
type GuardedChecker struct {
	inner   Checker
	counter *budget.Counter
	retry   *retry.Config
}

// NewGuardedChecker wires a checker into the run's call budget.
func NewGuardedChecker(inner Checker, counter *budget.Counter, retryCfg *retry.Config) *GuardedChecker {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &GuardedChecker{inner: inner, counter: counter, retry: retryCfg}
}

// Check implements Checker.
func (g *GuardedChecker) Check(ctx context.Context, ref Ref) (CheckResult, error) {
	if err := g.counter.Increment("status_check"); err != nil {
		return CheckResult{}, err
	}
	var result CheckResult
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var opErr error
		result, opErr = g.inner.Check(ctx, ref)
		return opErr
	})
	return result, err
}
