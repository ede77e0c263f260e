package forge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/budget"
	"github.com/fyrsmithlabs/remedyd/internal/cache"
	"github.com/fyrsmithlabs/remedyd/internal/retry"
)

// fakeForge counts calls per operation and lets tests inject failures.
type fakeForge struct {
	calls    map[string]int
	failures map[string][]error
}

func newFakeForge() *fakeForge {
	return &fakeForge{calls: make(map[string]int), failures: make(map[string][]error)}
}

// failNext queues errors returned by op before it starts succeeding.
func (f *fakeForge) failNext(op string, errs ...error) {
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeForge) next(op string) error {
	f.calls[op]++
	if queued := f.failures[op]; len(queued) > 0 {
		f.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *fakeForge) FetchIssue(ctx context.Context, ref Ref) (string, error) {
	if err := f.next("fetch_issue"); err != nil {
		return "", err
	}
	return fmt.Sprintf("issue %s (read %d)", ref, f.calls["fetch_issue"]), nil
}

func (f *fakeForge) ListComments(ctx context.Context, ref Ref) (string, error) {
	if err := f.next("list_comments"); err != nil {
		return "", err
	}
	return fmt.Sprintf("comments %s (read %d)", ref, f.calls["list_comments"]), nil
}

func (f *fakeForge) FetchDiff(ctx context.Context, ref Ref) (string, error) {
	if err := f.next("fetch_diff"); err != nil {
		return "", err
	}
	return fmt.Sprintf("diff %s (read %d)", ref, f.calls["fetch_diff"]), nil
}

func (f *fakeForge) CreateComment(ctx context.Context, ref Ref, body string) (WriteResult, error) {
	if err := f.next("create_comment"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Number: 1}, nil
}

func (f *fakeForge) CreateBranch(ctx context.Context, ref Ref, name string) (WriteResult, error) {
	if err := f.next("create_branch"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{}, nil
}

func (f *fakeForge) OpenProposal(ctx context.Context, spec ProposalSpec) (WriteResult, error) {
	if err := f.next("open_proposal"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Number: 99}, nil
}

func (f *fakeForge) SubmitCritique(ctx context.Context, ref Ref, body string) (WriteResult, error) {
	if err := f.next("submit_critique"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Number: 2}, nil
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func newGuardedForTest(inner Forge, limit int) (*Guarded, *budget.Counter, *cache.Cache) {
	counter := budget.NewCounter(limit)
	c := cache.New()
	return NewGuarded(inner, c, counter, fastRetry(), nil), counter, c
}

var testRef = Ref{Owner: "acme", Repo: "widgets", Number: 1}

func TestGuarded_ReadCachesAndSkipsBudget(t *testing.T) {
	inner := newFakeForge()
	g, counter, _ := newGuardedForTest(inner, 10)
	ctx := context.Background()

	first, err := g.FetchIssue(ctx, testRef)
	require.NoError(t, err)

	second, err := g.FetchIssue(ctx, testRef)
	require.NoError(t, err)

	assert.Equal(t, first, second, "second read must come from cache")
	assert.Equal(t, 1, inner.calls["fetch_issue"], "platform hit exactly once")
	assert.Equal(t, 1, counter.Count(), "cache hits must not spend budget")
}

func TestGuarded_ReadRetriesTransientFailures(t *testing.T) {
	inner := newFakeForge()
	inner.failNext("fetch_diff",
		&retry.StatusError{StatusCode: 503, Err: errors.New("unavailable")},
		&retry.StatusError{StatusCode: 503, Err: errors.New("unavailable")},
	)
	g, counter, _ := newGuardedForTest(inner, 10)

	diff, err := g.FetchDiff(context.Background(), testRef)
	require.NoError(t, err)
	assert.Contains(t, diff, "diff acme/widgets#1")
	assert.Equal(t, 3, inner.calls["fetch_diff"])
	assert.Equal(t, 1, counter.Count(), "one logical call regardless of retries")
}

func TestGuarded_ReadFailsClosedOnBudget(t *testing.T) {
	inner := newFakeForge()
	g, _, _ := newGuardedForTest(inner, 1)
	ctx := context.Background()

	_, err := g.FetchIssue(ctx, testRef)
	require.NoError(t, err)

	_, err = g.ListComments(ctx, testRef)
	require.Error(t, err)

	var exceeded *budget.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 0, inner.calls["list_comments"], "tripped budget must block the platform call")

	// The cached read still works: hits bypass the breaker entirely.
	_, err = g.FetchIssue(ctx, testRef)
	assert.NoError(t, err)
}

func TestGuarded_WriteInvalidationScope(t *testing.T) {
	inner := newFakeForge()
	g, _, c := newGuardedForTest(inner, 20)
	ctx := context.Background()

	otherRepo := Ref{Owner: "acme", Repo: "gadgets", Number: 5}
	otherIssueSameRepo := Ref{Owner: "acme", Repo: "widgets", Number: 2}

	// Prime the cache across kinds and locations.
	_, err := g.FetchIssue(ctx, testRef)
	require.NoError(t, err)
	_, err = g.ListComments(ctx, testRef)
	require.NoError(t, err)
	_, err = g.ListComments(ctx, otherIssueSameRepo)
	require.NoError(t, err)
	_, err = g.ListComments(ctx, otherRepo)
	require.NoError(t, err)
	_, err = g.FetchDiff(ctx, testRef)
	require.NoError(t, err)
	_, err = g.FetchDiff(ctx, otherRepo)
	require.NoError(t, err)
	require.Equal(t, 6, c.Stats().Size)

	_, err = g.CreateComment(ctx, testRef, "progress update")
	require.NoError(t, err)

	// Every comment listing in the written repo is stale, including other
	// issues; diffs are invalidated globally; issue bodies and listings in
	// other repos survive.
	_, ok := c.Get(CommentsKey(testRef))
	assert.False(t, ok)
	_, ok = c.Get(CommentsKey(otherIssueSameRepo))
	assert.False(t, ok)
	_, ok = c.Get(CommentsKey(otherRepo))
	assert.True(t, ok)
	_, ok = c.Get(DiffKey(testRef))
	assert.False(t, ok)
	_, ok = c.Get(DiffKey(otherRepo))
	assert.False(t, ok)
	_, ok = c.Get(IssueKey(testRef))
	assert.True(t, ok)
}

func TestGuarded_WriteSpendsBudget(t *testing.T) {
	inner := newFakeForge()
	g, counter, _ := newGuardedForTest(inner, 10)
	ctx := context.Background()

	_, err := g.CreateBranch(ctx, testRef, "remedyd/fix-1")
	require.NoError(t, err)
	_, err = g.OpenProposal(ctx, ProposalSpec{Owner: "acme", Repo: "widgets", Head: "remedyd/fix-1", Title: "Fix"})
	require.NoError(t, err)
	_, err = g.SubmitCritique(ctx, testRef, "needs-changes")
	require.NoError(t, err)

	assert.Equal(t, 3, counter.Count())
}

func TestGuarded_WriteBlockedByBudgetDoesNotReachPlatform(t *testing.T) {
	inner := newFakeForge()
	g, _, _ := newGuardedForTest(inner, 1)
	ctx := context.Background()

	_, err := g.CreateComment(ctx, testRef, "first")
	require.NoError(t, err)

	_, err = g.CreateComment(ctx, testRef, "second")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls["create_comment"])
}

func TestGuarded_WriteFailureSkipsInvalidation(t *testing.T) {
	inner := newFakeForge()
	g, _, c := newGuardedForTest(inner, 20)
	ctx := context.Background()

	_, err := g.ListComments(ctx, testRef)
	require.NoError(t, err)

	inner.failNext("create_comment", &retry.StatusError{StatusCode: 422, Err: errors.New("validation")})
	_, err = g.CreateComment(ctx, testRef, "body")
	require.Error(t, err)

	_, ok := c.Get(CommentsKey(testRef))
	assert.True(t, ok, "a failed write must leave the cache intact")
}

// fakeChecker returns queued results in order, repeating the last one.
type fakeChecker struct {
	results []CheckResult
	calls   int
	err     error
}

func (f *fakeChecker) Check(ctx context.Context, ref Ref) (CheckResult, error) {
	f.calls++
	if f.err != nil {
		return CheckResult{}, f.err
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

func TestGuardedChecker_SpendsBudgetPerPoll(t *testing.T) {
	counter := budget.NewCounter(2)
	checker := NewGuardedChecker(&fakeChecker{results: []CheckResult{{Overall: CheckSuccess}}}, counter, fastRetry())
	ctx := context.Background()

	_, err := checker.Check(ctx, testRef)
	require.NoError(t, err)
	_, err = checker.Check(ctx, testRef)
	require.NoError(t, err)

	_, err = checker.Check(ctx, testRef)
	var exceeded *budget.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 3, counter.Count(), "polls are never cached")
}
