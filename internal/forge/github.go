package forge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/retry"
)

// markerPrefix opens the hidden HTML comment embedded in every body remedyd
// writes. Re-running a workflow finds the marker and skips the duplicate.
const markerPrefix = "<!-- remedyd:"

// marker returns the hidden idempotency marker for body. The tag is a hash
// of the content, so re-posting identical feedback is skipped while new
// feedback from a later iteration still goes out.
func marker(body string) string {
	h := fnv.New32a()
	h.Write([]byte(body))
	return fmt.Sprintf("%s%08x -->", markerPrefix, h.Sum32())
}

// GitHub implements Forge and Checker against the GitHub API.
type GitHub struct {
	client  *github.Client
	limiter *rate.Limiter
}

// NewGitHub creates a GitHub-backed forge with token authentication and a
// client-side rate limiter in front of every call.
func NewGitHub(ctx context.Context, token config.Secret) (*GitHub, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHub{
		client:  github.NewClient(tc),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}, nil
}

// apiError translates a go-github failure into a retry.StatusError so the
// retry policy can classify it. Rate-limit responses carry the server's
// reset time as the delay hint.
func apiError(resource string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	se := &retry.StatusError{Resource: resource, Err: err}
	if resp != nil && resp.Response != nil {
		se.StatusCode = resp.Response.StatusCode
		if se.StatusCode == http.StatusTooManyRequests ||
			(se.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0) {
			if se.StatusCode == http.StatusForbidden {
				// Secondary rate limit: retryable despite the 403.
				se.StatusCode = http.StatusTooManyRequests
			}
			if wait := time.Until(resp.Rate.Reset.Time) + time.Second; wait > 0 {
				se.RetryAfter = wait
			}
		}
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		se.StatusCode = http.StatusTooManyRequests
		se.RetryAfter = *abuse.RetryAfter
	}

	return se
}

// FetchIssue implements Forge.
func (g *GitHub) FetchIssue(ctx context.Context, ref Ref) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	issue, resp, err := g.client.Issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return "", apiError(ref.String(), resp, err)
	}
	return fmt.Sprintf("%s\n\n%s", issue.GetTitle(), issue.GetBody()), nil
}

// ListComments implements Forge.
func (g *GitHub) ListComments(ctx context.Context, ref Ref) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	comments, resp, err := g.client.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return "", apiError(ref.String(), resp, err)
	}

	var b strings.Builder
	for i, c := range comments {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "%s: %s", c.GetUser().GetLogin(), c.GetBody())
	}
	return b.String(), nil
}

// FetchDiff implements Forge.
func (g *GitHub) FetchDiff(ctx context.Context, ref Ref) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	diff, resp, err := g.client.PullRequests.GetRaw(ctx, ref.Owner, ref.Repo, ref.Number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", apiError(ref.String(), resp, err)
	}
	return diff, nil
}

// CreateComment implements Forge. The comment body gets a hidden marker; if
// any existing comment already carries the same marker the write is skipped.
func (g *GitHub) CreateComment(ctx context.Context, ref Ref, body string) (WriteResult, error) {
	mark := marker(body)

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	existing, resp, err := g.client.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return WriteResult{}, apiError(ref.String(), resp, err)
	}
	for _, c := range existing {
		if strings.Contains(c.GetBody(), mark) {
			return WriteResult{Skipped: true, URL: c.GetHTMLURL()}, nil
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	created, resp, err := g.client.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number, &github.IssueComment{
		Body: github.String(body + "\n\n" + mark),
	})
	if err != nil {
		return WriteResult{}, apiError(ref.String(), resp, err)
	}
	return WriteResult{URL: created.GetHTMLURL()}, nil
}

// CreateBranch implements Forge. An already-existing branch is a skipped
// write, not an error.
func (g *GitHub) CreateBranch(ctx context.Context, ref Ref, name string) (WriteResult, error) {
	branchRef := "refs/heads/" + name

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	if _, resp, err := g.client.Git.GetRef(ctx, ref.Owner, ref.Repo, branchRef); err == nil {
		return WriteResult{Skipped: true}, nil
	} else if resp == nil || resp.Response == nil || resp.Response.StatusCode != http.StatusNotFound {
		return WriteResult{}, apiError(ref.Location()+":"+name, resp, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	repo, resp, err := g.client.Repositories.Get(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return WriteResult{}, apiError(ref.Location(), resp, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	base, resp, err := g.client.Git.GetRef(ctx, ref.Owner, ref.Repo, "refs/heads/"+repo.GetDefaultBranch())
	if err != nil {
		return WriteResult{}, apiError(ref.Location(), resp, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	_, resp, err = g.client.Git.CreateRef(ctx, ref.Owner, ref.Repo, &github.Reference{
		Ref:    github.String(branchRef),
		Object: &github.GitObject{SHA: base.GetObject().SHA},
	})
	if err != nil {
		return WriteResult{}, apiError(ref.Location()+":"+name, resp, err)
	}
	return WriteResult{}, nil
}

// OpenProposal implements Forge. An open proposal with the same head branch
// is the same proposal: return it as a skipped write.
func (g *GitHub) OpenProposal(ctx context.Context, spec ProposalSpec) (WriteResult, error) {
	location := spec.Owner + "/" + spec.Repo

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	open, resp, err := g.client.PullRequests.List(ctx, spec.Owner, spec.Repo, &github.PullRequestListOptions{
		State: "open",
		Head:  spec.Owner + ":" + spec.Head,
	})
	if err != nil {
		return WriteResult{}, apiError(location, resp, err)
	}
	if len(open) > 0 {
		return WriteResult{Skipped: true, Number: open[0].GetNumber(), URL: open[0].GetHTMLURL()}, nil
	}

	if spec.Base == "" {
		if err := g.limiter.Wait(ctx); err != nil {
			return WriteResult{}, err
		}
		repo, resp, err := g.client.Repositories.Get(ctx, spec.Owner, spec.Repo)
		if err != nil {
			return WriteResult{}, apiError(location, resp, err)
		}
		spec.Base = repo.GetDefaultBranch()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	created, resp, err := g.client.PullRequests.Create(ctx, spec.Owner, spec.Repo, &github.NewPullRequest{
		Title: github.String(spec.Title),
		Body:  github.String(spec.Body + "\n\n" + marker(spec.Body)),
		Head:  github.String(spec.Head),
		Base:  github.String(spec.Base),
	})
	if err != nil {
		return WriteResult{}, apiError(location, resp, err)
	}
	return WriteResult{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

// SubmitCritique implements Forge. Reviews carry the same hidden marker as
// comments.
func (g *GitHub) SubmitCritique(ctx context.Context, ref Ref, body string) (WriteResult, error) {
	mark := marker(body)

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	reviews, resp, err := g.client.PullRequests.ListReviews(ctx, ref.Owner, ref.Repo, ref.Number, nil)
	if err != nil {
		return WriteResult{}, apiError(ref.String(), resp, err)
	}
	for _, r := range reviews {
		if strings.Contains(r.GetBody(), mark) {
			return WriteResult{Skipped: true, URL: r.GetHTMLURL()}, nil
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return WriteResult{}, err
	}
	created, resp, err := g.client.PullRequests.CreateReview(ctx, ref.Owner, ref.Repo, ref.Number, &github.PullRequestReviewRequest{
		Body:  github.String(body + "\n\n" + mark),
		Event: github.String("COMMENT"),
	})
	if err != nil {
		return WriteResult{}, apiError(ref.String(), resp, err)
	}
	return WriteResult{URL: created.GetHTMLURL()}, nil
}

// Check implements Checker by aggregating the check runs on the proposal's
// head commit.
func (g *GitHub) Check(ctx context.Context, ref Ref) (CheckResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return CheckResult{}, err
	}
	pr, resp, err := g.client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return CheckResult{}, apiError(ref.String(), resp, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return CheckResult{}, err
	}
	runs, resp, err := g.client.Checks.ListCheckRunsForRef(ctx, ref.Owner, ref.Repo, pr.GetHead().GetSHA(), &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return CheckResult{}, apiError(ref.String(), resp, err)
	}

	if runs.GetTotal() == 0 {
		return CheckResult{Overall: CheckNone}, nil
	}

	overall := CheckSuccess
	var failed []string
	for _, run := range runs.CheckRuns {
		if run.GetStatus() != "completed" {
			overall = CheckInProgress
			continue
		}
		switch run.GetConclusion() {
		case "failure", "timed_out", "cancelled", "action_required":
			overall = CheckFailure
			failed = append(failed, run.GetName())
		}
	}
	// A definite failure outranks runs still in flight.
	if len(failed) > 0 {
		overall = CheckFailure
	}
	return CheckResult{Overall: overall, Detail: strings.Join(failed, ", ")}, nil
}
