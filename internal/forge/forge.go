// Package forge abstracts the hosted code platform the workflow reads from
// and writes to.
//
// Reads return plain text so results can sit in the run-scoped cache; writes
// are idempotent from the caller's perspective: each one first looks for a
// pre-existing marker or an already-open proposal and short-circuits with a
// skipped result instead of duplicating. Both properties make re-running a
// failed workflow safe.
package forge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Ref identifies an issue or proposal at a specific location.
type Ref struct {
	Owner  string
	Repo   string
	Number int
}

// Location returns the owner/repo qualifier shared by everything in one
// repository. Cache invalidation for listings is scoped to it.
func (r Ref) Location() string {
	return r.Owner + "/" + r.Repo
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Location(), r.Number)
}

// ParseRef parses the "owner/repo#number" form used on the command line.
func ParseRef(s string) (Ref, error) {
	var r Ref
	s = strings.TrimSpace(s)
	if s == "" {
		return r, fmt.Errorf("empty reference")
	}
	hash := strings.LastIndexByte(s, '#')
	if hash < 0 {
		return r, fmt.Errorf("reference %q missing #number", s)
	}
	n, err := strconv.Atoi(s[hash+1:])
	if err != nil || n < 1 {
		return r, fmt.Errorf("reference %q has invalid number", s)
	}
	loc := s[:hash]
	slash := strings.IndexByte(loc, '/')
	if slash <= 0 || slash == len(loc)-1 || strings.Contains(loc[slash+1:], "/") {
		return r, fmt.Errorf("reference %q must be owner/repo#number", s)
	}
	return Ref{Owner: loc[:slash], Repo: loc[slash+1:], Number: n}, nil
}

// ProposalSpec describes a proposal to open.
type ProposalSpec struct {
	Owner string
	Repo  string
	Title string
	Body  string
	Head  string
	Base  string
}

// WriteResult reports the outcome of an idempotent write.
type WriteResult struct {
	// Skipped is true when a pre-existing marker or open proposal made the
	// write unnecessary.
	Skipped bool
	// Number is the created (or pre-existing) comment, review or proposal
	// identifier.
	Number int
	// URL points at the created or pre-existing artifact.
	URL string
}

// Forge is the read/write surface of the hosted platform.
type Forge interface {
	// FetchIssue returns the reported problem as text (title and body).
	FetchIssue(ctx context.Context, ref Ref) (string, error)

	// ListComments returns the discussion on an issue or proposal as text.
	ListComments(ctx context.Context, ref Ref) (string, error)

	// FetchDiff returns a proposal's unified diff.
	FetchDiff(ctx context.Context, ref Ref) (string, error)

	// CreateComment posts body on the referenced issue or proposal.
	CreateComment(ctx context.Context, ref Ref, body string) (WriteResult, error)

	// CreateBranch creates branch name in ref's repository from the default
	// branch head.
	CreateBranch(ctx context.Context, ref Ref, name string) (WriteResult, error)

	// OpenProposal opens a proposal, or returns the already-open one for the
	// same head branch.
	OpenProposal(ctx context.Context, spec ProposalSpec) (WriteResult, error)

	// SubmitCritique posts a review of the referenced proposal.
	SubmitCritique(ctx context.Context, ref Ref, body string) (WriteResult, error)
}

// CheckOverall is the aggregate state of a proposal's CI checks.
type CheckOverall string

const (
	CheckSuccess    CheckOverall = "success"
	CheckFailure    CheckOverall = "failure"
	CheckInProgress CheckOverall = "in_progress"
	CheckNone       CheckOverall = "no_checks"
)

// CheckResult is the outcome of one status poll.
type CheckResult struct {
	Overall CheckOverall
	Detail  string
}

// Checker polls CI-style status checks for a proposal.
type Checker interface {
	Check(ctx context.Context, ref Ref) (CheckResult, error)
}
