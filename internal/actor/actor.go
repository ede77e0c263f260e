// Package actor defines the delegation contract between the workflow engine
// and the agents it drives.
//
// The engine treats the three agent kinds as interchangeable implementations
// of one interface: it hands over an instruction, waits for the resulting
// text, and interprets that text itself. Everything behind Invoke (prompting,
// tool use, model choice) is opaque.
package actor

import (
	"context"
	"strings"
)

// Kind identifies which agent a delegation is addressed to.
type Kind string

const (
	// KindAnalyst triages the reported problem and decides actionability.
	KindAnalyst Kind = "analyst"
	// KindImplementer produces or amends the proposed change.
	KindImplementer Kind = "implementer"
	// KindCritic reviews the proposed change and issues a verdict.
	KindCritic Kind = "critic"
)

// Named reports whether k is one of the three agent kinds the transcript
// compactor treats as load-bearing.
func Named(k Kind) bool {
	switch k {
	case KindAnalyst, KindImplementer, KindCritic:
		return true
	}
	return false
}

// Actor is an opaque turn-producing agent.
type Actor interface {
	// Invoke runs the agent with the given instruction and the capability
	// names it may use, returning its textual result.
	Invoke(ctx context.Context, instruction string, capabilities []string) (string, error)

	// Kind returns the agent's kind for logging and delegation matching.
	Kind() Kind
}

// Verdict is the critic's judgment on a proposed change.
type Verdict string

const (
	VerdictResolved     Verdict = "resolved"
	VerdictNeedsChanges Verdict = "needs-changes"
)

// ParseVerdict extracts the critic's verdict from its result text.
//
// Unparseable output falls back to needs-changes: treating garbage as
// approval would ship an unreviewed change.
func ParseVerdict(text string) Verdict {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, string(VerdictNeedsChanges)):
		return VerdictNeedsChanges
	case strings.Contains(lower, "needs changes"):
		return VerdictNeedsChanges
	// Negated forms contain "resolved" as a substring and must not read as
	// approval.
	case strings.Contains(lower, "unresolved"):
		return VerdictNeedsChanges
	case strings.Contains(lower, "not resolved"):
		return VerdictNeedsChanges
	case strings.Contains(lower, string(VerdictResolved)):
		return VerdictResolved
	}
	return VerdictNeedsChanges
}
