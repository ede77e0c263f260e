// Package transcript holds the ordered turn record of one workflow run.
//
// The transcript is append-only while the run executes. Turns are addressed
// by index and mutated in place only by the compactor, which replaces their
// content but never reorders or removes them.
package transcript

import "github.com/fyrsmithlabs/remedyd/internal/actor"

// Kind classifies a transcript turn.
type Kind string

const (
	// KindSeed is the single instruction the run started from, always at
	// index 0.
	KindSeed Kind = "seed"
	// KindDelegation records an instruction handed to an agent.
	KindDelegation Kind = "delegation"
	// KindResult records an agent's answer to a delegation.
	KindResult Kind = "result"
	// KindVerificationCall records an auxiliary check being issued.
	KindVerificationCall Kind = "verification-call"
	// KindVerificationResult records an auxiliary check's output.
	KindVerificationResult Kind = "verification-result"
	// KindReasoning records free-form engine reasoning.
	KindReasoning Kind = "reasoning"
)

// Turn is one entry in the transcript.
//
// Delegation turns carry Actor, Instruction and CallID; their matching
// result turn carries the same CallID and appears later in the sequence.
type Turn struct {
	Kind        Kind
	Actor       actor.Kind
	CallID      string
	Instruction string
	Text        string
}

// Seed returns a seed turn.
func Seed(text string) Turn {
	return Turn{Kind: KindSeed, Text: text}
}

// Delegation returns a delegation turn addressed to kind.
func Delegation(kind actor.Kind, callID, instruction string) Turn {
	return Turn{Kind: KindDelegation, Actor: kind, CallID: callID, Instruction: instruction}
}

// Result returns the result turn matching a delegation.
func Result(kind actor.Kind, callID, text string) Turn {
	return Turn{Kind: KindResult, Actor: kind, CallID: callID, Text: text}
}

// VerificationCall returns a verification-call turn.
func VerificationCall(callID, instruction string) Turn {
	return Turn{Kind: KindVerificationCall, CallID: callID, Instruction: instruction}
}

// VerificationResult returns a verification-result turn.
func VerificationResult(callID, text string) Turn {
	return Turn{Kind: KindVerificationResult, CallID: callID, Text: text}
}

// Reasoning returns a reasoning turn.
func Reasoning(text string) Turn {
	return Turn{Kind: KindReasoning, Text: text}
}

// Transcript is an owned, indexable sequence of turns.
type Transcript struct {
	turns []Turn
}

// New returns a transcript seeded with the run's opening instruction.
func New(seed string) *Transcript {
	return &Transcript{turns: []Turn{Seed(seed)}}
}

// Append adds a turn and returns its index.
func (t *Transcript) Append(turn Turn) int {
	t.turns = append(t.turns, turn)
	return len(t.turns) - 1
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// At returns a pointer to the turn at index i for in-place mutation.
func (t *Transcript) At(i int) *Turn {
	return &t.turns[i]
}

// Turns returns a copy of the turn sequence.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// ResultFor returns the index of the result turn matching callID.
func (t *Transcript) ResultFor(callID string) (int, bool) {
	for i, turn := range t.turns {
		if turn.Kind == KindResult && turn.CallID == callID {
			return i, true
		}
	}
	return 0, false
}

// Boundaries returns the indexes of critic result turns in order. Each
// boundary marks the close of one review iteration.
func (t *Transcript) Boundaries() []int {
	var boundaries []int
	for i, turn := range t.turns {
		if turn.Kind == KindResult && turn.Actor == actor.KindCritic {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries
}

// Iterations returns the number of completed review iterations.
func (t *Transcript) Iterations() int {
	return len(t.Boundaries())
}

// TotalChars returns the summed character count of all turn content.
func (t *Transcript) TotalChars() int {
	total := 0
	for _, turn := range t.turns {
		total += len([]rune(turn.Instruction)) + len([]rune(turn.Text))
	}
	return total
}
