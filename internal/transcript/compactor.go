package transcript

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/remedyd/internal/actor"
)

// truncationMarker prefixes the annotation appended to truncated content.
// Its presence is how re-runs of the compactor recognize already-compacted
// turns and leave them alone.
const truncationMarker = "… [compacted,"

// pruned replaces old verification results wholesale. Their content is
// assumed non-load-bearing once the iteration that produced them has closed.
const pruned = "[verification result pruned]"

// CompactorConfig holds the character budgets for both compaction passes.
type CompactorConfig struct {
	// ResultBudget bounds old agent result turns. Default: 500
	ResultBudget int
	// InstructionBudget bounds old delegation instructions. Default: 200
	InstructionBudget int
	// SizeThreshold triggers the size-based pass. Default: 80000
	SizeThreshold int
	// ReasoningBudget bounds reasoning turns in the size-based pass.
	// Default: 200
	ReasoningBudget int
	// PreserveRecent is how many trailing turns the size-based pass leaves
	// untouched. Default: 10
	PreserveRecent int
}

// DefaultCompactorConfig returns the default budgets.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		ResultBudget:      500,
		InstructionBudget: 200,
		SizeThreshold:     80000,
		ReasoningBudget:   200,
		PreserveRecent:    10,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *CompactorConfig) ApplyDefaults() {
	defaults := DefaultCompactorConfig()
	if c.ResultBudget == 0 {
		c.ResultBudget = defaults.ResultBudget
	}
	if c.InstructionBudget == 0 {
		c.InstructionBudget = defaults.InstructionBudget
	}
	if c.SizeThreshold == 0 {
		c.SizeThreshold = defaults.SizeThreshold
	}
	if c.ReasoningBudget == 0 {
		c.ReasoningBudget = defaults.ReasoningBudget
	}
	if c.PreserveRecent == 0 {
		c.PreserveRecent = defaults.PreserveRecent
	}
}

// truncate bounds text to budget characters and appends a marker recording
// the original length. Already-compacted text is returned unchanged, which
// makes repeated compaction idempotent.
func truncate(text string, budget int) (string, bool) {
	if strings.Contains(text, truncationMarker) {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text, false
	}
	return fmt.Sprintf("%s%s %d chars]", string(runes[:budget]), truncationMarker, len(runes)), true
}

// CompactIterations shrinks turns that belong to closed review iterations.
//
// It is a no-op until at least 2 iterations are complete. Everything
// strictly before the most recent boundary is old: old agent results are
// truncated to ResultBudget, old verification results are replaced wholesale,
// and old delegation instructions are truncated to InstructionBudget. The
// seed turn and everything at or after the boundary are never touched.
//
// It returns the number of turns changed.
func CompactIterations(t *Transcript, cfg CompactorConfig) int {
	cfg.ApplyDefaults()

	boundaries := t.Boundaries()
	if len(boundaries) < 2 {
		return 0
	}
	latest := boundaries[len(boundaries)-1]

	changed := 0
	for i := 1; i < latest; i++ {
		turn := t.At(i)
		switch turn.Kind {
		case KindResult:
			if actor.Named(turn.Actor) {
				if text, ok := truncate(turn.Text, cfg.ResultBudget); ok {
					turn.Text = text
					changed++
				}
			} else if turn.Text != pruned {
				turn.Text = pruned
				changed++
			}
		case KindVerificationResult:
			if turn.Text != pruned {
				turn.Text = pruned
				changed++
			}
		case KindDelegation:
			if text, ok := truncate(turn.Instruction, cfg.InstructionBudget); ok {
				turn.Instruction = text
				changed++
			}
		}
	}
	return changed
}

// CompactBySize is the size-triggered fallback pass, independent of
// iteration structure. When the transcript's total character count exceeds
// SizeThreshold, result text between index 1 and the preserved tail is
// hard-truncated to ResultBudget and reasoning text to ReasoningBudget. The
// seed turn and the last PreserveRecent turns are never touched.
//
// It returns the number of turns changed.
func CompactBySize(t *Transcript, cfg CompactorConfig) int {
	cfg.ApplyDefaults()

	if t.TotalChars() <= cfg.SizeThreshold {
		return 0
	}

	end := t.Len() - cfg.PreserveRecent
	changed := 0
	for i := 1; i < end; i++ {
		turn := t.At(i)
		switch turn.Kind {
		case KindResult, KindVerificationResult:
			if text, ok := truncate(turn.Text, cfg.ResultBudget); ok {
				turn.Text = text
				changed++
			}
		case KindReasoning:
			if text, ok := truncate(turn.Text, cfg.ReasoningBudget); ok {
				turn.Text = text
				changed++
			}
		}
	}
	return changed
}
