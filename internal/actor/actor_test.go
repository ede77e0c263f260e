package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Verdict
	}{
		{"explicit resolved", "Verdict: resolved. The fix addresses the root cause.", VerdictResolved},
		{"uppercase resolved", "RESOLVED", VerdictResolved},
		{"explicit needs-changes", "verdict: needs-changes\n- missing nil check", VerdictNeedsChanges},
		{"spaced needs changes", "This still needs changes before merging.", VerdictNeedsChanges},
		{"both present favors needs-changes", "resolved? no, needs-changes: the test is wrong", VerdictNeedsChanges},
		{"negated resolved", "The underlying race is not resolved by this change.", VerdictNeedsChanges},
		{"unresolved", "Verdict: unresolved, the reproduction still fails.", VerdictNeedsChanges},
		{"unparseable falls back to needs-changes", "I am not sure what to say here.", VerdictNeedsChanges},
		{"empty", "", VerdictNeedsChanges},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict(tt.text))
		})
	}
}

func TestNamed(t *testing.T) {
	assert.True(t, Named(KindAnalyst))
	assert.True(t, Named(KindImplementer))
	assert.True(t, Named(KindCritic))
	assert.False(t, Named(Kind("")))
	assert.False(t, Named(Kind("auditor")))
}
