package actor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// systemPrompts frame each agent kind's role. Capability names are appended
// at invocation time.
var systemPrompts = map[Kind]string{
	KindAnalyst: "You triage reported problems. Decide whether the report is actionable " +
		"and say so explicitly; answer 'not actionable' when it is not.",
	KindImplementer: "You implement fixes for reported problems. Describe the change you " +
		"made, the branch it lives on, and anything a reviewer should look at.",
	KindCritic: "You review proposed changes. End your review with a verdict line: " +
		"either 'resolved' or 'needs-changes'.",
}

// LLM is an Actor backed by a langchaingo model.
type LLM struct {
	kind        Kind
	model       llms.Model
	temperature float64
}

// NewLLM wraps model as an agent of the given kind.
func NewLLM(kind Kind, model llms.Model, temperature float64) *LLM {
	return &LLM{kind: kind, model: model, temperature: temperature}
}

// Kind implements Actor.
func (a *LLM) Kind() Kind {
	return a.kind
}

// Invoke implements Actor.
func (a *LLM) Invoke(ctx context.Context, instruction string, capabilities []string) (string, error) {
	system := systemPrompts[a.kind]
	if len(capabilities) > 0 {
		system += "\nAvailable capabilities: " + strings.Join(capabilities, ", ") + "."
	}

	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, instruction),
	}

	resp, err := a.model.GenerateContent(ctx, content, llms.WithTemperature(a.temperature))
	if err != nil {
		return "", fmt.Errorf("%s model call failed: %w", a.kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s model returned no choices", a.kind)
	}
	return resp.Choices[0].Content, nil
}
