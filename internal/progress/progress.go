// Package progress carries workflow progress events to external observers.
//
// Delivery is fire-and-forget: a sink that is slow, disconnected or broken
// must never stall the workflow engine, so sink errors are logged or dropped,
// never returned to the caller.
package progress

import "time"

// Action says what happened at a phase.
type Action string

const (
	ActionStarted   Action = "started"
	ActionCompleted Action = "completed"
	ActionReasoning Action = "reasoning"
)

// Event is one progress notification from the workflow engine.
type Event struct {
	RunID         string        `json:"run_id"`
	Phase         string        `json:"phase"`
	Action        Action        `json:"action"`
	Iteration     int           `json:"iteration,omitempty"`
	MaxIterations int           `json:"max_iterations,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Elapsed       time.Duration `json:"elapsed,omitempty"`
}

// Sink receives progress events.
type Sink interface {
	Publish(event Event)
}

// Multi fans events out to several sinks.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(event Event) {
	for _, sink := range m {
		sink.Publish(event)
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(Event) {}
