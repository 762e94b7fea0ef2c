package history

import (
	"context"
	"time"
)

// Event is one workflow-step outcome exported to external systems for
// auditing and statistics.
type Event struct {
	Workflow   string    `json:"workflow"`
	Step       string    `json:"step"`
	Outcome    string    `json:"outcome"` // ok, skipped or failed
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for workflow history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
