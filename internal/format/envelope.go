package format

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// envelope is the generic JSON body sent to destinations.
type envelope struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Timestamp string          `json:"timestamp"`
	Actor     *audit.User     `json:"actor,omitempty"`
	Context   audit.Context   `json:"context"`
	Details   json.RawMessage `json:"details,omitempty"`
	Scope     string          `json:"scope"`
}

// Envelope accepts every event and renders the generic envelope.
type Envelope struct{}

func (Envelope) TryFormat(req Request) (json.RawMessage, bool, error) {
	ev := req.Event
	if ev.Action == "" {
		return nil, false, nil
	}
	env := envelope{
		ID:        ev.ID,
		Action:    ev.Action,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     req.Actor,
		Context:   ev.Context,
		Details:   ev.Details,
		Scope:     req.Scope.Key(),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, true, nil
}

// Default returns the formatter set used when none is configured.
func Default() *Set {
	return NewSet(Envelope{})
}
