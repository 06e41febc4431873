package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/auditstream/internal/delivery"
)

// streamingErrorPrefix starts every StreamingError message. Callers match on it.
const streamingErrorPrefix = "encountered errors while streaming audit event"

// StreamingError reports that an event did not reach every destination.
// Either Cause is set (the dispatch never started delivering) or Failures
// lists each destination that did not accept the event.
type StreamingError struct {
	Action   string
	EventID  string
	Cause    error
	Failures []*delivery.Failure
}

func (e *StreamingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q", streamingErrorPrefix, e.Action)
	if e.EventID != "" {
		fmt.Fprintf(&b, " (%s)", e.EventID)
	}

	reasons := make([]string, 0, len(e.Failures)+1)
	if e.Cause != nil {
		reasons = append(reasons, e.Cause.Error())
	}
	for _, f := range e.Failures {
		reasons = append(reasons, f.Error())
	}
	if len(reasons) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(reasons, "; "))
	}
	return b.String()
}

// Unwrap exposes the cause and every failure to errors.Is and errors.As.
func (e *StreamingError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// FailedDestinations lists the ids of the destinations that failed.
func (e *StreamingError) FailedDestinations() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.DestinationID
	}
	return ids
}

// IsStreamingError reports whether err is or wraps a *StreamingError.
func IsStreamingError(err error) bool {
	var se *StreamingError
	return errors.As(err, &se)
}
