// Package format turns audit events into destination payloads.
//
// A Set holds formatters in registration order; the first formatter that
// accepts an event produces its payload. Formatters may inspect the scope
// the payload is destined for, so the same event can be rendered
// differently for installation and site destinations.
package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// ErrNoFormatter is returned when no installed formatter accepts an event.
var ErrNoFormatter = errors.New("no formatter accepted audit event")

// Request is what a formatter sees for one payload.
type Request struct {
	Scope audit.Scope
	Actor *audit.User
	Event audit.Event
}

// Formatter renders a payload. ok is false when the formatter does not
// handle the event; an error aborts the dispatch.
type Formatter interface {
	TryFormat(req Request) (payload json.RawMessage, ok bool, err error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(req Request) (json.RawMessage, bool, error)

func (f FormatterFunc) TryFormat(req Request) (json.RawMessage, bool, error) {
	return f(req)
}

// Set is an ordered list of formatters.
type Set struct {
	formatters []Formatter
}

// NewSet builds a Set trying formatters in the given order.
func NewSet(formatters ...Formatter) *Set {
	return &Set{formatters: formatters}
}

// Len reports the number of installed formatters.
func (s *Set) Len() int { return len(s.formatters) }

// Format returns the payload of the first formatter that accepts req.
func (s *Set) Format(req Request) (json.RawMessage, error) {
	for _, f := range s.formatters {
		payload, ok, err := f.TryFormat(req)
		if err != nil {
			return nil, fmt.Errorf("format %s: %w", req.Event.Action, err)
		}
		if ok {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("%w: action %q", ErrNoFormatter, req.Event.Action)
}

// Actions restricts f to events whose action equals one of prefixes or is
// namespaced beneath it ("document" matches "document.create").
func Actions(f Formatter, prefixes ...string) Formatter {
	return FormatterFunc(func(req Request) (json.RawMessage, bool, error) {
		for _, p := range prefixes {
			if req.Event.Action == p || strings.HasPrefix(req.Event.Action, p+".") {
				return f.TryFormat(req)
			}
		}
		return nil, false, nil
	})
}
