package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// LogEventRequest is the JSON body for POST /v1/events.
type LogEventRequest struct {
	ID        string          `json:"id,omitempty"`
	Action    string          `json:"action"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Context   audit.Context   `json:"context"`
	Details   json.RawMessage `json:"details,omitempty"`
	Actor     *audit.User     `json:"actor,omitempty"`
}

func (r LogEventRequest) event() audit.Event {
	ev := audit.Event{
		ID:      r.ID,
		Action:  r.Action,
		Context: r.Context,
		Details: r.Details,
	}
	if r.Timestamp != nil {
		ev.Timestamp = r.Timestamp.UTC()
	}
	return ev.Normalized()
}

// StreamingErrorResponse is returned when one or more destinations failed.
type StreamingErrorResponse struct {
	Error    string            `json:"error"`
	EventID  string            `json:"event_id"`
	Failures []FailureResponse `json:"failures,omitempty"`
}

// FailureResponse describes one failed destination.
type FailureResponse struct {
	DestinationID string `json:"destination_id"`
	StatusCode    int    `json:"status_code,omitempty"`
	Error         string `json:"error"`
}

// DestinationsResponse is returned by the destination endpoints.
type DestinationsResponse struct {
	Scope        string              `json:"scope"`
	Destinations []audit.Destination `json:"destinations"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	InFlight      int    `json:"deliveries_in_flight"`
	Limit         int    `json:"max_concurrent_requests"`
}
