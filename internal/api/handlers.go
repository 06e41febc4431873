package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/auditstream/internal/admission"
	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/dispatch"
	"github.com/mattjoyce/auditstream/internal/events"
	"github.com/mattjoyce/auditstream/internal/registry"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Capacity != nil {
		resp.InFlight = s.deps.Capacity.InFlight()
		resp.Limit = s.deps.Capacity.Limit()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleLogEvent handles POST /v1/events. It returns once every delivery
// has finished.
func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req LogEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		s.writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	ev := req.event()
	w.Header().Set("X-Audit-Event-ID", ev.ID)

	err := s.deps.Dispatcher.LogEventOrThrow(r.Context(), req.Actor, ev)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var serr *dispatch.StreamingError
	switch {
	case errors.Is(err, admission.ErrAdmissionExceeded):
		w.Header().Set("Retry-After", "1")
		respondJSON(w, http.StatusServiceUnavailable, StreamingErrorResponse{Error: err.Error(), EventID: ev.ID})
	case errors.As(err, &serr):
		resp := StreamingErrorResponse{Error: err.Error(), EventID: ev.ID}
		for _, f := range serr.Failures {
			resp.Failures = append(resp.Failures, FailureResponse{
				DestinationID: f.DestinationID,
				StatusCode:    f.StatusCode,
				Error:         f.Error(),
			})
		}
		respondJSON(w, http.StatusBadGateway, resp)
	default:
		s.logger.Error("log event failed", "event_id", ev.ID, "action", ev.Action, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleListDestinations handles GET /v1/destinations[?site=ID].
func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromRequest(r)
	dests, err := s.deps.Editor.List(r.Context(), scope)
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, destinationsResponse(scope, dests))
}

// handleReplaceDestinations handles PUT /v1/destinations[?site=ID] with a
// JSON array body.
func (s *Server) handleReplaceDestinations(w http.ResponseWriter, r *http.Request) {
	var dests []audit.Destination
	if !s.decode(w, r, &dests) {
		return
	}
	scope := scopeFromRequest(r)
	stored, err := s.deps.Editor.Replace(r.Context(), scope, dests)
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	s.publishChange(scope, "replace", len(stored))
	respondJSON(w, http.StatusOK, destinationsResponse(scope, stored))
}

// handleAddDestination handles POST /v1/destinations[?site=ID].
func (s *Server) handleAddDestination(w http.ResponseWriter, r *http.Request) {
	var dest audit.Destination
	if !s.decode(w, r, &dest) {
		return
	}
	scope := scopeFromRequest(r)
	added, err := s.deps.Editor.Add(r.Context(), scope, dest)
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	s.publishChange(scope, "add", 1)
	respondJSON(w, http.StatusCreated, added.Redacted())
}

// handleRemoveDestination handles DELETE /v1/destinations/{id}[?site=ID].
func (s *Server) handleRemoveDestination(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromRequest(r)
	if err := s.deps.Editor.Remove(r.Context(), scope, chi.URLParam(r, "id")); err != nil {
		s.writeEditorError(w, err)
		return
	}
	s.publishChange(scope, "remove", 1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishChange(scope audit.Scope, op string, n int) {
	if s.deps.Feed == nil {
		return
	}
	s.deps.Feed.Publish(events.TypeDestinationChanged, map[string]any{
		"scope": scope.Key(),
		"op":    op,
		"count": n,
	})
}

func (s *Server) writeEditorError(w http.ResponseWriter, err error) {
	var rerr *registry.Error
	switch {
	case errors.As(err, &rerr):
		s.logger.Error("destination store failed", "scope", rerr.Scope.Key(), "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, registry.ErrDestinationNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidDestination):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("destination update failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// scopeFromRequest reads ?site=ID; without it the installation scope applies.
func scopeFromRequest(r *http.Request) audit.Scope {
	if site := strings.TrimSpace(r.URL.Query().Get("site")); site != "" {
		return audit.Site(site)
	}
	return audit.Installation()
}

func destinationsResponse(scope audit.Scope, dests []audit.Destination) DestinationsResponse {
	out := make([]audit.Destination, len(dests))
	for i, d := range dests {
		out[i] = d.Redacted()
	}
	return DestinationsResponse{Scope: scope.Key(), Destinations: out}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
