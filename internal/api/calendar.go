package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nugget/carepilot/internal/calendar"
)

type eventRequest struct {
	EventID       string `json:"event_id,omitempty"`
	Description   string `json:"description"`
	FromTimestamp string `json:"from_timestamp"`
	ToTimestamp   string `json:"to_timestamp"`
}

// span parses the request's bounds in the server's zone, answering 400
// on failure.
func (s *Server) span(w http.ResponseWriter, fromStr, toStr string) (time.Time, time.Time, bool) {
	from, err := calendar.ParseTimestamp(fromStr, s.cfg.Location)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := calendar.ParseTimestamp(toStr, s.cfg.Location)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, calendar.ErrInvalidRange.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func nonNil(events []calendar.Event) []calendar.Event {
	if events == nil {
		return []calendar.Event{}
	}
	return events
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	events, err := s.deps.Calendar.List(r.Context(), u.Username)
	if err != nil {
		s.internalError(w, r, "list events failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": u.Username,
		"events":   nonNil(events),
	}, s.logger)
}

// handleCalendarRange lists events overlapping [from_timestamp, to_timestamp).
func (s *Server) handleCalendarRange(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	q := r.URL.Query()
	from, to, ok := s.span(w, q.Get("from_timestamp"), q.Get("to_timestamp"))
	if !ok {
		return
	}
	events, err := s.deps.Calendar.Between(r.Context(), u.Username, from, to)
	if err != nil {
		s.internalError(w, r, "range query failed", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events), s.logger)
}

func (s *Server) handleEventAdd(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req eventRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	from, to, ok := s.span(w, req.FromTimestamp, req.ToTimestamp)
	if !ok {
		return
	}
	e, err := s.deps.Calendar.Add(r.Context(), u.Username, req.Description, from, to)
	if errors.Is(err, calendar.ErrInvalidRange) {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "add event failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Event added", "event_id": e.ID}, s.logger)
}

func (s *Server) handleEventRemove(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req eventRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.EventID == "" {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "event_id is required")
		return
	}
	removed, err := s.deps.Calendar.Remove(r.Context(), u.Username, req.EventID)
	if err != nil {
		s.internalError(w, r, "remove event failed", err)
		return
	}
	if !removed {
		s.errorResponse(w, http.StatusNotFound, codeNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Event removed"}, s.logger)
}

func (s *Server) handleEventEdit(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req eventRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.EventID == "" {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "event_id is required")
		return
	}
	from, to, ok := s.span(w, req.FromTimestamp, req.ToTimestamp)
	if !ok {
		return
	}
	updated, err := s.deps.Calendar.Edit(r.Context(), u.Username, req.EventID, req.Description, from, to)
	if errors.Is(err, calendar.ErrInvalidRange) {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "edit event failed", err)
		return
	}
	if !updated {
		s.errorResponse(w, http.StatusNotFound, codeNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Event updated"}, s.logger)
}
