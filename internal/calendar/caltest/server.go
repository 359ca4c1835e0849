// Package caltest provides an in-memory fake of the Google Calendar
// API v3 Events endpoints for tests. It backs the real generated client
// through an endpoint override, so client tests exercise the actual
// request/response path without the network.
package caltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"google.golang.org/api/calendar/v3"
)

// Server is a fake Google Calendar API server.
type Server struct {
	*httptest.Server
	mu       sync.RWMutex
	events   map[string]map[string]*calendar.Event // calendarID -> eventID -> event
	nextID   int
	failures []int // HTTP status codes to serve before handling requests normally

	// Request counters, for asserting retry and idempotence behavior.
	Inserts int
	Updates int
	Deletes int
	Lists   int
}

// NewServer starts a fake server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		events: make(map[string]map[string]*calendar.Event),
		nextID: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.Server = httptest.NewServer(mux)
	return s
}

// FailNext queues HTTP error responses: the next len(statuses)
// requests are answered with the given status codes in order, before
// normal handling resumes.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		http.Error(w, fmt.Sprintf("injected failure %d", status), status)
		return
	}
	s.mu.Unlock()

	idx := strings.Index(r.URL.Path, "/calendars/")
	if idx == -1 {
		http.Error(w, "unsupported endpoint", http.StatusNotFound)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path[idx+len("/calendars/"):], "/"), "/")
	if len(parts) < 2 || parts[1] != "events" {
		http.Error(w, "unsupported resource", http.StatusNotFound)
		return
	}
	calendarID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		s.listEvents(w, r, calendarID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.insertEvent(w, r, calendarID)
	case len(parts) == 3 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		s.updateEvent(w, r, calendarID, parts[2])
	case len(parts) == 3 && r.Method == http.MethodDelete:
		s.deleteEvent(w, r, calendarID, parts[2])
	case len(parts) == 3 && r.Method == http.MethodGet:
		s.getEvent(w, r, calendarID, parts[2])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) insertEvent(w http.ResponseWriter, r *http.Request, calendarID string) {
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inserts++

	event.Id = fmt.Sprintf("remote%d", s.nextID)
	s.nextID++
	event.Status = "confirmed"

	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*calendar.Event)
	}
	s.events[calendarID][event.Id] = &event

	writeJSON(w, &event)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, calendarID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lists++

	timeMin := r.URL.Query().Get("timeMin")

	var events []*calendar.Event
	for _, evt := range s.events[calendarID] {
		if timeMin != "" && evt.Start != nil && evt.Start.DateTime != "" && evt.Start.DateTime < timeMin {
			continue
		}
		events = append(events, evt)
	}

	sort.Slice(events, func(i, j int) bool {
		return startOf(events[i]) < startOf(events[j])
	})

	writeJSON(w, &calendar.Events{
		Kind:    "calendar#events",
		Summary: calendarID,
		Items:   events,
	})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event := s.events[calendarID][eventID]
	if event == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, event)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates++

	if s.events[calendarID][eventID] == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	var updated calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	updated.Id = eventID
	s.events[calendarID][eventID] = &updated

	writeJSON(w, &updated)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deletes++

	if s.events[calendarID][eventID] == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	delete(s.events[calendarID], eventID)
	w.WriteHeader(http.StatusNoContent)
}

// AddEvent seeds a pre-existing remote event (for test setup). Returns
// the assigned id when the event did not carry one.
func (s *Server) AddEvent(calendarID string, event *calendar.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Id == "" {
		event.Id = fmt.Sprintf("remote%d", s.nextID)
		s.nextID++
	}
	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*calendar.Event)
	}
	s.events[calendarID][event.Id] = event
	return event.Id
}

// Events returns the current remote events of a calendar, ordered by
// id, for assertions.
func (s *Server) Events(calendarID string) []*calendar.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*calendar.Event
	for _, evt := range s.events[calendarID] {
		events = append(events, evt)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Id < events[j].Id })
	return events
}

func startOf(event *calendar.Event) string {
	if event.Start == nil {
		return ""
	}
	if event.Start.DateTime != "" {
		return event.Start.DateTime
	}
	return event.Start.Date
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
