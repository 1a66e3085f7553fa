package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// HeaderIdempotencyKey lets a client retry a publish without duplicating it.
const HeaderIdempotencyKey = "Idempotency-Key"

// handlePublish handles POST / and POST /events.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var in model.PublishInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	event, err := s.events.Publish(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "event": event})
}

// handleQueryEvents handles GET / and GET /events.
func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	events, err := s.events.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// parseFilter reads type, source, since and until. Times are RFC 3339.
func parseFilter(q url.Values) (model.EventFilter, error) {
	f := model.EventFilter{
		Type:   q.Get("type"),
		Source: q.Get("source"),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = &t
	}
	return f, nil
}
