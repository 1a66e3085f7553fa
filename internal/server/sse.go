package server

import (
	"errors"
	"net/http"

	"github.com/alfredjeanlab/eventhub/internal/broadcast"
	"github.com/alfredjeanlab/eventhub/internal/model"
)

// handleStream handles GET /stream (SSE endpoint). Filters are optional;
// the keepalive and frame format are owned by the subscription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filters *model.EventFilter
	if filter != (model.EventFilter{}) {
		filters = &filter
	}

	rc := http.NewResponseController(w)
	sub, err := s.coord.Subscribe(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		sub.Close()
		s.logger.Warn("streaming not supported", "error", err)
		return
	}

	err = sub.Serve(r.Context(), broadcast.SinkFunc(func(frame []byte) error {
		if _, err := w.Write(frame); err != nil {
			return err
		}
		return rc.Flush()
	}))
	switch {
	case errors.Is(err, broadcast.ErrDropped):
		s.logger.Warn("stream dropped: subscriber fell behind", "subscription", sub.ID())
	case err != nil:
		s.logger.Debug("stream closed", "subscription", sub.ID(), "error", err)
	}
}
