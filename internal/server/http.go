package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /{$}", s.handlePublish)
	mux.HandleFunc("POST /events", s.handlePublish)
	mux.HandleFunc("GET /{$}", s.handleQueryEvents)
	mux.HandleFunc("GET /events", s.handleQueryEvents)
	mux.HandleFunc("POST /webhooks", s.handleRegisterWebhook)
	mux.HandleFunc("GET /webhooks", s.handleListWebhooks)
	mux.HandleFunc("GET /webhooks/{id}", s.handleGetWebhook)
	mux.HandleFunc("PATCH /webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /webhooks/{id}", s.handleDeleteWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fieldError is the JSON form of model.FieldError.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeServiceError maps the model error taxonomy onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
		pe *model.PublishError
	)
	switch {
	case errors.As(err, &ve):
		details := make([]fieldError, len(ve.Errors))
		for i, fe := range ve.Errors {
			details[i] = fieldError{Field: fe.Field, Message: fe.Message}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "details": details})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &pe):
		resp := map[string]any{"error": pe.Error(), "step": pe.Step}
		if pe.EventID != "" {
			resp["eventId"] = pe.EventID
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
