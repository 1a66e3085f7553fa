package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

type registerWebhookInput struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// handleRegisterWebhook handles POST /webhooks.
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var in registerWebhookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.events.RegisterWebhook(r.Context(), in.URL, in.Events, in.Secret)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "webhookId": id})
}

// handleListWebhooks handles GET /webhooks.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.events.ListWebhooks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	views := make([]*model.WebhookView, len(hooks))
	for i, h := range hooks {
		views[i] = h.Redacted()
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": views})
}

// handleGetWebhook handles GET /webhooks/{id}.
func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hook, err := s.events.GetWebhook(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if hook == nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": hook.Redacted()})
}

// handleUpdateWebhook handles PATCH /webhooks/{id}.
func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var patch model.WebhookPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.events.UpdateWebhook(r.Context(), r.PathValue("id"), patch); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteWebhook handles DELETE /webhooks/{id}.
func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.events.DeleteWebhook(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
