package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

type createWebhookRequest struct {
	URL    string                `json:"url"`
	Secret string                `json:"secret"`
	Events []domain.WebhookEvent `json:"events"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.URL == "" || len(req.Events) == 0 {
		writeError(w, ragerr.New(ragerr.Validation, "webhook_fields_required", "url and at least one event are required"))
		return
	}

	auth := authFromContext(r.Context())
	hook := domain.Webhook{
		ID:        uuid.NewString(),
		TenantID:  auth.TenantID,
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.relational.CreateWebhook(r.Context(), hook); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}
