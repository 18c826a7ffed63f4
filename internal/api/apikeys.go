package api

import (
	"net/http"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

type createAPIKeyRequest struct {
	Name      string               `json:"name"`
	Scopes    []domain.ApiKeyScope `json:"scopes"`
	RateLimit int                  `json:"rate_limit"` // requests per rate-limit window
}

type createAPIKeyResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Scopes    []domain.ApiKeyScope `json:"scopes"`
	RateLimit int                  `json:"rate_limit"`
	Token     string               `json:"token"`
}

func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	auth := authFromContext(r.Context())
	issued, err := s.issuer.Create(r.Context(), auth.TenantID, req.Name, req.Scopes, req.RateLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        issued.Key.ID,
		Name:      issued.Key.Name,
		Scopes:    issued.Key.Scopes,
		RateLimit: issued.Key.RateLimit,
		Token:     issued.Token,
	})
}

func (s *Server) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key, err := s.relational.GetAPIKey(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, key.TenantID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.issuer.Revoke(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
