package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/domain"
	"ragcore/internal/events"
	"ragcore/internal/ragerr"
	"ragcore/internal/training"
)

type createKnowledgeBaseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req createKnowledgeBaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, ragerr.New(ragerr.Validation, "kb_name_required", "name is required"))
		return
	}

	auth := authFromContext(r.Context())
	kb := domain.KnowledgeBase{
		ID:          uuid.NewString(),
		TenantID:    auth.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.KBStatusInit,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.relational.CreateKnowledgeBase(r.Context(), kb); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (s *Server) listKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())
	kbs, err := s.relational.ListKnowledgeBases(r.Context(), auth.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kbs)
}

func (s *Server) getKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, err := s.relational.GetKnowledgeBase(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (s *Server) deleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	kb, err := s.relational.GetKnowledgeBase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.relational.DeleteKnowledgeBase(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.registry.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

// trainKnowledgeBase moves a knowledge base from init/ready/error/stopped
// into queued and hands it to the training coordinator. Returns 409 if the
// knowledge base is already queued or training.
func (s *Server) trainKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	kb, err := s.relational.GetKnowledgeBase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}

	if err := s.requireRole(r, kb.ID, domain.RoleEditor); err != nil {
		writeError(w, err)
		return
	}

	if kb.Status == domain.KBStatusTraining || kb.Status == domain.KBStatusQueued {
		writeError(w, ragerr.New(ragerr.TrainingInProgress, "kb_already_training", "knowledge base is already queued or training"))
		return
	}

	ok, err := s.relational.TransitionKBStatus(r.Context(), id, kb.Status, domain.KBStatusQueued, "")
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, ragerr.New(ragerr.Conflict, "kb_transition_raced", "knowledge base status changed concurrently"))
		return
	}

	if !s.coordinator.Enqueue(training.Job{KnowledgeBaseID: id}) {
		_, _ = s.relational.TransitionKBStatus(r.Context(), id, domain.KBStatusQueued, domain.KBStatusError, "training queue is full")
		s.bus.Publish(r.Context(), events.Event{Topic: events.TopicKBStatusChanged, Payload: map[string]string{"knowledge_base_id": id, "status": string(domain.KBStatusError)}})
		writeError(w, ragerr.New(ragerr.Overloaded, "training_queue_full", "training queue is full, try again later"))
		return
	}

	s.bus.Publish(r.Context(), events.Event{Topic: events.TopicKBStatusChanged, Payload: map[string]string{"knowledge_base_id": id, "status": string(domain.KBStatusQueued)}})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(domain.KBStatusQueued)})
}

// stopTraining cancels an in-flight training job. The knowledge base
// transitions to KBStatusStopped once the worker observes the
// cancellation; this handler only requests it and returns immediately.
func (s *Server) stopTraining(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	kb, err := s.relational.GetKnowledgeBase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.requireRole(r, kb.ID, domain.RoleEditor); err != nil {
		writeError(w, err)
		return
	}

	if err := s.coordinator.StopTraining(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

type knowledgeBaseStatusResponse struct {
	Status           domain.KBStatus `json:"status"`
	TrainingProgress float64         `json:"training_progress"`
	ProcessedDocs    int             `json:"processed_docs"`
	TotalDocs        int             `json:"total_docs"`
	ErrorReason      string          `json:"error_reason,omitempty"`
	ETASeconds       float64         `json:"eta_seconds"`
}

// getKnowledgeBaseStatus surfaces enough of the training state machine for
// a client to render a progress bar without polling the full resource.
func (s *Server) getKnowledgeBaseStatus(w http.ResponseWriter, r *http.Request) {
	kb, err := s.relational.GetKnowledgeBase(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, knowledgeBaseStatusResponse{
		Status:           kb.Status,
		TrainingProgress: kb.TrainingProgress,
		ProcessedDocs:    kb.ProcessedDocs,
		TotalDocs:        kb.TotalDocs,
		ErrorReason:      kb.ErrorReason,
		ETASeconds:       s.coordinator.ETA(kb.ID).Seconds(),
	})
}

func requireTenant(r *http.Request, tenantID string) error {
	if authFromContext(r.Context()).TenantID != tenantID {
		return ragerr.New(ragerr.NotFound, "not_found", "resource not found")
	}
	return nil
}
