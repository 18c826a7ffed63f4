package api

import (
	"io"
	"net/http"

	"ragcore/internal/domain"
	"ragcore/internal/events"
	"ragcore/internal/ingest"
	"ragcore/internal/ragerr"
)

const maxUploadBytes = 25 << 20

func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	kb, err := s.relational.GetKnowledgeBase(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, ragerr.New(ragerr.FileTooLarge, "document_too_large", "document exceeds the maximum upload size"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	sourceURI := r.Header.Get("X-Source-URI")

	result, err := s.pipeline.Stage(r.Context(), ingest.Input{
		KnowledgeBaseID: kbID,
		SourceURI:       sourceURI,
		ContentType:     contentType,
		Raw:             raw,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.registry.Invalidate(kbID)
	_ = s.dispatcher.Enqueue(r.Context(), kb.TenantID, domain.EventDocumentIngested, result.Document)
	s.bus.Publish(r.Context(), events.Event{Topic: events.TopicDocumentIngested, Payload: result.Document})

	status := http.StatusCreated
	if result.Deduped {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	kb, err := s.relational.GetKnowledgeBase(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}

	docs, err := s.relational.ListDocuments(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	kb, err := s.relational.GetKnowledgeBase(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, kb.TenantID); err != nil {
		writeError(w, err)
		return
	}

	docID := r.PathValue("docID")
	if err := s.relational.DeleteChunksByDocument(r.Context(), docID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.relational.DeleteDocument(r.Context(), docID); err != nil {
		writeError(w, err)
		return
	}
	s.registry.Invalidate(kbID)
	w.WriteHeader(http.StatusNoContent)
}
