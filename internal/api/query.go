package api

import (
	"net/http"

	"ragcore/internal/ragerr"
	"ragcore/internal/retrieve"
)

type queryRequest struct {
	Text           string            `json:"text"`
	Mode           string            `json:"mode"`
	K              int               `json:"k"`
	Rerank         bool              `json:"rerank"`
	RerankMode     string            `json:"rerank_mode"`
	ScoreThreshold float64           `json:"score_threshold"`
	Filters        map[string]string `json:"filters"`
	Alpha          *float64          `json:"alpha"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
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

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Text == "" {
		writeError(w, ragerr.New(ragerr.Validation, "query_text_required", "text is required"))
		return
	}

	mode := retrieve.Mode(req.Mode)
	if mode == "" {
		mode = retrieve.ModeHybrid
	}

	engine, err := s.engineFor(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	if engine == nil {
		writeError(w, ragerr.New(ragerr.KnowledgeBaseNotReady, "kb_not_ready", "knowledge base has not completed training"))
		return
	}

	results, err := engine.Search(r.Context(), retrieve.Query{
		KnowledgeBaseID: kbID,
		Text:            req.Text,
		Mode:            mode,
		K:               req.K,
		Rerank:          req.Rerank,
		RerankMode:      retrieve.RerankMode(req.RerankMode),
		ScoreThreshold:  req.ScoreThreshold,
		Filters:         req.Filters,
		Alpha:           req.Alpha,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
