package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/chatsession"
	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

type createChatRequest struct {
	KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
	Mode             string   `json:"mode"`
	Title            string   `json:"title"`
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	auth := authFromContext(r.Context())
	for _, kbID := range req.KnowledgeBaseIDs {
		kb, err := s.relational.GetKnowledgeBase(r.Context(), kbID)
		if err != nil {
			writeError(w, err)
			return
		}
		if kb.TenantID != auth.TenantID {
			writeError(w, ragerr.New(ragerr.NotFound, "not_found", "resource not found"))
			return
		}
	}

	mode := domain.ChatMode(req.Mode)
	if mode == "" {
		mode = domain.ChatModeAuto
	}

	chat := domain.Chat{
		ID:               uuid.NewString(),
		TenantID:         auth.TenantID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		Mode:             mode,
		Title:            req.Title,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	created, err := s.chats.EnsureChat(r.Context(), chat)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.relational.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, chat.TenantID); err != nil {
		writeError(w, err)
		return
	}

	messages, err := s.relational.ListMessages(r.Context(), chatID, 200)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) chatWebsocket(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.relational.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, chat.TenantID); err != nil {
		writeError(w, err)
		return
	}

	hub, err := s.chats.HubFor(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	kind := chatsession.ClientUser
	if r.URL.Query().Get("as") == "admin" {
		if err := s.requireChatRole(r, chat, domain.RoleAdmin); err != nil {
			writeError(w, err)
			return
		}
		kind = chatsession.ClientAdmin
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	hub.Join(r.Context(), conn, kind)
}

// switchChatMode sets a chat's response mode to auto, manual or mixed.
// Requires admin access on at least one of the chat's knowledge bases,
// since it changes whether the AI completer answers at all.
func (s *Server) switchChatMode(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.relational.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, chat.TenantID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.requireChatRole(r, chat, domain.RoleAdmin); err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := domain.ChatMode(req.Mode)
	if mode != domain.ChatModeAuto && mode != domain.ChatModeManual && mode != domain.ChatModeMixed {
		writeError(w, ragerr.New(ragerr.Validation, "chat_mode_invalid", "mode must be auto, manual, or mixed"))
		return
	}

	hub, err := s.chats.HubFor(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	hub.SwitchMode(mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.relational.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, chat.TenantID); err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.chats.DeleteChat(r.Context(), chatID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.relational.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireTenant(r, chat.TenantID); err != nil {
		writeError(w, err)
		return
	}

	restored, err := s.chats.RestoreChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restored)
}

// requireChatRole grants access if the caller holds minRole on any of the
// chat's knowledge bases; a chat can span several, and admin-ness of one
// is enough to administer the shared conversation.
func (s *Server) requireChatRole(r *http.Request, chat domain.Chat, minRole domain.MembershipRole) error {
	if len(chat.KnowledgeBaseIDs) == 0 {
		return s.requireRole(r, chat.ID, minRole)
	}
	var lastErr error
	for _, kbID := range chat.KnowledgeBaseIDs {
		if err := s.requireRole(r, kbID, minRole); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}
