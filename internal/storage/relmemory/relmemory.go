// Package relmemory is an in-process implementation of storage.Relational,
// used by tests and by the deterministic-embedder/no-external-deps
// development mode in the same way the teacher's memory-backed stores
// stand in for Postgres in internal/persistence/databases.
package relmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

// Store is a mutex-guarded, map-backed Relational implementation.
type Store struct {
	mu sync.RWMutex

	kbs         map[string]domain.KnowledgeBase
	memberships map[string]domain.Membership // keyed by userID+"|"+kbID
	documents   map[string]domain.Document
	chunks      map[string][]domain.Chunk // keyed by documentID
	chats       map[string]domain.Chat
	messages    map[string][]domain.ChatMessage // keyed by chatID
	apiKeys     map[string]domain.ApiKey
	webhooks    map[string]domain.Webhook
	deliveries  map[string]domain.WebhookDelivery
}

// New creates an empty in-memory Relational store.
func New() *Store {
	return &Store{
		kbs:         make(map[string]domain.KnowledgeBase),
		memberships: make(map[string]domain.Membership),
		documents:   make(map[string]domain.Document),
		chunks:      make(map[string][]domain.Chunk),
		chats:       make(map[string]domain.Chat),
		messages:    make(map[string][]domain.ChatMessage),
		apiKeys:     make(map[string]domain.ApiKey),
		webhooks:    make(map[string]domain.Webhook),
		deliveries:  make(map[string]domain.WebhookDelivery),
	}
}

func membershipKey(userID, kbID string) string { return userID + "|" + kbID }

func (s *Store) CreateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kbs[kb.ID]; ok {
		return ragerr.New(ragerr.Conflict, "kb_exists", "knowledge base already exists")
	}
	s.kbs[kb.ID] = kb
	return nil
}

func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (domain.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.kbs[id]
	if !ok {
		return domain.KnowledgeBase{}, ragerr.New(ragerr.NotFound, "kb_not_found", "knowledge base not found")
	}
	return kb, nil
}

func (s *Store) ListKnowledgeBases(ctx context.Context, tenantID string) ([]domain.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.KnowledgeBase
	for _, kb := range s.kbs {
		if kb.TenantID == tenantID {
			out = append(out, kb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TransitionKBStatus(ctx context.Context, id string, expected, next domain.KBStatus, errorReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[id]
	if !ok {
		return false, ragerr.New(ragerr.NotFound, "kb_not_found", "knowledge base not found")
	}
	if kb.Status != expected {
		return false, nil
	}
	kb.Status = next
	kb.ErrorReason = errorReason
	kb.UpdatedAt = time.Now().UTC()
	kb.Version++
	s.kbs[id] = kb
	return true, nil
}

func (s *Store) UpdateKBProgress(ctx context.Context, id string, processedDocs, totalDocs int, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[id]
	if !ok {
		return ragerr.New(ragerr.NotFound, "kb_not_found", "knowledge base not found")
	}
	kb.ProcessedDocs = processedDocs
	kb.TotalDocs = totalDocs
	kb.TrainingProgress = progress
	kb.UpdatedAt = time.Now().UTC()
	s.kbs[id] = kb
	return nil
}

func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kbs, id)
	return nil
}

func (s *Store) CreateMembership(ctx context.Context, m domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.memberships[membershipKey(m.UserID, m.KnowledgeBaseID)] = m
	return nil
}

func (s *Store) GetMembership(ctx context.Context, userID, kbID string) (domain.Membership, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey(userID, kbID)]
	return m, ok, nil
}

func (s *Store) ListMemberships(ctx context.Context, kbID string) ([]domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Membership
	for _, m := range s.memberships {
		if m.KnowledgeBaseID == kbID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteMembership(ctx context.Context, userID, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, membershipKey(userID, kbID))
	return nil
}

func (s *Store) CreateDocument(ctx context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.KnowledgeBaseID == doc.KnowledgeBaseID && d.ContentHash == doc.ContentHash {
			return ragerr.New(ragerr.DuplicateContent, "duplicate_content", "document content already exists in this knowledge base")
		}
	}
	s.documents[doc.ID] = doc
	return nil
}

func (s *Store) GetDocumentByHash(ctx context.Context, kbID, hash string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.documents {
		if d.KnowledgeBaseID == kbID && d.ContentHash == hash {
			return d, true, nil
		}
	}
	return domain.Document{}, false, nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return ragerr.New(ragerr.NotFound, "document_not_found", "document not found")
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	s.documents[id] = d
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, kbID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Document
	for _, d := range s.documents {
		if d.KnowledgeBaseID == kbID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]domain.Chunk, len(chunks))
	copy(cp, chunks)
	s.chunks[documentID] = cp
	return nil
}

func (s *Store) ListChunks(ctx context.Context, kbID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chunk
	for _, cs := range s.chunks {
		for _, c := range cs {
			if c.KnowledgeBaseID == kbID {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *Store) EnsureChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.chats[chat.ID]; ok {
		return existing, nil
	}
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return domain.Chat{}, ragerr.New(ragerr.NotFound, "chat_not_found", "chat not found")
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, tenantID string) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chat
	for _, c := range s.chats {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetChatDeleted(ctx context.Context, id string, deleted bool) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return domain.Chat{}, ragerr.New(ragerr.NotFound, "chat_not_found", "chat not found")
	}
	if deleted {
		now := time.Now().UTC()
		c.DeletedAt = &now
	} else {
		c.DeletedAt = nil
	}
	c.UpdatedAt = time.Now().UTC()
	s.chats[id] = c
	return c, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[msg.ChatID]; !ok {
		return ragerr.New(ragerr.NotFound, "chat_not_found", "chat not found")
	}
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key domain.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (domain.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return domain.ApiKey{}, ragerr.New(ragerr.NotFound, "api_key_not_found", "api key not found")
	}
	return k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]domain.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ApiKey
	for _, k := range s.apiKeys {
		if k.TenantID == tenantID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return ragerr.New(ragerr.NotFound, "api_key_not_found", "api key not found")
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	s.apiKeys[id] = k
	return nil
}

func (s *Store) CreateWebhook(ctx context.Context, wh domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[wh.ID] = wh
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return domain.Webhook{}, ragerr.New(ragerr.NotFound, "webhook_not_found", "webhook not found")
	}
	return wh, nil
}

func (s *Store) ListWebhooksForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Webhook
	for _, wh := range s.webhooks {
		if wh.TenantID != tenantID || !wh.Active {
			continue
		}
		for _, e := range wh.Events {
			if e == event {
				out = append(out, wh)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreateDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	return nil
}

func (s *Store) UpdateDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	return nil
}

func (s *Store) ListDueDeliveries(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status == domain.DeliveryPending && !d.NextAttempt.After(before) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
