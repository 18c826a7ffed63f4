package chatsession

import (
	"context"
	"sync"
	"time"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
)

const defaultIdleTimeout = time.Hour

// Manager tracks the live Hub for every chat with at least one connected
// client, creating one lazily on first join and reaping it once it has
// had no connected clients for idleTimeout.
type Manager struct {
	relational  storage.Relational
	completer   Completer
	idleTimeout time.Duration

	mu      sync.Mutex
	hubs    map[string]*Hub
	touched map[string]time.Time
}

// NewManager creates a Manager backed by relational storage for chat and
// message persistence. idleTimeout <= 0 uses the documented 1h default.
func NewManager(relational storage.Relational, completer Completer, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Manager{
		relational:  relational,
		completer:   completer,
		idleTimeout: idleTimeout,
		hubs:        make(map[string]*Hub),
		touched:     make(map[string]time.Time),
	}
}

// HubFor returns the Hub for chatID, loading history and creating the hub
// on first access.
func (m *Manager) HubFor(ctx context.Context, chatID string) (*Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.hubs[chatID]; ok {
		m.touched[chatID] = time.Now().UTC()
		return h, nil
	}

	chat, err := m.relational.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	history, err := m.relational.ListMessages(ctx, chatID, 0)
	if err != nil {
		return nil, err
	}

	h := NewHub(chat, m.completer, history, m.relational.AppendMessage)
	m.hubs[chatID] = h
	m.touched[chatID] = time.Now().UTC()
	return h, nil
}

// EnsureChat creates (or returns the existing) chat for the given tenant
// and knowledge bases.
func (m *Manager) EnsureChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	if chat.Mode == "" {
		return domain.Chat{}, ragerr.New(ragerr.Validation, "chat_mode_required", "chat mode must be set")
	}
	return m.relational.EnsureChat(ctx, chat)
}

// DeleteChat soft-deletes chatID and force-closes its hub, telling every
// connected socket the chat is gone.
func (m *Manager) DeleteChat(ctx context.Context, chatID string) (domain.Chat, error) {
	chat, err := m.relational.SetChatDeleted(ctx, chatID, true)
	if err != nil {
		return domain.Chat{}, err
	}
	m.mu.Lock()
	h, ok := m.hubs[chatID]
	if ok {
		delete(m.hubs, chatID)
		delete(m.touched, chatID)
	}
	m.mu.Unlock()
	if ok {
		h.Close()
	}
	return chat, nil
}

// RestoreChat clears chatID's soft-delete flag so it can be joined again.
func (m *Manager) RestoreChat(ctx context.Context, chatID string) (domain.Chat, error) {
	return m.relational.SetChatDeleted(ctx, chatID, false)
}

// StartReaper runs until ctx is done, periodically closing and evicting
// hubs that have had no connected clients for longer than idleTimeout. The
// bounded-tenant scale this module targets means an in-process ticker is
// enough; a multi-replica deployment would move this to a shared scheduler.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
	return func() { <-done }
}

func (m *Manager) reapIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, h := range m.hubs {
		if h.ClientCount() > 0 {
			continue
		}
		if now.Sub(m.touched[id]) < m.idleTimeout {
			continue
		}
		h.Close()
		delete(m.hubs, id)
		delete(m.touched, id)
	}
}

// CloseAll shuts down every live hub, for graceful process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hubs {
		h.Close()
	}
	m.hubs = make(map[string]*Hub)
	m.touched = make(map[string]time.Time)
}
