// Package chatsession implements the per-chat WebSocket session manager:
// one Hub per Chat, single-writer serialization per connection, and
// mode-aware message handling (auto-retrieve, manual, or mixed).
package chatsession

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ragcore/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20 // 1 MiB
	sendBufferSize = 256
	defaultReplayCount = 50
)

// clientKind distinguishes the chat's third-party user socket(s) from its
// admin socket(s): mixed mode answers automatically only while no admin is
// currently present, which requires knowing which connected sockets are
// admins.
type clientKind int

const (
	clientUser clientKind = iota
	clientAdmin
)

// Exported aliases so callers outside this package (the HTTP layer, which
// decides user-vs-admin from the request) can pass a kind to Join without
// reaching into an unexported type.
const (
	ClientUser  = clientUser
	ClientAdmin = clientAdmin
)

// Completer answers a chat turn given the running message history and
// (for auto/mixed mode) retrieved context, producing the assistant's
// reply text.
type Completer interface {
	Reply(ctx context.Context, chat domain.Chat, history []domain.ChatMessage, userMessage string) (string, error)
}

// Hub owns one Chat's set of connected clients (usually one user socket
// plus zero or more admin sockets) and serializes every message append
// through a single goroutine so history ordering is never raced.
type Hub struct {
	chat      domain.Chat
	completer Completer
	persist   func(ctx context.Context, msg domain.ChatMessage) error

	mu      sync.Mutex
	mode    domain.ChatMode
	clients map[*client]struct{}
	admins  map[*client]struct{}
	history []domain.ChatMessage

	inbound chan inboundMessage
	control chan controlMessage
	closed  chan struct{}
	once    sync.Once
}

type inboundMessage struct {
	from *client
	kind clientKind
	text string
}

type controlMessage struct {
	newMode domain.ChatMode
	done    chan struct{}
}

// NewHub creates a Hub for chat, seeded with its existing history.
func NewHub(chat domain.Chat, completer Completer, history []domain.ChatMessage, persist func(ctx context.Context, msg domain.ChatMessage) error) *Hub {
	h := &Hub{
		chat:      chat,
		mode:      chat.Mode,
		completer: completer,
		persist:   persist,
		clients:   make(map[*client]struct{}),
		admins:    make(map[*client]struct{}),
		history:   append([]domain.ChatMessage(nil), history...),
		inbound:   make(chan inboundMessage, sendBufferSize),
		control:   make(chan controlMessage),
		closed:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Join registers conn as a client of this chat, starting its read/write
// pumps, and replays the last N persisted messages to the new socket
// before it starts receiving live broadcasts.
func (h *Hub) Join(ctx context.Context, conn *websocket.Conn, kind clientKind) {
	c := &client{hub: h, conn: conn, kind: kind, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if kind == clientAdmin {
		h.admins[c] = struct{}{}
	}
	replay := h.lastMessages(defaultReplayCount)
	h.mu.Unlock()

	for _, msg := range replay {
		c.send <- encodeEvent(eventMessage, msg)
	}
	if kind == clientAdmin {
		h.broadcastToAdminsExcept(c, encodeEvent(eventJoined, map[string]string{"chat_id": h.chat.ID}))
	}

	go c.writePump()
	go c.readPump(ctx)
}

func (h *Hub) lastMessages(n int) []domain.ChatMessage {
	if n <= 0 || len(h.history) <= n {
		return append([]domain.ChatMessage(nil), h.history...)
	}
	return append([]domain.ChatMessage(nil), h.history[len(h.history)-n:]...)
}

// SwitchMode changes the hub's live mode, serialized through the run loop
// so it never races an in-flight handle().
func (h *Hub) SwitchMode(newMode domain.ChatMode) {
	done := make(chan struct{})
	select {
	case h.control <- controlMessage{newMode: newMode, done: done}:
		<-done
	case <-h.closed:
	}
}

// Close shuts down the hub, telling every client it has been closed before
// disconnecting them.
func (h *Hub) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		for c := range h.clients {
			select {
			case c.send <- encodeEvent(eventClosed, nil):
			default:
			}
		}
		h.mu.Unlock()
		close(h.closed)
		h.mu.Lock()
		for c := range h.clients {
			c.conn.Close()
		}
		h.mu.Unlock()
	})
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	delete(h.admins, c)
	h.mu.Unlock()
	close(c.send)
}

// ClientCount reports how many sockets (user and admin) are currently
// attached to the hub, used by the idle reaper to avoid closing a live
// chat.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) adminCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.admins)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Warn().Msg("chatsession: client send buffer full, dropping connection")
			go c.conn.Close()
		}
	}
}

func (h *Hub) broadcastToAdminsExcept(except *client, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.admins {
		if c == except {
			continue
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

// run is the hub's single serialization point: every inbound message and
// mode change is processed one at a time, so appends to h.history and
// persisted rows never interleave across clients.
func (h *Hub) run() {
	for {
		select {
		case msg := <-h.inbound:
			h.handle(msg)
		case ctl := <-h.control:
			h.mu.Lock()
			h.mode = ctl.newMode
			h.mu.Unlock()
			close(ctl.done)
		case <-h.closed:
			return
		}
	}
}

func (h *Hub) currentMode() domain.ChatMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

func (h *Hub) handle(msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	role := domain.RoleUser
	if msg.kind == clientAdmin {
		role = domain.RoleAssistant
	}
	persisted := domain.ChatMessage{
		ChatID:    h.chat.ID,
		Role:      role,
		Content:   msg.text,
		CreatedAt: time.Now().UTC(),
	}
	h.appendAndPersist(ctx, persisted)

	// An admin manually answering never triggers auto-completion, and
	// manual mode never does either; mixed mode falls back to manual
	// behavior the moment any admin is present.
	if msg.kind == clientAdmin {
		return
	}
	// appendAndPersist above already broadcast the user message to every
	// connected socket, admins included, so manual/manual-like mixed mode
	// only needs to skip auto-completion here.
	mode := h.currentMode()
	if mode == domain.ChatModeManual {
		return
	}
	if mode == domain.ChatModeMixed && h.adminCount() > 0 {
		return
	}

	reply, err := h.completer.Reply(ctx, h.chat, h.history, msg.text)
	if err != nil {
		log.Error().Err(err).Str("chat_id", h.chat.ID).Msg("chatsession: completion failed")
		h.broadcast(encodeEvent(eventError, err.Error()))
		return
	}

	assistantMsg := domain.ChatMessage{
		ChatID:    h.chat.ID,
		Role:      domain.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	h.appendAndPersist(ctx, assistantMsg)
}

func (h *Hub) appendAndPersist(ctx context.Context, msg domain.ChatMessage) {
	h.history = append(h.history, msg)
	if h.persist != nil {
		if err := h.persist(ctx, msg); err != nil {
			log.Error().Err(err).Str("chat_id", h.chat.ID).Msg("chatsession: failed to persist message")
		}
	}
	h.broadcast(encodeEvent(eventMessage, msg))
}
