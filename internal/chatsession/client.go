package chatsession

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type eventType string

const (
	eventMessage eventType = "message"
	eventError   eventType = "error"
	eventJoined  eventType = "joined"
	eventClosed  eventType = "closed"
)

type event struct {
	Type    eventType `json:"type"`
	Payload any       `json:"payload"`
}

func encodeEvent(t eventType, payload any) []byte {
	data, err := json.Marshal(event{Type: t, Payload: payload})
	if err != nil {
		return []byte(`{"type":"error","payload":"failed to encode event"}`)
	}
	return data
}

// client wraps one WebSocket connection belonging to a Hub. Reads and
// writes run on dedicated goroutines so a slow reader never blocks a
// write, and vice versa -- the standard gorilla/websocket hub shape.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	kind clientKind
	send chan []byte
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("chatsession: unexpected close")
			}
			return
		}

		select {
		case c.hub.inbound <- inboundMessage{from: c, kind: c.kind, text: string(data)}:
		case <-ctx.Done():
			return
		case <-c.hub.closed:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
