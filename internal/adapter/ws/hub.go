// Package ws streams approval lifecycle events to connected clients over
// WebSocket. Approver UIs subscribe here to see pending requests appear
// and resolve in real time.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for every frame the hub sends.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one subscribed connection. Cancelling stops its read loop.
type client struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub fans events out to every subscribed connection. Writes are best
// effort: a failed write drops the connection rather than blocking the
// broadcast.
type Hub struct {
	origins []string

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub returns a hub that accepts upgrades from the given origins.
// Patterns match the Origin host ("*" allows any). With no patterns the
// origin check is skipped entirely, which is only safe behind a proxy
// that enforces it.
func NewHub(originPatterns ...string) *Hub {
	patterns := make([]string, 0, len(originPatterns))
	for _, p := range originPatterns {
		// Config carries full URLs; the handshake compares hosts.
		if i := strings.Index(p, "://"); i >= 0 {
			p = p[i+3:]
		}
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Hub{
		origins: patterns,
		clients: make(map[*client]struct{}),
	}
}

// HandleWS upgrades the request and subscribes the connection until it
// drops or the client closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.origins}
	if len(h.origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	wsConn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{ws: wsConn, cancel: cancel}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Clients never send application frames; the read loop only consumes
	// control frames and notices the disconnect.
	go func() {
		defer func() {
			h.remove(c)
			_ = wsConn.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := wsConn.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends msg to every subscribed connection.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount reports how many clients are subscribed.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		c.cancel()
		delete(h.clients, c)
		slog.Info("websocket disconnected")
	}
}
