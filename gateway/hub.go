package gateway

import (
	"context"
	"log/slog"
	"story-lab/contract"
	"story-lab/domain"
	"sync"
)

var _ contract.EventSink = (*Hub)(nil)

// Hub maps authenticated identities to their live connection.
// One identity has at most one connection, a newer one replaces the older.
type Hub struct {
	mu      sync.RWMutex
	log     *slog.Logger
	clients map[string]*Client
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[string]*Client)}
}

// Register returns the connection it replaced, if any.
func (h *Hub) Register(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous := h.clients[c.identity]
	h.clients[c.identity] = c
	return previous
}

// Unregister reports whether c was still the current connection of its identity.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[c.identity]; ok && current == c {
		delete(h.clients, c.identity)
		return true
	}
	return false
}

// CloseAll closes every connection, their handlers then run the usual disconnect path.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close(reason)
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Consume encodes the event once and queues it on every recipient connection.
// It never blocks on a slow client.
func (h *Hub) Consume(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeEvent(env.Event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, identity := range env.Recipients {
		c, ok := h.clients[identity]
		if !ok {
			continue
		}
		if !c.enqueue(data) {
			h.log.Warn("Client buffer full, event dropped", "identity", identity, "event", env.Event.Name())
		}
	}
	return nil
}
