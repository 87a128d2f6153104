package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
	realtimesvc "github.com/zhouzirui/polyglot-chat/backend/internal/service/realtime"
)

var _ realtimesvc.Transport = (*Hub)(nil)

// Hub owns every live websocket client, keyed by session handle.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	// handlers 跟踪已升级连接的处理 goroutine，http.Server.Shutdown 不会等待它们
	handlers sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Send queues ev on the client's outbound buffer. It never blocks: a client
// whose buffer is full fails this delivery and nobody else's.
func (h *Hub) Send(handle string, ev event.Event) error {
	h.mu.RLock()
	c, ok := h.clients[handle]
	h.mu.RUnlock()
	if !ok {
		return realtimesvc.ErrSessionGone
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", ev.Kind, err)
	}
	return c.enqueue(frame)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// add registers c and counts its handler; it refuses once CloseAll has run.
// Every successful add must be paired with finished.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.session.Handle] = c
	h.handlers.Add(1)
	return true
}

func (h *Hub) finished() {
	h.handlers.Done()
}

func (h *Hub) remove(handle string) {
	h.mu.Lock()
	c, ok := h.clients[handle]
	delete(h.clients, handle)
	h.mu.Unlock()

	if ok {
		c.shutdown()
	}
}

// CloseAll disconnects every client and rejects new ones; used on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}

// Wait blocks until every connection handler has returned, so nothing can
// submit new work afterwards.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket handlers: %w", ctx.Err())
	}
}
