// Package server coordinates client registration, broadcast, and connection
// cleanup for the WebSocket transport via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/groupchat/internal/session"
)

// Hub owns the set of live clients. Every client enters through register
// and leaves through detach, which runs once per client and closes the
// client's session with the session manager.
type Hub struct {
	clients    map[*Client]bool
	bySession  map[session.ID]*Client
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	sessions   *session.Manager
	logger     *slog.Logger
}

// NewHub creates a Hub that opens and closes sessions in sessions.
func NewHub(sessions *session.Manager, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		bySession:  make(map[session.ID]*Client),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		sessions:   sessions,
		logger:     logger,
	}
}

// Context is canceled when the hub shuts down. Requests handled on behalf of
// clients derive from it.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Register hands a new client to the hub, which starts its pumps. It reports
// false when the hub is no longer running.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister asks the hub to detach client. Safe to call more than once and
// after shutdown.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.detach(client, "hub stopped")
	}
}

// Broadcast queues a frame for every client, or for msg.Target only.
func (h *Hub) Broadcast(msg BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.attach(client)

		case client := <-h.unregister:
			h.detach(client, "disconnected")

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) attach(client *Client) {
	client.sessionID = h.sessions.OnConnect(client.user.ID, client)

	h.mutex.Lock()
	h.clients[client] = true
	h.bySession[client.sessionID] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info("client registered", "addr", client.addr, "user_id", client.user.ID, "session_id", client.sessionID, "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// detach is the single exit path of a client.
func (h *Hub) detach(client *Client, reason string) {
	if client == nil {
		return
	}
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.bySession, client.sessionID)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.closeSend()
	h.sessions.OnDisconnect(client.sessionID)
	h.logger.Info("client unregistered", "addr", client.addr, "session_id", client.sessionID, "reason", reason, "clients", clientCount)
}

// handleBroadcast delivers a frame to its targets. Clients whose buffer is
// full evict themselves.
func (h *Hub) handleBroadcast(msg BroadcastMessage) {
	targets := h.targetsOf(msg)
	delivered := 0
	for _, client := range targets {
		if client.Send(msg.Payload) {
			delivered++
		}
	}
	h.logger.Debug("broadcast", "targets", len(targets), "delivered", delivered)
}

func (h *Hub) targetsOf(msg BroadcastMessage) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if msg.Target != "" {
		if client, ok := h.bySession[msg.Target]; ok {
			return []*Client{client}
		}
		return nil
	}
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every connection; the pumps then detach.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.closeConn()
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for client goroutines to finish, or for
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
