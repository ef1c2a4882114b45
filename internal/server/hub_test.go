package server

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/session"
)

var _ session.Sink = (*Client)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub() *Hub {
	return NewHub(session.NewManager(quietLogger()), quietLogger())
}

// detachedClient builds a client without a connection. It is never attached,
// so no pumps run for it.
func detachedClient(hub *Hub, userID string) *Client {
	return newClient(nil, hub, nil, chat.User{ID: userID}, "127.0.0.1:12345", DefaultConfig(), quietLogger())
}

// TestHubShutdownWithoutClients tests that an idle hub stops promptly.
func TestHubShutdownWithoutClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := hub.Context().Err(); err == nil {
		t.Error("hub context should be canceled after shutdown")
	}
}

// TestHubAfterShutdown tests that calls made after shutdown return instead
// of blocking on the stopped event loop.
func TestHubAfterShutdown(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		client := detachedClient(hub, "alice")
		if hub.Register(client) {
			t.Error("Register succeeded on a stopped hub")
		}
		hub.Unregister(client)
		hub.Broadcast(BroadcastMessage{Payload: []byte("{}")})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
}

func TestHubRegisterNilClient(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer func() { _ = hub.Shutdown(time.Second) }()

	if !hub.Register(nil) {
		t.Fatal("Register(nil) should be consumed by a running hub")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount = %d, want 0", n)
	}
}

func TestClientSendEvictsWhenBufferIsFull(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer func() { _ = hub.Shutdown(time.Second) }()

	client := detachedClient(hub, "alice")
	for i := range sendBufferSize {
		if !client.Send([]byte("x")) {
			t.Fatalf("send %d refused before the buffer filled", i)
		}
	}
	if client.Send([]byte("overflow")) {
		t.Fatal("send to a full buffer was accepted")
	}
}

func TestClientSendAfterClose(t *testing.T) {
	client := detachedClient(newTestHub(), "alice")
	client.closeSend()
	client.closeSend()

	if client.Send([]byte("late")) {
		t.Fatal("send after close was accepted")
	}
}

func TestClientCheckRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	client := newClient(nil, newTestHub(), nil, chat.User{ID: "alice"}, "addr", cfg, quietLogger())

	if !client.checkRateLimit() {
		t.Fatal("first request refused")
	}
	if client.checkRateLimit() {
		t.Fatal("second request within the interval allowed")
	}
}

func TestTargetedBroadcastReachesOnlyTarget(t *testing.T) {
	hub := newTestHub()
	alice := detachedClient(hub, "alice")
	bob := detachedClient(hub, "bob")
	for _, c := range []*Client{alice, bob} {
		c.sessionID = hub.sessions.OnConnect(c.user.ID, c)
		hub.clients[c] = true
		hub.bySession[c.sessionID] = c
	}

	hub.handleBroadcast(BroadcastMessage{Target: bob.sessionID, Payload: []byte("private")})
	hub.handleBroadcast(BroadcastMessage{Payload: []byte("public")})

	if n := len(alice.send); n != 1 {
		t.Errorf("alice queued %d frames, want 1", n)
	}
	if n := len(bob.send); n != 2 {
		t.Errorf("bob queued %d frames, want 2", n)
	}

	hub.detach(bob, "test")
	hub.detach(bob, "test")
	if hub.ClientCount() != 1 || hub.sessions.Count() != 1 {
		t.Errorf("after detach: clients=%d sessions=%d", hub.ClientCount(), hub.sessions.Count())
	}
	hub.handleBroadcast(BroadcastMessage{Target: bob.sessionID, Payload: []byte("gone")})
}
