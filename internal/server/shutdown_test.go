package server_test

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/groupchat/internal/server"
	th "github.com/Tyrowin/groupchat/internal/testhelpers"
)

// TestGracefulShutdownWithClients verifies that active client connections
// are closed and their sessions dropped during graceful shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	f := newFixture(t, func(cfg *server.Config) {
		cfg.ShutdownTimeout = 5 * time.Second
	})

	const numClients = 5
	clients := make([]*websocket.Conn, numClients)
	for i := range clients {
		clients[i] = f.connect(t, "user"+string(rune('a'+i)))
	}
	if n := f.srv.Hub().ClientCount(); n != numClients {
		t.Fatalf("ClientCount = %d, want %d", n, numClients)
	}

	if err := f.srv.Shutdown(f.ts.Config); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for i, conn := range clients {
		if _, err := th.ReadFrame(conn, 2*time.Second); err == nil {
			t.Errorf("client %d still receiving after shutdown", i)
		}
	}
	if n := f.srv.Hub().ClientCount(); n != 0 {
		t.Errorf("ClientCount after shutdown = %d", n)
	}
	if n := f.srv.Sessions().Count(); n != 0 {
		t.Errorf("Sessions after shutdown = %d", n)
	}
}
