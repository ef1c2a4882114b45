package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/server"
	"github.com/Tyrowin/groupchat/internal/store/memory"
	th "github.com/Tyrowin/groupchat/internal/testhelpers"
)

// TestHealthEndpoint tests the plain-text liveness endpoint.
func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+"/")
	th.AssertStatusCode(t, resp, http.StatusOK)
	th.AssertContentType(t, resp, "text/plain")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if string(body) != "groupchat server is running!" {
		t.Errorf("Unexpected body %q", body)
	}

	post := th.MakeRequest(t, http.MethodPost, f.ts.URL+"/")
	th.AssertStatusCode(t, post, http.StatusMethodNotAllowed)
}

type healthz struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
}

func TestHealthzReportsStoreAndClients(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, "alice")

	resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+"/healthz")
	th.AssertStatusCode(t, resp, http.StatusOK)
	th.AssertContentType(t, resp, "application/json")

	var got healthz
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Store != "ok" || got.Clients != 1 || got.Sessions != 1 {
		t.Errorf("unexpected health: %+v", got)
	}
}

type unreachableStore struct {
	*memory.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestHealthzDegradedWhenStoreIsDown(t *testing.T) {
	f := newFixtureWithStore(t, unreachableStore{memory.New()}, nil)

	resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+"/healthz")
	th.AssertStatusCode(t, resp, http.StatusServiceUnavailable)

	var got healthz
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "degraded" || got.Store != "unreachable" {
		t.Errorf("unexpected health: %+v", got)
	}
}

func TestWebSocketUpgradeRejections(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("Invalid HTTP Method", func(t *testing.T) {
		resp, err := http.Post(f.ts.URL+"/ws", "text/plain", strings.NewReader("test"))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		th.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
	})

	t.Run("Missing Token", func(t *testing.T) {
		_, resp, err := th.ConnectWebSocket(th.WebSocketURL(f.ts.URL, ""), testOrigin)
		if err == nil {
			t.Fatal("Expected upgrade without a token to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %v", resp)
		}
	})

	t.Run("Forged Token", func(t *testing.T) {
		_, resp, err := th.ConnectWebSocket(th.WebSocketURL(f.ts.URL, "not.a.token"), testOrigin)
		if err == nil {
			t.Fatal("Expected upgrade with a forged token to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %v", resp)
		}
	})

	t.Run("Disallowed Origin", func(t *testing.T) {
		_, resp, err := th.ConnectWebSocket(th.WebSocketURL(f.ts.URL, f.token(t, "mallory")), "http://evil.example.com")
		if err == nil {
			t.Fatal("Expected upgrade from a foreign origin to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("Expected 403, got %v", resp)
		}
	})

	t.Run("GET Without WebSocket Headers", func(t *testing.T) {
		resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+"/ws?token="+f.token(t, "alice"))
		th.AssertStatusCode(t, resp, http.StatusBadRequest)
	})
}

func TestGroupAPI(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")
	open := createGroup(t, alice, "Open Floor", "public")
	hidden := createGroup(t, alice, "Back Room", "private")
	sendMessage(t, alice, "m1", server.SendMessageRequest{GroupID: open.ID, Text: "first"})
	sendMessage(t, alice, "m2", server.SendMessageRequest{GroupID: open.ID, Text: "second"})

	resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+"/api/groups")
	th.AssertStatusCode(t, resp, http.StatusOK)
	var groups []chat.GroupSummary
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		t.Fatalf("decode groups: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != open.ID {
		t.Errorf("expected only the public group, got %+v", groups)
	}

	resp = th.MakeRequest(t, http.MethodGet, f.ts.URL+"/api/groups/"+open.ID+"/messages")
	th.AssertStatusCode(t, resp, http.StatusOK)
	var messages []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 2 || messages[0].Text != "first" || messages[1].Text != "second" {
		t.Errorf("unexpected history: %+v", messages)
	}

	for name, path := range map[string]string{
		"private": "/api/groups/" + hidden.ID + "/messages",
		"unknown": "/api/groups/nope/messages",
	} {
		resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s group: expected 404, got %d", name, resp.StatusCode)
		}
	}

	post := th.MakeRequest(t, http.MethodPost, f.ts.URL+"/api/groups")
	th.AssertStatusCode(t, post, http.StatusMethodNotAllowed)
	post = th.MakeRequest(t, http.MethodPost, f.ts.URL+"/api/groups/"+open.ID+"/messages")
	th.AssertStatusCode(t, post, http.StatusMethodNotAllowed)
}

func TestTestPage(t *testing.T) {
	f := newFixture(t, nil)

	resp := th.MakeRequest(t, http.MethodGet, f.ts.URL+"/test")
	th.AssertStatusCode(t, resp, http.StatusOK)
	th.AssertContentType(t, resp, "text/html")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if !strings.Contains(string(body), "/ws?token=") {
		t.Error("test page does not connect to the WebSocket endpoint")
	}
}
