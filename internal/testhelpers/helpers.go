// Package testhelpers provides common utilities for testing the groupchat
// server over real HTTP and WebSocket connections.
//
// Frames are decoded into a local Frame type so that the helpers can be used
// from inside the server package as well as from its external tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every wait in this package.
const DefaultTimeout = 2 * time.Second

// Frame is one envelope received from the server.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the frame payload into out, failing the test on error.
func (f Frame) Decode(t *testing.T, out any) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, out); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", f.Type, f.Payload, err)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// The body is closed when the test ends.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// WebSocketURL turns an http(s) base URL into the /ws endpoint URL carrying
// token as a query parameter. An empty token is omitted.
func WebSocketURL(baseURL, token string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// ConnectWebSocket dials url presenting origin. The handshake response is
// returned so callers can inspect rejected upgrades; its body is closed.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and closes the connection when the test ends.
func MustConnect(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, origin)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendRequest writes one request envelope. A nil payload is omitted.
func SendRequest(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	env := map[string]any{"type": typ}
	if id != "" {
		env["id"] = id
	}
	if payload != nil {
		env["payload"] = payload
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("Failed to send %s: %v", typ, err)
	}
}

// SendRaw writes data as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("Failed to send raw frame: %v", err)
	}
}

// ReadFrame reads the next frame within timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, err
	}
	var f Frame
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// NextFrame returns the very next frame, failing the test on timeout.
func NextFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	f, err := ReadFrame(conn, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return f
}

// AwaitFrame reads frames until match accepts one, discarding the rest.
func AwaitFrame(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for frame")
		}
		f, err := ReadFrame(conn, remaining)
		if err != nil {
			t.Fatalf("Failed while waiting for frame: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

// AwaitEvent waits for the next frame of type typ.
func AwaitEvent(t *testing.T, conn *websocket.Conn, typ string) Frame {
	t.Helper()
	return AwaitFrame(t, conn, func(f Frame) bool { return f.Type == typ })
}

// AwaitReply waits for the frame answering request id.
func AwaitReply(t *testing.T, conn *websocket.Conn, id string) Frame {
	t.Helper()
	return AwaitFrame(t, conn, func(f Frame) bool { return f.ID == id })
}

// ExpectNoFrame asserts that nothing arrives within timeout. The connection
// cannot be read again afterwards.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	f, err := ReadFrame(conn, timeout)
	if err == nil {
		t.Fatalf("Expected no frame, but received %s", f.Type)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of frame: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds, failing the test after DefaultTimeout.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met: %s", msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
