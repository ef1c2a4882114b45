package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Tyrowin/groupchat/internal/chat"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "request", raw: `{"type":"joinGroup","id":"7","payload":{"groupId":"g"}}`},
		{name: "no payload", raw: `{"type":"listPublicGroups"}`},
		{name: "unknown field", raw: `{"type":"joinGroup","extra":1}`, wantErr: "Malformed message"},
		{name: "trailing data", raw: `{"type":"joinGroup"} {"type":"joinGroup"}`, wantErr: "Malformed message"},
		{name: "not json", raw: `hello`, wantErr: "Malformed message"},
		{name: "missing type", raw: `{"id":"1"}`, wantErr: "Message type is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEnvelope([]byte(tt.raw))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, chat.ErrValidation) || chat.Reason(err, "") != tt.wantErr {
				t.Fatalf("error = %v, want validation error %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	for _, payload := range []string{"", "null", "  "} {
		var req GroupRequest
		if err := decodePayload(Envelope{Type: TypeJoinGroup, Payload: json.RawMessage(payload)}, &req); err != nil {
			t.Errorf("payload %q: %v", payload, err)
		}
	}

	var req SendMessageRequest
	err := decodePayload(Envelope{Type: TypeSendMessage, Payload: json.RawMessage(`{"groupId":"g","text":"hi","bold":true}`)}, &req)
	if chat.Reason(err, "") != "Invalid payload for sendMessage" {
		t.Errorf("error = %v", err)
	}

	err = decodePayload(Envelope{Type: TypeSendMessage, Payload: json.RawMessage(`{"groupId":42}`)}, &req)
	if !errors.Is(err, chat.ErrValidation) {
		t.Errorf("type mismatch error = %v", err)
	}
}

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent(EventError, "9", ErrorEvent{Reason: "nope"})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if got := string(frame); got != `{"type":"error","id":"9","payload":{"reason":"nope"}}` {
		t.Errorf("frame = %s", got)
	}

	frame, err = fanOutEncoder(EventGroupDeactivated, GroupEvent{GroupID: "g"})
	if err != nil {
		t.Fatalf("fanOutEncoder: %v", err)
	}
	if got := string(frame); got != `{"type":"groupDeactivated","payload":{"groupId":"g"}}` {
		t.Errorf("frame = %s", got)
	}

	if _, err := encodeEvent(EventError, "", func() {}); err == nil {
		t.Error("expected an error for an unencodable payload")
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	for _, msg := range []string{"use of closed network connection", "websocket: close sent", "write: broken pipe"} {
		if !isExpectedCloseError(errors.New(msg)) {
			t.Errorf("%q should be expected", msg)
		}
	}
	if isExpectedCloseError(errors.New("i/o timeout")) {
		t.Error("timeouts are not expected close errors")
	}
}
