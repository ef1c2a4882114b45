// Package server defines the typed envelope exchanged over the WebSocket and
// the payloads of every request and event.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/routing"
	"github.com/Tyrowin/groupchat/internal/session"
)

// Request types accepted from clients.
const (
	TypeCreateGroup      = "createGroup"
	TypeJoinGroup        = "joinGroup"
	TypeLeaveGroup       = "leaveGroup"
	TypeQuitGroup        = "quitGroup"
	TypeSendMessage      = "sendMessage"
	TypeEditMessage      = "editMessage"
	TypeJoinPrivateGroup = "joinPrivateGroup"
	TypeListPublicGroups = "listPublicGroups"
	TypeGetGroupHistory  = "getGroupHistory"
	TypeDeactivateGroup  = "deactivateGroup"
)

// Event types sent to clients.
const (
	EventGroupDetails     = "groupDetails"
	EventGroupCreated     = "groupCreated"
	EventLoadMessages     = "loadMessages"
	EventLeft             = "left"
	EventMessageSent      = "messageSent"
	EventNewMessage       = "newMessage"
	EventMessageEdited    = "messageEdited"
	EventJoinResult       = "joinResult"
	EventPublicGroups     = "publicGroups"
	EventGroupHistory     = "groupHistory"
	EventGroupDeactivated = "groupDeactivated"
	EventError            = "error"
)

// Envelope frames every message in both directions. ID is chosen by the
// client and echoed on the direct response to that request.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateGroupRequest is the payload of createGroup.
type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// GroupRequest is the payload of requests addressing one group.
type GroupRequest struct {
	GroupID string `json:"groupId"`
}

// SendMessageRequest is the payload of sendMessage.
type SendMessageRequest struct {
	GroupID   string `json:"groupId"`
	Text      string `json:"text"`
	Intention string `json:"intention,omitempty"`
}

// EditMessageRequest is the payload of editMessage.
type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// JoinPrivateGroupRequest is the payload of joinPrivateGroup.
type JoinPrivateGroupRequest struct {
	InviteCode string `json:"inviteCode"`
}

// GroupDetails is the creator's and members' view of a group, with invite
// details but without the member list.
type GroupDetails struct {
	chat.GroupSummary
	InviteCode string     `json:"inviteCode,omitempty"`
	InviteLink string     `json:"inviteLink,omitempty"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	IsActive   bool       `json:"isActive"`
}

func detailsOf(g chat.Group) GroupDetails {
	return GroupDetails{
		GroupSummary: g.Summary(),
		InviteCode:   g.InviteCode,
		InviteLink:   g.InviteLink,
		CreatedBy:    g.CreatedBy,
		CreatedAt:    g.CreatedAt,
		IsActive:     g.IsActive,
	}
}

func summariesOf(groups []chat.Group) []chat.GroupSummary {
	out := make([]chat.GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Summary())
	}
	return out
}

// MessagesEvent carries a batch of messages of one group.
type MessagesEvent struct {
	GroupID  string         `json:"groupId"`
	Messages []chat.Message `json:"messages"`
}

// MessageEvent carries a single message. The messageSent reply and the
// newMessage and messageEdited events share it.
type MessageEvent = routing.MessageEvent

// GroupEvent names the group an event is about.
type GroupEvent struct {
	GroupID string `json:"groupId"`
}

// JoinResult answers joinPrivateGroup.
type JoinResult struct {
	Success bool          `json:"success"`
	Group   *GroupDetails `json:"group,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ErrorEvent reports a failed request.
type ErrorEvent struct {
	Reason string `json:"reason"`
}

// BroadcastMessage is a frame the hub hands to every connected client, or
// only to Target when it is set.
type BroadcastMessage struct {
	Target  session.ID
	Payload []byte
}

func encodeEvent(event, id string, payload any) ([]byte, error) {
	env := Envelope{Type: event, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// fanOutEncoder frames events pushed by the router, which are never
// correlated with a request.
func fanOutEncoder(event string, payload any) ([]byte, error) {
	return encodeEvent(event, "", payload)
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := strictDecode(raw, &env); err != nil {
		return Envelope{}, chat.Errorf(chat.ErrValidation, "Malformed message")
	}
	if env.Type == "" {
		return env, chat.Errorf(chat.ErrValidation, "Message type is required")
	}
	return env, nil
}

// decodePayload decodes a request payload, rejecting unknown fields. A
// missing payload decodes as an empty object.
func decodePayload(env Envelope, out any) error {
	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := strictDecode(raw, out); err != nil {
		return chat.Errorf(chat.ErrValidation, "Invalid payload for %s", env.Type)
	}
	return nil
}

func strictDecode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
