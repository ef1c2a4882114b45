package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/registry"
	"github.com/Tyrowin/groupchat/internal/routing"
)

type handlerFunc func(ctx context.Context, c *Client, env Envelope) error

// dispatcher routes each request envelope to its handler and turns any
// failure into one error response on the requesting connection.
type dispatcher struct {
	registry *registry.Registry
	router   *routing.Router
	hub      *Hub
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

func newDispatcher(reg *registry.Registry, router *routing.Router, hub *Hub, logger *slog.Logger) *dispatcher {
	d := &dispatcher{registry: reg, router: router, hub: hub, logger: logger}
	d.handlers = map[string]handlerFunc{
		TypeCreateGroup:      d.createGroup,
		TypeJoinGroup:        d.joinGroup,
		TypeLeaveGroup:       d.leaveGroup,
		TypeQuitGroup:        d.quitGroup,
		TypeSendMessage:      d.sendMessage,
		TypeEditMessage:      d.editMessage,
		TypeJoinPrivateGroup: d.joinPrivateGroup,
		TypeListPublicGroups: d.listPublicGroups,
		TypeGetGroupHistory:  d.getGroupHistory,
		TypeDeactivateGroup:  d.deactivateGroup,
	}
	return d
}

// fallbacks are shown when a request fails for a reason the user cannot act
// on, such as a store outage.
var fallbacks = map[string]string{
	TypeCreateGroup:      "Failed to create group",
	TypeJoinGroup:        "Failed to join group",
	TypeLeaveGroup:       "Failed to leave group",
	TypeQuitGroup:        "Failed to leave group",
	TypeSendMessage:      "Failed to send message",
	TypeEditMessage:      "Failed to edit message",
	TypeJoinPrivateGroup: "Failed to join group",
	TypeListPublicGroups: "Failed to load groups",
	TypeGetGroupHistory:  "Failed to load messages",
	TypeDeactivateGroup:  "Failed to deactivate group",
}

func (d *dispatcher) handle(c *Client, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		c.reply(env.ID, EventError, ErrorEvent{Reason: chat.Reason(err, "Malformed message")})
		return
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		c.reply(env.ID, EventError, ErrorEvent{Reason: "Unknown message type " + env.Type})
		return
	}

	if err := h(d.hub.Context(), c, env); err != nil {
		var domain *chat.Error
		if !errors.As(err, &domain) {
			c.logger.Error("request failed", "type", env.Type, "error", err)
		}
		c.reply(env.ID, EventError, ErrorEvent{Reason: chat.Reason(err, fallbacks[env.Type])})
	}
}

func (d *dispatcher) createGroup(ctx context.Context, c *Client, env Envelope) error {
	var req CreateGroupRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	g, err := d.registry.CreateGroup(ctx, req.Name, req.Description, chat.GroupType(req.Type), c.user.ID)
	if err != nil {
		return err
	}
	c.reply(env.ID, EventGroupDetails, detailsOf(g))

	frame, err := encodeEvent(EventGroupCreated, "", g.Summary())
	if err != nil {
		return err
	}
	msg := BroadcastMessage{Payload: frame}
	if g.Type == chat.GroupPrivate {
		msg.Target = c.sessionID
	}
	d.hub.Broadcast(msg)
	return nil
}

func (d *dispatcher) joinGroup(ctx context.Context, c *Client, env Envelope) error {
	req, err := groupRequest(env)
	if err != nil {
		return err
	}
	if _, err := d.registry.EnterGroup(ctx, req.GroupID, c.user.ID); err != nil {
		return err
	}
	history, err := d.router.Join(ctx, c.sessionID, req.GroupID)
	if err != nil {
		return err
	}
	c.reply(env.ID, EventLoadMessages, MessagesEvent{GroupID: req.GroupID, Messages: history})
	return nil
}

func (d *dispatcher) leaveGroup(_ context.Context, c *Client, env Envelope) error {
	req, err := groupRequest(env)
	if err != nil {
		return err
	}
	d.router.Leave(c.sessionID, req.GroupID)
	c.reply(env.ID, EventLeft, GroupEvent{GroupID: req.GroupID})
	return nil
}

func (d *dispatcher) quitGroup(ctx context.Context, c *Client, env Envelope) error {
	req, err := groupRequest(env)
	if err != nil {
		return err
	}
	if _, err := d.registry.LeaveGroup(ctx, req.GroupID, c.user.ID); err != nil {
		return err
	}
	d.router.Leave(c.sessionID, req.GroupID)
	c.reply(env.ID, EventLeft, GroupEvent{GroupID: req.GroupID})
	return nil
}

func (d *dispatcher) sendMessage(ctx context.Context, c *Client, env Envelope) error {
	var req SendMessageRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	if err := d.requireReadAccess(ctx, req.GroupID, c.user.ID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Errorf(chat.ErrValidation, "Group not found")
		}
		return err
	}
	msg, err := d.router.Send(ctx, req.GroupID, c.user, req.Text, chat.Intention(req.Intention))
	if err != nil {
		return err
	}
	c.reply(env.ID, EventMessageSent, MessageEvent{Message: msg})
	return nil
}

func (d *dispatcher) editMessage(ctx context.Context, c *Client, env Envelope) error {
	var req EditMessageRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	msg, err := d.router.Edit(ctx, req.MessageID, c.user.ID, req.Text)
	if err != nil {
		return err
	}
	c.reply(env.ID, EventMessageSent, MessageEvent{Message: msg})
	return nil
}

// joinPrivateGroup reports every outcome as a joinResult.
func (d *dispatcher) joinPrivateGroup(ctx context.Context, c *Client, env Envelope) error {
	var req JoinPrivateGroupRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	g, err := d.registry.RedeemInvite(ctx, req.InviteCode, c.user.ID)
	if err != nil {
		d.joinFailed(c, env, err, "Invalid invite code")
		return nil
	}
	// Membership is already saved; a failed subscribe is still a joinResult.
	if _, err := d.router.Join(ctx, c.sessionID, g.ID); err != nil {
		d.joinFailed(c, env, err, "Failed to join group")
		return nil
	}
	details := detailsOf(g)
	c.reply(env.ID, EventJoinResult, JoinResult{Success: true, Group: &details})
	return nil
}

func (d *dispatcher) joinFailed(c *Client, env Envelope, err error, fallback string) {
	var domain *chat.Error
	if !errors.As(err, &domain) {
		c.logger.Error("private group join failed", "error", err)
	}
	c.reply(env.ID, EventJoinResult, JoinResult{Success: false, Message: chat.Reason(err, fallback)})
}

func (d *dispatcher) listPublicGroups(ctx context.Context, c *Client, env Envelope) error {
	var req struct{}
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	groups, err := d.registry.ListPublicGroups(ctx)
	if err != nil {
		return err
	}
	c.reply(env.ID, EventPublicGroups, summariesOf(groups))
	return nil
}

func (d *dispatcher) getGroupHistory(ctx context.Context, c *Client, env Envelope) error {
	req, err := groupRequest(env)
	if err != nil {
		return err
	}
	if err := d.requireReadAccess(ctx, req.GroupID, c.user.ID); err != nil {
		return err
	}
	history, err := d.router.History(ctx, req.GroupID, 0)
	if err != nil {
		return err
	}
	c.reply(env.ID, EventGroupHistory, MessagesEvent{GroupID: req.GroupID, Messages: history})
	return nil
}

func (d *dispatcher) deactivateGroup(ctx context.Context, c *Client, env Envelope) error {
	req, err := groupRequest(env)
	if err != nil {
		return err
	}
	if _, err := d.registry.DeactivateGroup(ctx, req.GroupID, c.user.ID); err != nil {
		return err
	}
	event := GroupEvent{GroupID: req.GroupID}
	d.router.Publish(req.GroupID, EventGroupDeactivated, event)
	c.reply(env.ID, EventGroupDeactivated, event)
	return nil
}

// requireReadAccess allows anyone into public groups and only members into
// private ones.
func (d *dispatcher) requireReadAccess(ctx context.Context, groupID, userID string) error {
	g, err := d.registry.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Type == chat.GroupPrivate && !g.HasMember(userID) {
		return chat.Errorf(chat.ErrInvalidState, "You are not a member of this private group")
	}
	return nil
}

func groupRequest(env Envelope) (GroupRequest, error) {
	var req GroupRequest
	if err := decodePayload(env, &req); err != nil {
		return req, err
	}
	if req.GroupID == "" {
		return req, chat.Errorf(chat.ErrValidation, "groupId is required")
	}
	return req, nil
}
