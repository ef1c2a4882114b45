// Package registry owns groups and their persisted membership. Every
// mutation of one group's members, counter or invite state runs under that
// group's lock as a single read-modify-write against the store.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/invite"
	"github.com/Tyrowin/groupchat/internal/keylock"
	"github.com/Tyrowin/groupchat/internal/store"
	"github.com/google/uuid"
)

// Registry creates, looks up and mutates groups.
type Registry struct {
	store   store.Store
	invites *invite.Generator
	locks   *keylock.Map
	logger  *slog.Logger
	now     func() time.Time
	baseURL string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithPublicBaseURL sets the prefix of invite links, e.g.
// "https://chat.example.com".
func WithPublicBaseURL(base string) Option {
	return func(r *Registry) {
		r.baseURL = strings.TrimRight(base, "/")
	}
}

// WithLocks shares the per-group locks with the message router, so a send
// observes a deactivation either entirely before or entirely after it.
func WithLocks(locks *keylock.Map) Option {
	return func(r *Registry) {
		if locks != nil {
			r.locks = locks
		}
	}
}

// New returns a Registry over s. Private groups get their codes from
// invites.
func New(s store.Store, invites *invite.Generator, opts ...Option) *Registry {
	r := &Registry{
		store:   s,
		invites: invites,
		locks:   &keylock.Map{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InviteLink returns the shareable link for code.
func (r *Registry) InviteLink(code string) string {
	return r.baseURL + "/join/" + code
}

// CreateGroup persists a new active group with creatorID as its only member.
// Private groups are issued an invite code before the group is stored.
func (r *Registry) CreateGroup(ctx context.Context, name, description string, typ chat.GroupType, creatorID string) (chat.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Group{}, chat.Errorf(chat.ErrValidation, "Group name is required")
	}
	if creatorID == "" {
		return chat.Group{}, chat.Errorf(chat.ErrValidation, "Group creator is required")
	}
	typ, err := chat.ParseGroupType(string(typ))
	if err != nil {
		return chat.Group{}, err
	}

	now := r.now().UTC()
	g := chat.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Type:        typ,
		CreatedBy:   creatorID,
		CreatedAt:   &now,
		Members:     []string{creatorID},
		MemberCount: 1,
		IsActive:    true,
	}

	if typ == chat.GroupPrivate {
		inv, err := r.invites.Generate(ctx, g.ID, creatorID)
		if err != nil {
			return chat.Group{}, err
		}
		g.InviteCode = inv.Code
		g.InviteLink = r.InviteLink(inv.Code)
	}

	if _, err := r.store.Insert(ctx, chat.CollectionGroups, g); err != nil {
		if g.InviteCode != "" {
			if derr := r.invites.Deactivate(ctx, g.ID); derr != nil {
				r.logger.Error("failed to retire invite code of unsaved group", "group_id", g.ID, "error", derr)
			}
		}
		return chat.Group{}, fmt.Errorf("create group: %w", err)
	}

	r.logger.Info("group created", "group_id", g.ID, "type", g.Type, "created_by", creatorID)
	return g, nil
}

// ListPublicGroups returns active public groups, newest first. Groups
// without a creation time sort last.
func (r *Registry) ListPublicGroups(ctx context.Context) ([]chat.Group, error) {
	recs, err := r.store.QueryByEquality(ctx, chat.CollectionGroups, "type", chat.GroupPublic)
	if err != nil {
		return nil, fmt.Errorf("list public groups: %w", err)
	}

	groups := make([]chat.Group, 0, len(recs))
	for _, rec := range recs {
		g, err := decodeGroup(rec)
		if err != nil {
			return nil, err
		}
		if g.IsActive {
			groups = append(groups, g)
		}
	}

	slices.SortFunc(groups, func(a, b chat.Group) int {
		switch {
		case a.CreatedAt == nil && b.CreatedAt == nil:
		case a.CreatedAt == nil:
			return 1
		case b.CreatedAt == nil:
			return -1
		default:
			if c := b.CreatedAt.Compare(*a.CreatedAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return groups, nil
}

// GetGroup returns the group with id, active or not.
func (r *Registry) GetGroup(ctx context.Context, id string) (chat.Group, error) {
	if id == "" {
		return chat.Group{}, chat.Errorf(chat.ErrNotFound, "Group not found")
	}
	rec, err := r.store.GetByID(ctx, chat.CollectionGroups, id)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Group{}, chat.Errorf(chat.ErrNotFound, "Group not found")
	}
	if err != nil {
		return chat.Group{}, fmt.Errorf("get group %s: %w", id, err)
	}
	return decodeGroup(rec)
}

// IsMember reports whether userID is a persisted member of groupID.
func (r *Registry) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.HasMember(userID), nil
}

// JoinPublicGroup adds userID to an active public group. Joining twice is a
// no-op.
func (r *Registry) JoinPublicGroup(ctx context.Context, groupID, userID string) (chat.Group, error) {
	if userID == "" {
		return chat.Group{}, chat.Errorf(chat.ErrValidation, "User is required")
	}
	unlock := r.locks.Lock(groupID)
	defer unlock()

	g, err := r.activeGroup(ctx, groupID)
	if err != nil {
		return chat.Group{}, err
	}
	if g.Type != chat.GroupPublic {
		return chat.Group{}, chat.Errorf(chat.ErrInvalidState, "This group is private, join it with an invite code")
	}
	if g.AddMember(userID) {
		if err := r.saveMembers(ctx, g); err != nil {
			return chat.Group{}, err
		}
		r.logger.Info("member joined", "group_id", g.ID, "user_id", userID, "member_count", g.MemberCount)
	}
	return g, nil
}

// EnterGroup authorizes userID to follow groupID live. Public groups are
// joined on the way in; private groups require existing membership.
func (r *Registry) EnterGroup(ctx context.Context, groupID, userID string) (chat.Group, error) {
	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return chat.Group{}, err
	}
	if !g.IsActive {
		return chat.Group{}, chat.Errorf(chat.ErrNotFound, "Group not found")
	}
	if g.Type == chat.GroupPublic {
		return r.JoinPublicGroup(ctx, groupID, userID)
	}
	if !g.HasMember(userID) {
		return chat.Group{}, chat.Errorf(chat.ErrInvalidState, "You are not a member of this private group")
	}
	return g, nil
}

// RedeemInvite adds userID to the private group owning code.
func (r *Registry) RedeemInvite(ctx context.Context, code, userID string) (chat.Group, error) {
	if userID == "" {
		return chat.Group{}, chat.Errorf(chat.ErrValidation, "User is required")
	}
	inv, err := r.resolveInvite(ctx, code)
	if err != nil {
		return chat.Group{}, err
	}

	unlock := r.locks.Lock(inv.GroupID)
	defer unlock()

	// The code may have been retired while we waited for the lock.
	inv, err = r.resolveInvite(ctx, code)
	if err != nil {
		return chat.Group{}, err
	}
	g, err := r.activeGroup(ctx, inv.GroupID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Group{}, chat.Errorf(chat.ErrInvalidInvite, "Invalid invite code")
	}
	if err != nil {
		return chat.Group{}, err
	}
	if g.Type != chat.GroupPrivate {
		return chat.Group{}, chat.Errorf(chat.ErrInvalidState, "Invite codes only apply to private groups")
	}

	if !g.AddMember(userID) {
		return g, nil
	}
	if err := r.saveMembers(ctx, g); err != nil {
		return chat.Group{}, err
	}
	if err := r.invites.RecordUse(ctx, inv.ID); err != nil {
		r.logger.Warn("failed to record invite use", "group_id", g.ID, "error", err)
	}
	r.logger.Info("invite redeemed", "group_id", g.ID, "user_id", userID, "member_count", g.MemberCount)
	return g, nil
}

// LeaveGroup drops userID's membership. Leaving a group one is not in is a
// no-op. The creator cannot leave.
func (r *Registry) LeaveGroup(ctx context.Context, groupID, userID string) (chat.Group, error) {
	unlock := r.locks.Lock(groupID)
	defer unlock()

	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return chat.Group{}, err
	}
	if userID == g.CreatedBy {
		return chat.Group{}, chat.Errorf(chat.ErrInvalidState, "The group owner cannot leave, deactivate the group instead")
	}
	if g.RemoveMember(userID) {
		if err := r.saveMembers(ctx, g); err != nil {
			return chat.Group{}, err
		}
		r.logger.Info("member left", "group_id", g.ID, "user_id", userID, "member_count", g.MemberCount)
	}
	return g, nil
}

// DeactivateGroup marks the group inactive and retires its invite code.
// Only the creator may do this; repeating it is a no-op.
func (r *Registry) DeactivateGroup(ctx context.Context, groupID, userID string) (chat.Group, error) {
	unlock := r.locks.Lock(groupID)
	defer unlock()

	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return chat.Group{}, err
	}
	if g.CreatedBy != userID {
		return chat.Group{}, chat.Errorf(chat.ErrInvalidState, "Only the group owner can deactivate it")
	}
	if !g.IsActive {
		return g, nil
	}

	if err := r.store.Update(ctx, chat.CollectionGroups, g.ID, store.Fields{"isActive": false}); err != nil {
		return chat.Group{}, fmt.Errorf("deactivate group %s: %w", g.ID, err)
	}
	g.IsActive = false
	if err := r.invites.Deactivate(ctx, g.ID); err != nil {
		return chat.Group{}, fmt.Errorf("deactivate group %s: %w", g.ID, err)
	}
	r.logger.Info("group deactivated", "group_id", g.ID, "user_id", userID)
	return g, nil
}

func (r *Registry) resolveInvite(ctx context.Context, code string) (chat.InviteCode, error) {
	inv, err := r.invites.Resolve(ctx, code)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.InviteCode{}, chat.Errorf(chat.ErrInvalidInvite, "Invalid invite code")
	}
	return inv, err
}

func (r *Registry) activeGroup(ctx context.Context, groupID string) (chat.Group, error) {
	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return chat.Group{}, err
	}
	if !g.IsActive {
		return chat.Group{}, chat.Errorf(chat.ErrNotFound, "Group not found")
	}
	return g, nil
}

func (r *Registry) saveMembers(ctx context.Context, g chat.Group) error {
	members := g.Members
	if members == nil {
		members = []string{}
	}
	err := r.store.Update(ctx, chat.CollectionGroups, g.ID, store.Fields{
		"members":     members,
		"memberCount": g.MemberCount,
	})
	if err != nil {
		return fmt.Errorf("update members of %s: %w", g.ID, err)
	}
	return nil
}

func decodeGroup(rec store.Record) (chat.Group, error) {
	var g chat.Group
	if err := rec.Decode(&g); err != nil {
		return chat.Group{}, err
	}
	g.ID = rec.ID
	return g, nil
}
