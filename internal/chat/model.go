// Package chat defines the domain model shared by the group registry, the
// session manager, and the message router: users, groups, messages, invite
// codes, and the error kinds reported back to connections.
package chat

import (
	"slices"
	"strings"
	"time"
)

// Store collection names.
const (
	CollectionGroups      = "groups"
	CollectionMessages    = "messages"
	CollectionInviteCodes = "inviteCodes"
)

// QueriedFields lists the fields each collection is looked up by. Stores
// that keep their own secondary indexes index exactly these.
var QueriedFields = map[string][]string{
	CollectionGroups:      {"type"},
	CollectionMessages:    {"groupId"},
	CollectionInviteCodes: {"code", "groupId"},
}

// DefaultHistoryLimit is the number of most recent messages returned by a
// history query. It is also the most a query may ask for.
const DefaultHistoryLimit = 50

// User is an identity resolved outside the core. Only ID is ever compared.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// GroupType distinguishes discoverable groups from invite-gated ones.
type GroupType string

const (
	GroupPublic  GroupType = "public"
	GroupPrivate GroupType = "private"
)

// ParseGroupType validates a wire value. An empty value defaults to public.
func ParseGroupType(s string) (GroupType, error) {
	switch GroupType(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupPublic:
		return GroupPublic, nil
	case GroupPrivate:
		return GroupPrivate, nil
	}
	return "", Errorf(ErrValidation, "Group type must be public or private")
}

// Group is the persisted record of a chat room and its membership.
type Group struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        GroupType  `json:"type"`
	InviteCode  string     `json:"inviteCode,omitempty"`
	InviteLink  string     `json:"inviteLink,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	Members     []string   `json:"members"`
	MemberCount int        `json:"memberCount"`
	IsActive    bool       `json:"isActive"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// AddMember adds userID when absent and keeps MemberCount equal to the
// number of members. It reports whether the membership changed.
func (g *Group) AddMember(userID string) bool {
	if g.HasMember(userID) {
		g.MemberCount = len(g.Members)
		return false
	}
	g.Members = append(g.Members, userID)
	g.MemberCount = len(g.Members)
	return true
}

// RemoveMember removes userID when present and keeps MemberCount equal to
// the number of members. It reports whether the membership changed.
func (g *Group) RemoveMember(userID string) bool {
	i := slices.Index(g.Members, userID)
	if i < 0 {
		g.MemberCount = len(g.Members)
		return false
	}
	g.Members = slices.Delete(g.Members, i, i+1)
	g.MemberCount = len(g.Members)
	return true
}

// Summary returns the public view of the group, without membership or
// invite details.
func (g *Group) Summary() GroupSummary {
	return GroupSummary{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Type:        g.Type,
		MemberCount: g.MemberCount,
	}
}

// GroupSummary is the discovery view broadcast in groupCreated events and
// returned by public group listings.
type GroupSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        GroupType `json:"type"`
	MemberCount int       `json:"memberCount"`
}

// Intention is an optional presentation tag on a message.
type Intention string

const (
	IntentionNone    Intention = ""
	IntentionVenting Intention = "venting"
	IntentionAdvice  Intention = "advice"
	IntentionUrgent  Intention = "urgent"
)

// ParseIntention validates a wire value. An empty value means no intention.
func ParseIntention(s string) (Intention, error) {
	switch in := Intention(strings.ToLower(strings.TrimSpace(s))); in {
	case IntentionNone, IntentionVenting, IntentionAdvice, IntentionUrgent:
		return in, nil
	}
	return "", Errorf(ErrValidation, "Intention must be venting, advice or urgent")
}

// Message is a persisted group message. Only Text, Edited and EditedAt
// change after creation.
type Message struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"groupId"`
	Text        string     `json:"text"`
	SenderID    string     `json:"senderId"`
	SenderName  string     `json:"senderName"`
	SenderEmail string     `json:"senderEmail"`
	Timestamp   time.Time  `json:"timestamp"`
	Intention   Intention  `json:"intention,omitempty"`
	Edited      bool       `json:"edited,omitempty"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`
}

// InviteCode grants join rights to one private group.
type InviteCode struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	GroupID    string    `json:"groupId"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UsageCount int       `json:"usageCount"`
	IsActive   bool      `json:"isActive"`
}
