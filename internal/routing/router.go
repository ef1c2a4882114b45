// Package routing validates, persists and fans out group messages.
//
// Each group has an ordering lock. The active check, timestamp assignment,
// the durable write and the hand-off to every subscriber happen while it is
// held, and so does subscribing a session. A subscriber therefore sees a
// group's messages in write order, and a message written before a session
// subscribed reaches that session through history only.
package routing

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/keylock"
	"github.com/Tyrowin/groupchat/internal/session"
	"github.com/Tyrowin/groupchat/internal/store"
)

// Event names written by the router.
const (
	EventNewMessage    = "newMessage"
	EventMessageEdited = "messageEdited"
)

// MessageEvent is the payload of EventNewMessage and EventMessageEdited.
type MessageEvent struct {
	Message chat.Message `json:"message"`
}

// DefaultMaxTextLength bounds message text, counted in runes.
const DefaultMaxTextLength = 2000

// Groups looks groups up by id.
type Groups interface {
	GetGroup(ctx context.Context, id string) (chat.Group, error)
}

// Sessions is the live subscription index the router fans out through.
type Sessions interface {
	Subscribe(id session.ID, groupID string) bool
	Unsubscribe(id session.ID, groupID string)
	SubscribersOf(groupID string) []session.ID
	Deliver(id session.ID, payload []byte) bool
}

// EncodeFunc turns an event into the bytes handed to subscribers.
type EncodeFunc func(event string, payload any) ([]byte, error)

// Router is the message path between connections and the store.
type Router struct {
	store    store.Store
	groups   Groups
	sessions Sessions
	locks    *keylock.Map
	logger   *slog.Logger
	now      func() time.Time
	encode   EncodeFunc

	maxText      int
	historyLimit int

	stampMu sync.Mutex
	stamps  map[string]time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// WithEncoder sets how events are framed for subscribers.
func WithEncoder(encode EncodeFunc) Option {
	return func(r *Router) {
		if encode != nil {
			r.encode = encode
		}
	}
}

// WithMaxTextLength overrides DefaultMaxTextLength.
func WithMaxTextLength(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxText = n
		}
	}
}

// WithHistoryLimit lowers the history length below chat.DefaultHistoryLimit.
// Larger values are ignored.
func WithHistoryLimit(n int) Option {
	return func(r *Router) {
		if n > 0 && n <= chat.DefaultHistoryLimit {
			r.historyLimit = n
		}
	}
}

// WithLocks shares the per-group locks with other writers of group state,
// so a deactivation cannot interleave with a send.
func WithLocks(locks *keylock.Map) Option {
	return func(r *Router) {
		if locks != nil {
			r.locks = locks
		}
	}
}

// New returns a Router.
func New(s store.Store, groups Groups, sessions Sessions, opts ...Option) *Router {
	r := &Router{
		store:        s,
		groups:       groups,
		sessions:     sessions,
		locks:        &keylock.Map{},
		logger:       slog.Default(),
		now:          time.Now,
		encode:       encodeEnvelope,
		maxText:      DefaultMaxTextLength,
		historyLimit: chat.DefaultHistoryLimit,
		stamps:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{event, payload})
}

// Send stores a message from sender in groupID and delivers it to every
// current subscriber.
func (r *Router) Send(ctx context.Context, groupID string, sender chat.User, text string, intention chat.Intention) (chat.Message, error) {
	text, err := r.validateText(text)
	if err != nil {
		return chat.Message{}, err
	}
	intention, err = chat.ParseIntention(string(intention))
	if err != nil {
		return chat.Message{}, err
	}
	if sender.ID == "" {
		return chat.Message{}, chat.Errorf(chat.ErrValidation, "Sender is required")
	}

	unlock := r.locks.Lock(groupID)
	defer unlock()

	g, err := r.groups.GetGroup(ctx, groupID)
	if errors.Is(err, chat.ErrNotFound) || (err == nil && !g.IsActive) {
		return chat.Message{}, chat.Errorf(chat.ErrValidation, "Group not found")
	}
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		GroupID:     groupID,
		Text:        text,
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName,
		SenderEmail: sender.Email,
		Timestamp:   r.stamp(groupID),
		Intention:   intention,
	}
	id, err := r.store.Insert(ctx, chat.CollectionMessages, msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("save message: %w", err)
	}
	msg.ID = id

	r.fanOut(groupID, EventNewMessage, MessageEvent{Message: msg})
	return msg, nil
}

// Edit replaces the text of a message written by editorID and delivers the
// updated message to the group's subscribers.
func (r *Router) Edit(ctx context.Context, messageID, editorID, text string) (chat.Message, error) {
	text, err := r.validateText(text)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := r.message(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.SenderID != editorID {
		return chat.Message{}, chat.Errorf(chat.ErrInvalidState, "You can only edit your own messages")
	}

	unlock := r.locks.Lock(msg.GroupID)
	defer unlock()

	editedAt := r.now().UTC()
	err = r.store.Update(ctx, chat.CollectionMessages, msg.ID, store.Fields{
		"text":     text,
		"edited":   true,
		"editedAt": editedAt,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("edit message: %w", err)
	}
	msg.Text = text
	msg.Edited = true
	msg.EditedAt = &editedAt

	r.fanOut(msg.GroupID, EventMessageEdited, MessageEvent{Message: msg})
	return msg, nil
}

// Join subscribes the session to groupID and returns the group's recent
// history. Callers authorize the join first.
func (r *Router) Join(ctx context.Context, id session.ID, groupID string) ([]chat.Message, error) {
	unlock := r.locks.Lock(groupID)
	defer unlock()

	if !r.sessions.Subscribe(id, groupID) {
		return nil, chat.Errorf(chat.ErrInvalidState, "Connection is closed")
	}
	return r.History(ctx, groupID, 0)
}

// Leave unsubscribes the session from groupID.
func (r *Router) Leave(id session.ID, groupID string) {
	r.sessions.Unsubscribe(id, groupID)
}

// Publish delivers an arbitrary event to groupID's subscribers in order
// with its messages. It returns the number of successful hand-offs.
func (r *Router) Publish(groupID, event string, payload any) int {
	unlock := r.locks.Lock(groupID)
	defer unlock()
	return r.fanOut(groupID, event, payload)
}

// History returns up to limit of the group's most recent messages, oldest
// first. A limit of zero or less uses the configured default, and no limit
// exceeds chat.DefaultHistoryLimit.
func (r *Router) History(ctx context.Context, groupID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = r.historyLimit
	}
	limit = min(limit, chat.DefaultHistoryLimit)
	recs, err := r.store.QueryByEquality(ctx, chat.CollectionMessages, "groupId", groupID)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", groupID, err)
	}

	msgs := make([]chat.Message, 0, len(recs))
	for _, rec := range recs {
		var m chat.Message
		if err := rec.Decode(&m); err != nil {
			return nil, err
		}
		m.ID = rec.ID
		msgs = append(msgs, m)
	}
	slices.SortFunc(msgs, func(a, b chat.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// caller holds the group's lock.
func (r *Router) fanOut(groupID, event string, payload any) int {
	subscribers := r.sessions.SubscribersOf(groupID)
	if len(subscribers) == 0 {
		return 0
	}
	frame, err := r.encode(event, payload)
	if err != nil {
		r.logger.Error("failed to encode event", "event", event, "group_id", groupID, "error", err)
		return 0
	}

	delivered := 0
	for _, id := range subscribers {
		if r.sessions.Deliver(id, frame) {
			delivered++
			continue
		}
		r.logger.Warn("delivery failed, skipping subscriber", "event", event, "group_id", groupID, "session_id", id)
	}
	r.logger.Debug("fanned out event", "event", event, "group_id", groupID, "delivered", delivered, "subscribers", len(subscribers))
	return delivered
}

// stamp returns a UTC timestamp strictly after the group's previous one.
// Caller holds the group's lock.
func (r *Router) stamp(groupID string) time.Time {
	ts := r.now().UTC()

	r.stampMu.Lock()
	defer r.stampMu.Unlock()
	if last, ok := r.stamps[groupID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	r.stamps[groupID] = ts
	return ts
}

func (r *Router) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", chat.Errorf(chat.ErrValidation, "Message text is required")
	}
	if n := utf8.RuneCountInString(text); n > r.maxText {
		return "", chat.Errorf(chat.ErrValidation, "Message is too long (%d characters, limit %d)", n, r.maxText)
	}
	return text, nil
}

func (r *Router) message(ctx context.Context, id string) (chat.Message, error) {
	if id == "" {
		return chat.Message{}, chat.Errorf(chat.ErrNotFound, "Message not found")
	}
	rec, err := r.store.GetByID(ctx, chat.CollectionMessages, id)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Message{}, chat.Errorf(chat.ErrNotFound, "Message not found")
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("load message %s: %w", id, err)
	}
	var m chat.Message
	if err := rec.Decode(&m); err != nil {
		return chat.Message{}, err
	}
	m.ID = rec.ID
	return m, nil
}
