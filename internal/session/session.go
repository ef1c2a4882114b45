// Package session tracks which live connections follow which groups. The
// index is held in memory only and starts empty on every boot.
package session

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ID identifies one live connection.
type ID string

// Sink receives payloads fanned out to a session. Send must not block; it
// reports false when the payload could not be queued.
type Sink interface {
	Send(payload []byte) bool
}

type session struct {
	userID string
	sink   Sink
	groups map[string]struct{}
}

// Manager is a bidirectional session ⇄ group index guarded by one lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[ID]*session
	groups   map[string]map[ID]struct{}
	logger   *slog.Logger
}

// NewManager returns an empty Manager. A nil logger uses slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[ID]*session),
		groups:   make(map[string]map[ID]struct{}),
		logger:   logger,
	}
}

// OnConnect opens a session for userID delivering through sink.
func (m *Manager) OnConnect(userID string, sink Sink) ID {
	id := ID(uuid.NewString())

	m.mu.Lock()
	m.sessions[id] = &session{
		userID: userID,
		sink:   sink,
		groups: make(map[string]struct{}),
	}
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Debug("session opened", "session_id", id, "user_id", userID, "sessions", total)
	return id
}

// Subscribe adds the session to groupID's fan-out list. It reports false for
// unknown sessions.
func (m *Manager) Subscribe(id ID, groupID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.groups[groupID] = struct{}{}
	subs, ok := m.groups[groupID]
	if !ok {
		subs = make(map[ID]struct{})
		m.groups[groupID] = subs
	}
	subs[id] = struct{}{}
	return true
}

// Unsubscribe removes the session from groupID's fan-out list.
func (m *Manager) Unsubscribe(id ID, groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		delete(s.groups, groupID)
	}
	m.dropSubscriber(groupID, id)
}

// OnDisconnect forgets the session and removes it from every group. Unknown
// ids are ignored.
func (m *Manager) OnDisconnect(id ID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	for groupID := range s.groups {
		m.dropSubscriber(groupID, id)
	}
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Debug("session closed", "session_id", id, "user_id", s.userID, "groups", len(s.groups), "sessions", total)
}

// caller holds m.mu.
func (m *Manager) dropSubscriber(groupID string, id ID) {
	subs, ok := m.groups[groupID]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(m.groups, groupID)
	}
}

// SubscribersOf returns a snapshot of the sessions following groupID.
func (m *Manager) SubscribersOf(groupID string) []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := m.groups[groupID]
	ids := make([]ID, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Deliver hands payload to the session's sink without blocking.
func (m *Manager) Deliver(id ID, payload []byte) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return s.sink.Send(payload)
}

// GroupsOf returns the groups the session follows, sorted.
func (m *Manager) GroupsOf(id ID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	return groups
}

// UserOf returns the user behind a session.
func (m *Manager) UserOf(id ID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return s.userID, true
}

// Count reports the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
