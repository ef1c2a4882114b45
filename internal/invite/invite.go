// Package invite issues and resolves the short codes that gate private
// groups.
package invite

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/store"
)

const (
	// Alphabet is the set codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength is the number of characters in a code.
	CodeLength = 6
	// DefaultMaxAttempts caps collision retries before giving up.
	DefaultMaxAttempts = 10
)

// Generator draws collision-checked codes and resolves them back to groups.
type Generator struct {
	store       store.Store
	logger      *slog.Logger
	draw        func() (string, error)
	now         func() time.Time
	maxAttempts int

	// mu serializes check-then-insert so two concurrent draws of the same
	// code cannot both be stored as active.
	mu sync.Mutex
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithDraw replaces the random source of codes.
func WithDraw(draw func() (string, error)) Option {
	return func(g *Generator) {
		g.draw = draw
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator returns a Generator persisting codes in s.
func NewGenerator(s store.Store, opts ...Option) *Generator {
	g := &Generator{
		store:       s,
		logger:      slog.Default(),
		draw:        RandomCode,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RandomCode draws CodeLength characters uniformly from Alphabet.
func RandomCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	limit := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("draw invite code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize trims and upper-cases user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the shape of an invite code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(Alphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// Generate issues a new active code for groupID.
func (g *Generator) Generate(ctx context.Context, groupID, creatorID string) (chat.InviteCode, error) {
	if groupID == "" || creatorID == "" {
		return chat.InviteCode{}, chat.Errorf(chat.ErrValidation, "Invite codes need a group and a creator")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return chat.InviteCode{}, err
		}
		active, err := g.active(ctx, code)
		if err != nil {
			return chat.InviteCode{}, err
		}
		if len(active) > 0 {
			g.logger.Warn("invite code collision", "attempt", attempt, "group_id", groupID)
			continue
		}

		inv := chat.InviteCode{
			Code:      code,
			GroupID:   groupID,
			CreatedBy: creatorID,
			CreatedAt: g.now().UTC(),
			IsActive:  true,
		}
		id, err := g.store.Insert(ctx, chat.CollectionInviteCodes, inv)
		if err != nil {
			return chat.InviteCode{}, fmt.Errorf("store invite code: %w", err)
		}
		inv.ID = id
		return inv, nil
	}

	g.logger.Error("invite code generation exhausted", "attempts", g.maxAttempts, "group_id", groupID)
	return chat.InviteCode{}, chat.Errorf(chat.ErrExhausted, "Could not generate a unique invite code, please try again")
}

// Resolve returns the active invite for code.
func (g *Generator) Resolve(ctx context.Context, code string) (chat.InviteCode, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return chat.InviteCode{}, chat.Errorf(chat.ErrNotFound, "Invalid invite code")
	}
	active, err := g.active(ctx, code)
	if err != nil {
		return chat.InviteCode{}, err
	}
	if len(active) == 0 {
		return chat.InviteCode{}, chat.Errorf(chat.ErrNotFound, "Invalid invite code")
	}
	return active[0], nil
}

// RecordUse increments the usage counter of the invite with the given id.
// Callers serialize uses of one group's code.
func (g *Generator) RecordUse(ctx context.Context, inviteID string) error {
	rec, err := g.store.GetByID(ctx, chat.CollectionInviteCodes, inviteID)
	if err != nil {
		return fmt.Errorf("load invite code: %w", err)
	}
	var inv chat.InviteCode
	if err := rec.Decode(&inv); err != nil {
		return err
	}
	if err := g.store.Update(ctx, chat.CollectionInviteCodes, inviteID, store.Fields{"usageCount": inv.UsageCount + 1}); err != nil {
		return fmt.Errorf("record invite use: %w", err)
	}
	return nil
}

// Deactivate retires every active code of groupID.
func (g *Generator) Deactivate(ctx context.Context, groupID string) error {
	recs, err := g.store.QueryByEquality(ctx, chat.CollectionInviteCodes, "groupId", groupID)
	if err != nil {
		return fmt.Errorf("load invite codes: %w", err)
	}
	for _, rec := range recs {
		var inv chat.InviteCode
		if err := rec.Decode(&inv); err != nil {
			return err
		}
		if !inv.IsActive {
			continue
		}
		if err := g.store.Update(ctx, chat.CollectionInviteCodes, rec.ID, store.Fields{"isActive": false}); err != nil {
			return fmt.Errorf("deactivate invite code: %w", err)
		}
	}
	return nil
}

func (g *Generator) active(ctx context.Context, code string) ([]chat.InviteCode, error) {
	recs, err := g.store.QueryByEquality(ctx, chat.CollectionInviteCodes, "code", code)
	if err != nil {
		return nil, fmt.Errorf("look up invite code: %w", err)
	}
	var active []chat.InviteCode
	for _, rec := range recs {
		var inv chat.InviteCode
		if err := rec.Decode(&inv); err != nil {
			return nil, err
		}
		if inv.IsActive {
			inv.ID = rec.ID
			active = append(active, inv)
		}
	}
	return active, nil
}
