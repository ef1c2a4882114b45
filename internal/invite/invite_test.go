package invite

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/store/memory"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// sequence returns a draw func cycling through codes.
func sequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := RandomCode()
		if err != nil {
			t.Fatal(err)
		}
		if !codePattern.MatchString(code) {
			t.Fatalf("code %q does not match %s", code, codePattern)
		}
	}
}

func TestValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABC123", true},
		{"ZZZZZZ", true},
		{"abc123", false},
		{"ABC12", false},
		{"ABC1234", false},
		{"ABC-12", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidCode(tt.code); got != tt.want {
			t.Errorf("ValidCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestGenerateAndResolve(t *testing.T) {
	ctx := context.Background()
	g := NewGenerator(memory.New())

	inv, err := g.Generate(ctx, "group-1", "alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !codePattern.MatchString(inv.Code) || !inv.IsActive || inv.ID == "" {
		t.Fatalf("unexpected invite %+v", inv)
	}

	got, err := g.Resolve(ctx, "  "+strings.ToLower(inv.Code)+" ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.GroupID != "group-1" || got.ID != inv.ID {
		t.Errorf("resolved %+v, want group-1/%s", got, inv.ID)
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	g := NewGenerator(s, WithDraw(sequence("AAAAAA", "AAAAAA", "BBBBBB")))

	first, err := g.Generate(ctx, "g1", "alice")
	if err != nil || first.Code != "AAAAAA" {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := g.Generate(ctx, "g2", "alice")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Code != "BBBBBB" {
		t.Errorf("second code = %s, want BBBBBB", second.Code)
	}
}

func TestGenerateExhausted(t *testing.T) {
	ctx := context.Background()
	calls := 0
	draw := func() (string, error) {
		calls++
		return "AAAAAA", nil
	}
	g := NewGenerator(memory.New(), WithDraw(draw))

	if _, err := g.Generate(ctx, "g1", "alice"); err != nil {
		t.Fatal(err)
	}
	calls = 0
	_, err := g.Generate(ctx, "g2", "alice")
	if !errors.Is(err, chat.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("draws = %d, want %d", calls, DefaultMaxAttempts)
	}
}

func TestGenerateRequiresGroupAndCreator(t *testing.T) {
	g := NewGenerator(memory.New())
	if _, err := g.Generate(context.Background(), "", "alice"); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("missing group: err = %v", err)
	}
	if _, err := g.Generate(context.Background(), "g1", ""); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("missing creator: err = %v", err)
	}
}

func TestConcurrentGenerateNeverDuplicatesActiveCode(t *testing.T) {
	ctx := context.Background()
	g := NewGenerator(memory.New(), WithDraw(sequence("AAAAAA", "BBBBBB", "CCCCCC", "DDDDDD")))

	const n = 4
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := g.Generate(ctx, "g", "alice")
			if err != nil {
				t.Error(err)
				return
			}
			codes <- inv.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		if seen[c] {
			t.Fatalf("code %s issued twice", c)
		}
		seen[c] = true
	}
	if len(seen) != n {
		t.Errorf("got %d codes, want %d", len(seen), n)
	}
}

func TestResolveUnknownAndMalformed(t *testing.T) {
	g := NewGenerator(memory.New())
	for _, code := range []string{"ZZZZZZ", "bad", ""} {
		if _, err := g.Resolve(context.Background(), code); !errors.Is(err, chat.ErrNotFound) {
			t.Errorf("Resolve(%q) err = %v, want ErrNotFound", code, err)
		}
	}
}

func TestDeactivateAndRecordUse(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	g := NewGenerator(s)

	inv, err := g.Generate(ctx, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := g.RecordUse(ctx, inv.ID); err != nil {
			t.Fatal(err)
		}
	}
	rec, err := s.GetByID(ctx, chat.CollectionInviteCodes, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	var stored chat.InviteCode
	if err := rec.Decode(&stored); err != nil {
		t.Fatal(err)
	}
	if stored.UsageCount != 3 {
		t.Errorf("usageCount = %d, want 3", stored.UsageCount)
	}

	if err := g.Deactivate(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Resolve(ctx, inv.Code); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("deactivated code resolved: err = %v", err)
	}

	// The code space is free again once the old one is inactive.
	g2 := NewGenerator(s, WithDraw(sequence(inv.Code)))
	again, err := g2.Generate(ctx, "g2", "bob")
	if err != nil {
		t.Fatalf("reissue inactive code: %v", err)
	}
	if again.Code != inv.Code {
		t.Errorf("code = %s, want %s", again.Code, inv.Code)
	}
}
