// Package storetest is a conformance suite shared by every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/groupchat/internal/store"
)

// Indexes declares the fields the suite queries, for backends that index
// only what they are told to.
var Indexes = store.Indexes{
	"widgets": {"kind", "active"},
	"gadgets": {"kind"},
}

type widget struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Active    bool      `json:"active"`
	Tags      []string  `json:"tags"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}

// Run exercises open() against the store contract. open must return an
// empty store; it is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("insert assigns id and round trips", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		created := time.Date(2025, 3, 1, 12, 30, 0, 123000000, time.UTC)

		id, err := s.Insert(ctx, "widgets", widget{Name: "gear", Kind: "metal", Active: true, Tags: []string{"a"}, CreatedAt: created})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if id == "" {
			t.Fatal("expected generated id")
		}

		rec, err := s.GetByID(ctx, "widgets", id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var got widget
		if err := rec.Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != id || got.Name != "gear" || !got.Active || !got.CreatedAt.Equal(created) {
			t.Errorf("unexpected round trip: %+v", got)
		}
	})

	t.Run("insert keeps caller id", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		id, err := s.Insert(ctx, "widgets", widget{ID: "w-1", Name: "bolt"})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if id != "w-1" {
			t.Fatalf("expected caller id, got %q", id)
		}
		if _, err := s.Insert(ctx, "widgets", widget{ID: "w-1", Name: "dup"}); err == nil {
			t.Error("expected duplicate id to fail")
		}
	})

	t.Run("get missing is not found", func(t *testing.T) {
		s := open(t)
		if _, err := s.GetByID(context.Background(), "widgets", "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		id, err := s.Insert(ctx, "widgets", widget{Name: "gear", Kind: "metal"})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := s.GetByID(ctx, "gadgets", id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound across collections, got %v", err)
		}
		recs, err := s.QueryByEquality(ctx, "gadgets", "kind", "metal")
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected no results in other collection, got %d", len(recs))
		}
	})

	t.Run("query by string and bool", func(t *testing.T) {
		s := open(t)

		mustInsert(t, s, widget{Name: "a", Kind: "metal", Active: true})
		mustInsert(t, s, widget{Name: "b", Kind: "metal", Active: false})
		mustInsert(t, s, widget{Name: "c", Kind: "wood", Active: true})

		assertNames(t, query(t, s, "kind", "metal"), "a", "b")
		assertNames(t, query(t, s, "active", true), "a", "c")
		assertNames(t, query(t, s, "kind", "glass"))
	})

	t.Run("update merges and is visible to queries", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		id := mustInsert(t, s, widget{Name: "a", Kind: "metal", Active: true, Tags: []string{"x"}, Count: 1})
		if err := s.Update(ctx, "widgets", id, store.Fields{"kind": "wood", "tags": []string{"x", "y"}, "count": 2}); err != nil {
			t.Fatalf("update: %v", err)
		}

		rec, err := s.GetByID(ctx, "widgets", id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var got widget
		if err := rec.Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Name != "a" || got.Kind != "wood" || got.Count != 2 || !slices.Equal(got.Tags, []string{"x", "y"}) || !got.Active {
			t.Errorf("unexpected merged document: %+v", got)
		}

		assertNames(t, query(t, s, "kind", "metal"))
		assertNames(t, query(t, s, "kind", "wood"), "a")
	})

	t.Run("update missing is not found", func(t *testing.T) {
		s := open(t)
		err := s.Update(context.Background(), "widgets", "nope", store.Fields{"kind": "wood"})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update rejects id", func(t *testing.T) {
		s := open(t)
		id := mustInsert(t, s, widget{Name: "a"})
		if err := s.Update(context.Background(), "widgets", id, store.Fields{"id": "other"}); err == nil {
			t.Error("expected id update to fail")
		}
	})

	t.Run("concurrent inserts", func(t *testing.T) {
		s := open(t)
		const n = 20

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := s.Insert(context.Background(), "widgets", widget{Name: fmt.Sprintf("w%d", i), Kind: "bulk"}); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("insert: %v", err)
		}

		if got := len(query(t, s, "kind", "bulk")); got != n {
			t.Errorf("expected %d documents, got %d", n, got)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("ping: %v", err)
		}
	})
}

func mustInsert(t *testing.T, s store.Store, w widget) string {
	t.Helper()
	id, err := s.Insert(context.Background(), "widgets", w)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func query(t *testing.T, s store.Store, field string, value any) []widget {
	t.Helper()
	recs, err := s.QueryByEquality(context.Background(), "widgets", field, value)
	if err != nil {
		t.Fatalf("query %s=%v: %v", field, value, err)
	}
	out := make([]widget, 0, len(recs))
	for _, rec := range recs {
		var w widget
		if err := rec.Decode(&w); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if w.ID != rec.ID {
			t.Errorf("record id %q does not match body id %q", rec.ID, w.ID)
		}
		out = append(out, w)
	}
	return out
}

func assertNames(t *testing.T, got []widget, want ...string) {
	t.Helper()
	names := make([]string, 0, len(got))
	for _, w := range got {
		names = append(names, w.Name)
	}
	slices.Sort(names)
	slices.Sort(want)
	if !slices.Equal(names, want) {
		t.Errorf("got names %v want %v", names, want)
	}
}
