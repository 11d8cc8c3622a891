package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Get(ctx, "s1", "count"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "s1", "count", []byte("5")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, "s1", "count")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "5" {
		t.Fatalf("expected 5, got %s", got)
	}

	if err := store.Delete(ctx, "s1", "count"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1", "count"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing key is not an error.
	if err := store.Delete(ctx, "s1", "count"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestMemoryStoreIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, "s1", "count", []byte("1")); err != nil {
		t.Fatalf("set s1: %v", err)
	}
	if err := store.Set(ctx, "s2", "count", []byte("2")); err != nil {
		t.Fatalf("set s2: %v", err)
	}

	got, err := store.Get(ctx, "s1", "count")
	if err != nil {
		t.Fatalf("get s1: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("expected session isolation, got %s", got)
	}

	if _, err := store.Get(ctx, "s3", "count"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestMemoryStoreKeysSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{"zeta", "alpha", "mid"} {
		if err := store.Set(ctx, "s1", key, []byte("x")); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "s1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}

	keys, err = store.Keys(ctx, "unknown")
	if err != nil {
		t.Fatalf("keys unknown session: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	value := []byte("original")
	if err := store.Set(ctx, "s1", "k", value); err != nil {
		t.Fatalf("set: %v", err)
	}
	value[0] = 'X'

	got, err := store.Get(ctx, "s1", "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("expected stored value isolated from caller, got %s", got)
	}
	got[0] = 'Y'

	again, err := store.Get(ctx, "s1", "k")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if string(again) != "original" {
		t.Fatalf("expected returned value isolated from store, got %s", again)
	}
}

func TestViewRequiresStoreAndSession(t *testing.T) {
	if _, err := NewView(nil, "s1"); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewView(NewMemoryStore(), "  "); err == nil {
		t.Fatal("expected error for blank session id")
	}
}

func TestViewEncodesJSON(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	view, err := NewView(store, "s1")
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	if view.SessionID() != "s1" {
		t.Fatalf("expected bound session id, got %q", view.SessionID())
	}

	count, err := view.GetInt(ctx, "count", 7)
	if err != nil {
		t.Fatalf("get int fallback: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected fallback for missing key, got %d", count)
	}

	if err := view.Set(ctx, "count", 12); err != nil {
		t.Fatalf("set: %v", err)
	}
	count, err = view.GetInt(ctx, "count", 0)
	if err != nil {
		t.Fatalf("get int: %v", err)
	}
	if count != 12 {
		t.Fatalf("expected 12, got %d", count)
	}

	name, err := view.GetString(ctx, "name", "anonymous")
	if err != nil {
		t.Fatalf("get string fallback: %v", err)
	}
	if name != "anonymous" {
		t.Fatalf("expected fallback, got %q", name)
	}
	if err := view.Set(ctx, "name", "ada"); err != nil {
		t.Fatalf("set string: %v", err)
	}
	name, err = view.GetString(ctx, "name", "")
	if err != nil {
		t.Fatalf("get string: %v", err)
	}
	if name != "ada" {
		t.Fatalf("expected ada, got %q", name)
	}

	if err := view.Delete(ctx, "count"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := view.Get(ctx, "count", &count); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestViewGetDecodeMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	view, err := NewView(store, "s1")
	if err != nil {
		t.Fatalf("new view: %v", err)
	}

	if err := view.Set(ctx, "name", "ada"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := view.GetInt(ctx, "name", 0); err == nil {
		t.Fatal("expected decode error for type mismatch")
	}
}
