package counter

import (
	"context"
	"strings"
	"testing"

	"github.com/louisbranch/reflex/internal/protocol"
	"github.com/louisbranch/reflex/internal/reflex"
	"github.com/louisbranch/reflex/internal/session"
)

func newInvocation(t *testing.T, store session.Store, sessionID string, attrs map[string]string) *reflex.Invocation {
	t.Helper()
	view, err := session.NewView(store, sessionID)
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	return &reflex.Invocation{
		Target:  protocol.Target{Group: HandlerGroup, Action: "increment"},
		Attrs:   attrs,
		Session: view,
	}
}

func sessionCount(t *testing.T, store session.Store, sessionID string) int {
	t.Helper()
	view, err := session.NewView(store, sessionID)
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	count, err := view.GetInt(context.Background(), countKey, -1)
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	return count
}

func TestIncrementSeedsFromElementAttribute(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	inv := newInvocation(t, store, "s1", map[string]string{"count": "5", "step": "1"})
	if err := increment(ctx, inv); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got := sessionCount(t, store, "s1"); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}

	// Once the session holds a count the attribute seed is ignored.
	inv = newInvocation(t, store, "s1", map[string]string{"count": "100", "step": "1"})
	if err := increment(ctx, inv); err != nil {
		t.Fatalf("increment again: %v", err)
	}
	if got := sessionCount(t, store, "s1"); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestIncrementUsesStep(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	inv := newInvocation(t, store, "s1", map[string]string{"step": "10"})
	if err := increment(ctx, inv); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got := sessionCount(t, store, "s1"); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestIncrementDefaultsWithoutAttributes(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	inv := newInvocation(t, store, "s1", nil)
	if err := increment(ctx, inv); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got := sessionCount(t, store, "s1"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}

	// Unparsable attributes fall back to defaults.
	inv = newInvocation(t, store, "s2", map[string]string{"count": "NaN", "step": "zero"})
	if err := increment(ctx, inv); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got := sessionCount(t, store, "s2"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestDecrementAndReset(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	inv := newInvocation(t, store, "s1", map[string]string{"count": "5"})
	if err := decrement(ctx, inv); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if got := sessionCount(t, store, "s1"); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}

	if err := reset(ctx, inv); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := sessionCount(t, store, "s1"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestRegisterWiresAllActions(t *testing.T) {
	registry := reflex.NewRegistry()
	Register(registry)

	for _, action := range []string{"increment", "decrement", "reset"} {
		if _, ok := registry.Lookup(protocol.Target{Group: HandlerGroup, Action: action}); !ok {
			t.Fatalf("expected %s#%s to be registered", HandlerGroup, action)
		}
	}
}

func TestRendererReflectsSessionState(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	view, err := session.NewView(store, "s1")
	if err != nil {
		t.Fatalf("new view: %v", err)
	}

	html, err := Renderer().Render(ctx, view)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "Increment 0") {
		t.Fatalf("expected fresh counter page, got %s", html)
	}
	if !strings.Contains(html, `data-count="0"`) {
		t.Fatalf("expected data-count attribute, got %s", html)
	}

	if err := view.Set(ctx, countKey, 6); err != nil {
		t.Fatalf("set: %v", err)
	}
	html, err = Renderer().Render(ctx, view)
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if !strings.Contains(html, "Increment 6") {
		t.Fatalf("expected updated label, got %s", html)
	}
}
