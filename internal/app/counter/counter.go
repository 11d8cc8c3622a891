// Package counter is the demo reflex application: an anchor whose label and
// data attributes track a per-session counter.
package counter

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/louisbranch/reflex/internal/reflex"
	"github.com/louisbranch/reflex/internal/render"
	"github.com/louisbranch/reflex/internal/session"
)

// HandlerGroup is the counter's reflex group name.
const HandlerGroup = "CounterReflex"

const countKey = "count"

// Register wires the counter handlers into a registry.
func Register(registry *reflex.Registry) {
	registry.MustRegister(HandlerGroup, "increment", increment)
	registry.MustRegister(HandlerGroup, "decrement", decrement)
	registry.MustRegister(HandlerGroup, "reset", reset)
}

// increment adds the element's step to the session counter. The element's
// data-count seeds the counter the first time a session invokes it.
func increment(ctx context.Context, inv *reflex.Invocation) error {
	return adjust(ctx, inv, 1)
}

func decrement(ctx context.Context, inv *reflex.Invocation) error {
	return adjust(ctx, inv, -1)
}

func reset(ctx context.Context, inv *reflex.Invocation) error {
	return inv.Session.Set(ctx, countKey, 0)
}

func adjust(ctx context.Context, inv *reflex.Invocation, direction int) error {
	seed := attrInt(inv, "count", 0)
	count, err := inv.Session.GetInt(ctx, countKey, seed)
	if err != nil {
		return fmt.Errorf("load counter: %w", err)
	}

	step := attrInt(inv, "step", 1)
	count += direction * step

	if err := inv.Session.Set(ctx, countKey, count); err != nil {
		return fmt.Errorf("store counter: %w", err)
	}
	return nil
}

func attrInt(inv *reflex.Invocation, key string, fallback int) int {
	raw := inv.Attr(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Renderer builds the counter page renderer.
func Renderer() render.Renderer {
	return render.Templ(func(ctx context.Context, view *session.View) (templ.Component, error) {
		count, err := view.GetInt(ctx, countKey, 0)
		if err != nil {
			return nil, fmt.Errorf("load counter: %w", err)
		}
		return page(count), nil
	})
}

func page(count int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html><head><title>Counter</title></head><body>`+
				`<h1 id="heading">Reflex counter</h1>`+
				`<a id="counter" href="#" data-count="%d" data-step="1">Increment %d</a>`+
				`</body></html>`,
			count, count,
		)
		return err
	})
}
