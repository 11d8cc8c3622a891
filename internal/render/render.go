// Package render defines the view contract the dispatcher calls after a
// handler runs: given the session's current state, produce HTML
// deterministically.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	"github.com/louisbranch/reflex/internal/session"
)

// Renderer produces the page (or fragment) HTML for a session after a
// handler mutated its state.
type Renderer interface {
	Render(ctx context.Context, view *session.View) (string, error)
}

// Func adapts a plain function to the Renderer interface.
type Func func(ctx context.Context, view *session.View) (string, error)

// Render implements Renderer.
func (f Func) Render(ctx context.Context, view *session.View) (string, error) {
	return f(ctx, view)
}

// Static always renders the same HTML. Used by tests and static pages.
func Static(html string) Renderer {
	return Func(func(context.Context, *session.View) (string, error) {
		return html, nil
	})
}

// Templ adapts a templ component constructor to the Renderer interface so
// views written with templ plug straight into the dispatcher.
func Templ(build func(ctx context.Context, view *session.View) (templ.Component, error)) Renderer {
	return Func(func(ctx context.Context, view *session.View) (string, error) {
		component, err := build(ctx, view)
		if err != nil {
			return "", fmt.Errorf("build view component: %w", err)
		}
		var sb strings.Builder
		if err := component.Render(ctx, &sb); err != nil {
			return "", fmt.Errorf("render view component: %w", err)
		}
		return sb.String(), nil
	})
}
