package reflex

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	rferrors "github.com/louisbranch/reflex/internal/errors"
	"github.com/louisbranch/reflex/internal/protocol"
	"github.com/louisbranch/reflex/internal/render"
	"github.com/louisbranch/reflex/internal/session"
)

// Dispatcher resolves invocation requests against a registry, executes the
// handler with session-scoped state, and renders the response.
//
// The dispatcher itself holds no per-session state; invocations from
// different sessions may run concurrently as long as the store is safe for
// concurrent use.
type Dispatcher struct {
	registry *Registry
	store    session.Store
	renderer render.Renderer
	tracer   trace.Tracer
}

// NewDispatcher wires a registry, a session store, and a renderer.
func NewDispatcher(registry *Registry, store session.Store, renderer render.Renderer) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		renderer: renderer,
		tracer:   otel.Tracer("reflex/dispatcher"),
	}, nil
}

// Dispatch executes one invocation request and returns the response frame.
// Faults raised by handlers become error frames; the dispatcher never
// propagates a panic to its caller.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, requestID string, req protocol.InvokePayload) protocol.Frame {
	ctx, span := d.tracer.Start(ctx, "reflex.dispatch",
		trace.WithAttributes(
			attribute.String("reflex.target", req.Target),
			attribute.String("reflex.session_id", sessionID),
		),
	)
	defer span.End()

	target, err := protocol.ParseTarget(req.Target)
	if err != nil {
		span.RecordError(err)
		return protocol.ErrorFrame(requestID, rferrors.CodeInvalidTarget, err.Error())
	}

	handler, ok := d.registry.Lookup(target)
	if !ok {
		return protocol.ErrorFrame(requestID, rferrors.CodeNotFound,
			fmt.Sprintf("no handler registered for %q", target.String()))
	}

	view, err := session.NewView(d.store, sessionID)
	if err != nil {
		span.RecordError(err)
		return protocol.ErrorFrame(requestID, rferrors.CodeUnavailable, err.Error())
	}

	inv := &Invocation{
		Target:  target,
		Args:    req.Args,
		Attrs:   req.Attrs,
		Session: view,
	}

	if fault := runHandler(ctx, handler, inv); fault != nil {
		span.RecordError(fault.err)
		return protocol.Frame{
			Type:      protocol.FrameError,
			RequestID: requestID,
			Payload: protocol.MustJSON(protocol.ErrorPayload{
				Code:      rferrors.CodeHandlerFault,
				Message:   fault.err.Error(),
				Retryable: false,
				Details: map[string]any{
					"kind":   fault.kind,
					"target": target.String(),
				},
			}),
		}
	}

	html, err := d.renderer.Render(ctx, view)
	if err != nil {
		span.RecordError(err)
		return protocol.ErrorFrame(requestID, rferrors.CodeRenderFailure,
			fmt.Sprintf("render after %s: %v", target.String(), err))
	}

	return protocol.ResultFrame(requestID, protocol.ResultPayload{
		Status:   protocol.StatusOK,
		HTML:     html,
		Selector: req.Selector,
	})
}

type handlerFault struct {
	err  error
	kind string
}

// runHandler executes the handler, converting panics into faults so one bad
// handler cannot take the dispatch loop down.
func runHandler(ctx context.Context, handler HandlerFunc, inv *Invocation) (fault *handlerFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &handlerFault{
				err:  fmt.Errorf("handler panic: %v", r),
				kind: "panic",
			}
		}
	}()

	if err := handler(ctx, inv); err != nil {
		return &handlerFault{err: err, kind: "error"}
	}
	return nil
}
