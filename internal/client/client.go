// Package client implements the invocation side of the reflex protocol: it
// turns DOM events into invocation requests, sequences responses, and applies
// successful results to the live document through the reconciler.
package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/louisbranch/reflex/internal/channel"
	"github.com/louisbranch/reflex/internal/dom"
	rferrors "github.com/louisbranch/reflex/internal/errors"
	"github.com/louisbranch/reflex/internal/morph"
	"github.com/louisbranch/reflex/internal/protocol"
)

// ErrConnectionUnavailable indicates no channel is connected. The same
// failure is also emitted on the error event stream since callers usually
// observe invocation outcomes asynchronously.
var ErrConnectionUnavailable = errors.New("channel connection is unavailable")

// ErrUnknownElement indicates the referenced element is not in the document.
var ErrUnknownElement = errors.New("element not found in document")

const eventBuffer = 16

// ErrorEvent surfaces a failed invocation to the host application.
type ErrorEvent struct {
	Code      rferrors.Code
	Message   string
	Target    string
	RequestID string
}

// UpdateEvent reports a response applied to the document.
type UpdateEvent struct {
	RequestID string
	Stats     morph.Stats
}

// FireResult reports what one fired event produced.
type FireResult struct {
	RequestIDs       []string
	DefaultPrevented bool
}

// Binding is a declarative event-to-handler registration on one element.
type Binding struct {
	Event  string
	Target protocol.Target
	// Selector optionally restricts the morph to an element id. Empty means
	// the whole document is reconciled.
	Selector string
	// PreventDefault records whether the client suppresses the event's
	// default browser action. The decision is explicit per binding rather
	// than left to caller discipline.
	PreventDefault bool
}

type pendingRequest struct {
	scope  string
	id     uint64
	target string
}

// Client owns the in-flight request lifecycle for one document. Responses
// are applied only when no newer request for the same scope is outstanding;
// late responses are discarded as routine flow control.
type Client struct {
	doc *dom.Document

	mu       sync.Mutex
	ch       channel.Channel
	gen      uint64
	nextID   uint64
	latest   map[string]uint64
	pending  map[string]pendingRequest
	bindings map[string][]Binding

	errs    chan ErrorEvent
	updates chan UpdateEvent
}

// New creates a client for a document. Connect attaches the channel.
func New(doc *dom.Document) *Client {
	return &Client{
		doc:      doc,
		latest:   make(map[string]uint64),
		pending:  make(map[string]pendingRequest),
		bindings: make(map[string][]Binding),
		errs:     make(chan ErrorEvent, eventBuffer),
		updates:  make(chan UpdateEvent, eventBuffer),
	}
}

// Connect attaches a channel and starts consuming its responses. Attaching a
// new channel supersedes the previous one: its receive loop exits and frames
// it had not yet delivered are not applied.
func (c *Client) Connect(ch channel.Channel) {
	c.mu.Lock()
	c.ch = ch
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if ch == nil {
		return
	}
	go c.receiveLoop(ch, gen)
}

// currentGen reports whether a receive loop still serves the attached
// channel.
func (c *Client) currentGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// Document returns the live document the client mutates.
func (c *Client) Document() *dom.Document {
	return c.doc
}

// Errors exposes the observable error stream. Stale responses never appear
// here. The stream holds up to eventBuffer events; when the consumer falls
// behind, further events are dropped rather than blocking invocation flow.
func (c *Client) Errors() <-chan ErrorEvent {
	return c.errs
}

// Updates reports responses applied to the document. Like Errors, the stream
// is bounded and drops events once the consumer falls behind; the document
// itself is always current regardless.
func (c *Client) Updates() <-chan UpdateEvent {
	return c.updates
}

// ParseBinding parses the declarative "<event>-><Group>#<action>" grammar.
func ParseBinding(spec string) (Binding, error) {
	spec = strings.TrimSpace(spec)
	event, rawTarget, found := strings.Cut(spec, "->")
	if !found {
		return Binding{}, fmt.Errorf("binding %q must be <event>-><HandlerGroup>#<action>", spec)
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return Binding{}, fmt.Errorf("binding %q has an empty event", spec)
	}
	target, err := protocol.ParseTarget(rawTarget)
	if err != nil {
		return Binding{}, fmt.Errorf("binding %q: %w", spec, err)
	}
	return Binding{Event: event, Target: target}, nil
}

// BindOption adjusts a parsed binding before registration.
type BindOption func(*Binding)

// WithPreventDefault makes the client suppress the event's default action.
func WithPreventDefault() BindOption {
	return func(b *Binding) { b.PreventDefault = true }
}

// WithSelector restricts the binding's morph to the element with this id.
func WithSelector(id string) BindOption {
	return func(b *Binding) { b.Selector = strings.TrimSpace(id) }
}

// Bind registers a declarative binding on the element with the given id.
// The binding is validated now; attribute values are read when the event
// fires, not here.
func (c *Client) Bind(elementID, spec string, opts ...BindOption) error {
	elementID = strings.TrimSpace(elementID)
	if elementID == "" {
		return fmt.Errorf("element id is required")
	}
	if c.doc.ElementByID(elementID) == nil {
		return fmt.Errorf("bind %q: %w", elementID, ErrUnknownElement)
	}

	binding, err := ParseBinding(spec)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(&binding)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[elementID] = append(c.bindings[elementID], binding)
	return nil
}

// Unbind removes all bindings for an element, e.g. when it leaves the
// document.
func (c *Client) Unbind(elementID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, strings.TrimSpace(elementID))
}

// Bindings returns the registered bindings for an element.
func (c *Client) Bindings(elementID string) []Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Binding, len(c.bindings[elementID]))
	copy(out, c.bindings[elementID])
	return out
}

// FireEvent dispatches all bindings registered for the event on the element.
// The element's data attributes are snapshotted at this moment, so values
// mutated after binding are what the server sees.
func (c *Client) FireEvent(elementID, event string) (FireResult, error) {
	element := c.doc.ElementByID(elementID)
	if element == nil {
		return FireResult{}, fmt.Errorf("fire %q: %w", elementID, ErrUnknownElement)
	}

	c.mu.Lock()
	var matched []Binding
	for _, binding := range c.bindings[elementID] {
		if binding.Event == event {
			matched = append(matched, binding)
		}
	}
	c.mu.Unlock()

	var result FireResult
	var firstErr error
	for _, binding := range matched {
		if binding.PreventDefault {
			result.DefaultPrevented = true
		}
		requestID, err := c.send(binding.Target, elementID, binding.Selector, dom.Dataset(element), nil)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.RequestIDs = append(result.RequestIDs, requestID)
	}
	return result, firstErr
}

// Stimulate invokes a handler explicitly, bypassing declarative bindings.
// When elementID is non-empty the element's attributes are snapshotted and
// the element becomes the request's ordering scope.
func (c *Client) Stimulate(target, elementID string, args ...any) (string, error) {
	parsed, err := protocol.ParseTarget(target)
	if err != nil {
		return "", err
	}

	var attrs map[string]string
	scope := ""
	if elementID = strings.TrimSpace(elementID); elementID != "" {
		element := c.doc.ElementByID(elementID)
		if element == nil {
			return "", fmt.Errorf("stimulate %q: %w", elementID, ErrUnknownElement)
		}
		attrs = dom.Dataset(element)
		scope = elementID
	}
	return c.send(parsed, scope, "", attrs, args)
}

func (c *Client) send(target protocol.Target, scope, selector string, attrs map[string]string, args []any) (string, error) {
	c.mu.Lock()
	ch := c.ch
	if ch == nil {
		c.mu.Unlock()
		c.emitError(ErrorEvent{
			Code:    rferrors.CodeConnectionUnavailable,
			Message: ErrConnectionUnavailable.Error(),
			Target:  target.String(),
		})
		return "", ErrConnectionUnavailable
	}

	if scope == "" {
		scope = "target:" + target.String()
	}
	c.nextID++
	id := c.nextID
	requestID := strconv.FormatUint(id, 10)
	prev, hadPrev := c.latest[scope]
	c.latest[scope] = id
	c.pending[requestID] = pendingRequest{scope: scope, id: id, target: target.String()}
	c.mu.Unlock()

	frame := protocol.InvokeFrame(requestID, protocol.InvokePayload{
		Target:   target.String(),
		Args:     args,
		Attrs:    attrs,
		Selector: selector,
	})
	if err := ch.Send(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		// A request that never went out must not supersede an earlier one
		// still in flight for the same scope.
		if c.latest[scope] == id {
			if hadPrev {
				c.latest[scope] = prev
			} else {
				delete(c.latest, scope)
			}
		}
		c.mu.Unlock()
		c.emitError(ErrorEvent{
			Code:      rferrors.CodeConnectionUnavailable,
			Message:   err.Error(),
			Target:    target.String(),
			RequestID: requestID,
		})
		return "", ErrConnectionUnavailable
	}
	return requestID, nil
}

func (c *Client) receiveLoop(ch channel.Channel, gen uint64) {
	for {
		frame, err := ch.Receive()
		if err != nil {
			return
		}
		if !c.currentGen(gen) {
			return
		}
		c.handleFrame(frame)
	}
}

// HandleFrame applies one response frame. Exposed for hosts that drive the
// channel themselves instead of using Connect's receive loop.
func (c *Client) HandleFrame(frame protocol.Frame) {
	c.handleFrame(frame)
}

func (c *Client) handleFrame(frame protocol.Frame) {
	switch frame.Type {
	case protocol.FrameResult:
		c.handleResult(frame)
	case protocol.FrameError:
		c.handleError(frame)
	}
}

// resolvePending reports whether the response is current for its scope.
// Superseded responses are dropped without any user-visible signal.
func (c *Client) resolvePending(requestID string) (pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, ok := c.pending[requestID]
	if !ok {
		return pendingRequest{}, false
	}
	delete(c.pending, requestID)
	if c.latest[pending.scope] != pending.id {
		return pending, false
	}
	return pending, true
}

func (c *Client) handleResult(frame protocol.Frame) {
	pending, current := c.resolvePending(frame.RequestID)
	if !current {
		return
	}

	var payload protocol.ResultPayload
	if err := protocol.DecodePayload(frame.Payload, &payload); err != nil {
		c.emitError(ErrorEvent{
			Code:      rferrors.CodeInvalidArgument,
			Message:   fmt.Sprintf("decode result payload: %v", err),
			Target:    pending.target,
			RequestID: frame.RequestID,
		})
		return
	}

	stats, err := c.apply(payload)
	if err != nil {
		c.emitError(ErrorEvent{
			Code:      rferrors.CodeInvalidArgument,
			Message:   err.Error(),
			Target:    pending.target,
			RequestID: frame.RequestID,
		})
		return
	}

	select {
	case c.updates <- UpdateEvent{RequestID: frame.RequestID, Stats: stats}:
	default:
	}
}

func (c *Client) handleError(frame protocol.Frame) {
	pending, current := c.resolvePending(frame.RequestID)
	if !current {
		return
	}

	var payload protocol.ErrorPayload
	if err := protocol.DecodePayload(frame.Payload, &payload); err != nil {
		payload = protocol.ErrorPayload{Code: rferrors.CodeUnknown, Message: "undecodable error payload"}
	}
	c.emitError(ErrorEvent{
		Code:      payload.Code,
		Message:   payload.Message,
		Target:    pending.target,
		RequestID: frame.RequestID,
	})
}

// apply reconciles the live document against the rendered response.
func (c *Client) apply(payload protocol.ResultPayload) (morph.Stats, error) {
	if payload.Selector != "" {
		live := c.doc.ElementByID(payload.Selector)
		if live == nil {
			return morph.Stats{}, fmt.Errorf("selector %q: %w", payload.Selector, ErrUnknownElement)
		}
		next, err := fragmentElement(payload.HTML, payload.Selector)
		if err != nil {
			return morph.Stats{}, err
		}
		return morph.Morph(live, next), nil
	}

	next, err := dom.Parse(payload.HTML)
	if err != nil {
		return morph.Stats{}, err
	}
	return morph.Morph(c.doc.Root(), next.Root()), nil
}

// fragmentElement locates the element carrying the selector id inside the
// rendered fragment, falling back to a single top-level element.
func fragmentElement(src, id string) (*html.Node, error) {
	nodes, err := dom.ParseFragment(src)
	if err != nil {
		return nil, err
	}
	var elements []*html.Node
	for _, node := range nodes {
		if node.Type == html.ElementNode {
			elements = append(elements, node)
		}
	}
	for _, node := range elements {
		if found := dom.FindByID(node, id); found != nil {
			return found, nil
		}
	}
	if len(elements) == 1 {
		// Fragments often omit the id they replace; keep it so the element
		// stays addressable after the morph.
		dom.SetAttr(elements[0], "id", id)
		return elements[0], nil
	}
	return nil, fmt.Errorf("fragment does not contain element %q", id)
}

func (c *Client) emitError(event ErrorEvent) {
	if !event.Code.UserVisible() {
		return
	}
	select {
	case c.errs <- event:
	default:
	}
}
