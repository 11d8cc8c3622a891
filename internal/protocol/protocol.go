// Package protocol defines the wire frames exchanged between the invocation
// client and the reflex server over a channel.
//
// Frames are JSON envelopes with a type discriminator and a raw payload so
// transports stay agnostic of invocation semantics.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	rferrors "github.com/louisbranch/reflex/internal/errors"
)

// Frame types carried on the channel.
const (
	FrameInvoke = "reflex.invoke"
	FrameResult = "reflex.result"
	FrameError  = "reflex.error"
)

// Limits enforced per connection by channel servers.
const (
	MaxFramePayloadBytes   = 16 * 1024
	MaxFramesPerSecond     = 40
	MaxDecodeErrorsPerConn = 3
)

// Frame is the channel envelope for every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// InvokePayload is an invocation request built by the client.
type InvokePayload struct {
	// Target names the handler as "<HandlerGroup>#<action>".
	Target string `json:"target"`
	// Args are ordered positional arguments.
	Args []any `json:"args,omitempty"`
	// Attrs is the triggering element's dataset snapshot at fire time.
	Attrs map[string]string `json:"attrs,omitempty"`
	// Selector optionally restricts the morph to an element id.
	Selector string `json:"selector,omitempty"`
}

// ResultPayload carries a successful invocation outcome.
type ResultPayload struct {
	Status   string `json:"status"`
	HTML     string `json:"html"`
	Selector string `json:"selector,omitempty"`
}

// StatusOK is the only success status.
const StatusOK = "ok"

// ErrorPayload carries a failed invocation outcome.
type ErrorPayload struct {
	Code      rferrors.Code  `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// Target is a parsed "<HandlerGroup>#<action>" pair.
type Target struct {
	Group  string
	Action string
}

// String formats the target back to its wire form.
func (t Target) String() string {
	return t.Group + "#" + t.Action
}

// ParseTarget splits and validates a handler target. The name must contain
// exactly one separator with non-empty halves.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target is required")
	}
	group, action, found := strings.Cut(raw, "#")
	if !found {
		return Target{}, fmt.Errorf("target %q must be <HandlerGroup>#<action>", raw)
	}
	group = strings.TrimSpace(group)
	action = strings.TrimSpace(action)
	if group == "" || action == "" {
		return Target{}, fmt.Errorf("target %q must have a non-empty group and action", raw)
	}
	if strings.Contains(action, "#") {
		return Target{}, fmt.Errorf("target %q must contain exactly one separator", raw)
	}
	return Target{Group: group, Action: action}, nil
}

// DecodePayload deserializes a frame payload into the given target.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is empty")
	}
	return json.Unmarshal(raw, v)
}

// MustJSON marshals a frame payload, returning nil on failure. Payload types
// in this package cannot fail to marshal; a nil result signals a programming
// error upstream.
func MustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// InvokeFrame builds a reflex.invoke frame.
func InvokeFrame(requestID string, payload InvokePayload) Frame {
	return Frame{Type: FrameInvoke, RequestID: requestID, Payload: MustJSON(payload)}
}

// ResultFrame builds a reflex.result frame echoing the request id.
func ResultFrame(requestID string, payload ResultPayload) Frame {
	return Frame{Type: FrameResult, RequestID: requestID, Payload: MustJSON(payload)}
}

// ErrorFrame builds a reflex.error frame echoing the request id.
func ErrorFrame(requestID string, code rferrors.Code, message string) Frame {
	return Frame{Type: FrameError, RequestID: requestID, Payload: MustJSON(ErrorPayload{
		Code:      code,
		Message:   message,
		Retryable: code.Retryable(),
	})}
}
