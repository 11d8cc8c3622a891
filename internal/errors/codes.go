// Package errors provides the machine-readable error taxonomy shared by the
// dispatcher, the channel transports, and the invocation client.
package errors

// Code is a machine-readable error code carried on the wire.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Client-side errors
	CodeConnectionUnavailable Code = "CONNECTION_UNAVAILABLE"
	CodeStaleResponse         Code = "STALE_RESPONSE"
	CodeInvalidBinding        Code = "INVALID_BINDING"

	// Dispatch errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeInvalidTarget Code = "INVALID_TARGET"
	CodeHandlerFault  Code = "HANDLER_FAULT"
	CodeRenderFailure Code = "RENDER_FAILURE"

	// Transport errors
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeUnavailable       Code = "UNAVAILABLE"
)

// Retryable reports whether a caller may reasonably retry the invocation
// that produced this code without changing it first.
func (c Code) Retryable() bool {
	switch c {
	case CodeConnectionUnavailable, CodeUnavailable, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// UserVisible reports whether the code should reach application error
// handling. Stale responses are routine flow control and stay internal.
func (c Code) UserVisible() bool {
	return c != CodeStaleResponse
}
