package mcp

import "fmt"

// ErrorKind classifies a failed step. The values are stable strings that
// appear in API responses and metrics labels.
type ErrorKind string

// Error kinds.
const (
	// KindRetrievalUnavailable marks a retrieval failure. The orchestrator
	// reports it as an advisory; it never appears on a tool result.
	KindRetrievalUnavailable ErrorKind = "RetrievalUnavailable"

	// KindUnreachable means every attempt failed at the transport level.
	KindUnreachable ErrorKind = "Unreachable"

	// KindApplicationError means the tool answered with an HTTP error
	// status or an error envelope.
	KindApplicationError ErrorKind = "ApplicationError"

	// KindProtocolViolation means the tool answered with a body that is
	// not a valid response envelope.
	KindProtocolViolation ErrorKind = "ProtocolViolation"

	// KindUnconfiguredTool means the plan named a tool that has no
	// registry entry.
	KindUnconfiguredTool ErrorKind = "UnconfiguredTool"

	// KindDeadlineExceeded means the caller's deadline passed before the
	// step could complete.
	KindDeadlineExceeded ErrorKind = "DeadlineExceeded"
)

// Retryable reports whether a failure of this kind could succeed if the
// whole invocation were repeated later.
func (k ErrorKind) Retryable() bool {
	return k == KindUnreachable || k == KindDeadlineExceeded
}

// InvokeError is the error form of a failed [Result].
type InvokeError struct {
	Kind    ErrorKind
	Tool    string
	Message string
}

// Error implements the error interface.
func (e *InvokeError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Message)
}

// Is matches another *InvokeError with the same Kind, so callers can
// write errors.Is(err, &mcp.InvokeError{Kind: mcp.KindUnreachable}).
func (e *InvokeError) Is(target error) bool {
	t, ok := target.(*InvokeError)
	return ok && t.Kind == e.Kind
}
