// Package interfaces defines the shared structures passed between the
// upstream client, the fallback orchestrator, and the API handlers.
package interfaces

import (
	"time"
)

// ErrorKind classifies an upstream or pipeline failure. The fallback
// orchestrator branches on the kind; the handlers map it to an HTTP status
// and dialect-specific error body.
type ErrorKind int

const (
	// KindNone marks the zero ErrorMessage.
	KindNone ErrorKind = iota

	// KindAuthRequired means no usable accounts remain or a refresh token
	// was revoked. Non-retryable; maps to 401.
	KindAuthRequired

	// KindRateLimited is an upstream 429. Retryable via fallback.
	KindRateLimited

	// KindCapacity is an upstream 503 or 529. Retryable via fallback; the
	// stored retry-after is floored at 45 seconds.
	KindCapacity

	// KindIAMDenied is the 403 "generateChat" permission failure.
	// Non-retryable; maps to 500 with an actionable message.
	KindIAMDenied

	// KindInvalidRequest is a malformed body or unknown model. Maps to 400.
	KindInvalidRequest

	// KindServerError is any other upstream 5xx.
	KindServerError

	// KindClientError is any other upstream 4xx. Non-retryable.
	KindClientError
)

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindRateLimited:
		return "rate_limit"
	case KindCapacity:
		return "capacity"
	case KindIAMDenied:
		return "iam_denied"
	case KindInvalidRequest:
		return "invalid_request"
	case KindServerError:
		return "upstream_error"
	case KindClientError:
		return "client_error"
	}
	return "none"
}

// ErrorMessage carries a classified failure through the pipeline.
type ErrorMessage struct {
	// StatusCode is the upstream HTTP status, or a synthesized one for
	// failures that never reached the wire.
	StatusCode int

	// Kind is the classification the orchestrator branches on.
	Kind ErrorKind

	// RetryAfter is the wait the upstream requested, when applicable.
	RetryAfter time.Duration

	// Error is the underlying error.
	Error error
}

// NewErrorMessage builds an ErrorMessage from its parts.
func NewErrorMessage(statusCode int, kind ErrorKind, err error) *ErrorMessage {
	return &ErrorMessage{StatusCode: statusCode, Kind: kind, Error: err}
}

// Retryable reports whether the fallback orchestrator may act on this error.
func (e *ErrorMessage) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindCapacity, KindServerError:
		return true
	}
	return false
}

// Message returns the underlying error text, or the kind name when no error
// was attached.
func (e *ErrorMessage) Message() string {
	if e.Error != nil {
		return e.Error.Error()
	}
	return e.Kind.String()
}

// StreamChunk is one unit of upstream streaming output, already reduced to
// the dialect-neutral form the SSE mediator consumes.
type StreamChunk struct {
	// Delta is the text payload. For tool use it is the serialized
	// Anthropic-shaped tool_use fragment.
	Delta string

	// IsThinking marks the delta as reasoning output.
	IsThinking bool

	// IsToolUse marks the delta as a serialized tool_use fragment.
	IsToolUse bool

	// Done marks the final chunk of the stream. Always emitted exactly once.
	Done bool
}

// UsageMetadata carries upstream token accounting when present.
type UsageMetadata struct {
	PromptTokens     int `json:"promptTokenCount"`
	CandidatesTokens int `json:"candidatesTokenCount"`
	TotalTokens      int `json:"totalTokenCount"`
}

// UnaryResult is the parsed non-streaming upstream response.
type UnaryResult struct {
	Content      string
	Thinking     string
	FinishReason string
	Usage        *UsageMetadata
}
