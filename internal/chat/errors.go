package chat

import (
	"errors"
	"strings"
)

// Validation errors are returned before any event is emitted, so the HTTP
// layer can reject the request without starting a stream. Their text is
// user-facing.
var (
	ErrEmptyMessage    = errors.New("Message cannot be empty.")
	ErrSessionRequired = errors.New("Session ID is required")
)

// User-facing event messages for in-stream failures.
const (
	msgMessageTooLong   = "The message you submitted was too long, please edit it and resubmit."
	msgNothingToEdit    = "No user message found to edit in this session"
	msgNothingToRetry   = "No assistant message to retry"
	msgNoHistory        = "No conversation history found"
	msgContextExceeded  = "Conversation too long. Please refresh to start a new chat session."
	msgRateLimited      = "Rate limit exceeded. Please try again in a moment."
	msgQuotaExceeded    = "API quota exceeded."
	msgUpstreamGeneric  = "OpenAI API error: "
)

// classifyUpstream maps a completion failure to its user-facing message by
// matching the upstream error text against known categories.
func classifyUpstream(err error) string {
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "context_length_exceeded"),
		strings.Contains(text, "maximum context length"):
		return msgContextExceeded
	case strings.Contains(text, "rate_limit"):
		return msgRateLimited
	case strings.Contains(text, "insufficient_quota"):
		return msgQuotaExceeded
	default:
		return msgUpstreamGeneric + err.Error()
	}
}
