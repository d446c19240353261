// Package provider is the uniform call surface over language-model,
// embedding, and search backends. The orchestration core depends only on
// the contracts here; concrete SDK clients live alongside and are selected
// by name through the registry.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one element of an ordered chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single chat call. Zero values mean provider defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Completion is the result of a chat call. Raw preserves the provider's
// response object for callers that need more than the text.
type Completion struct {
	Content string
	Raw     any
}

// ChatClient is the language-model call contract.
type ChatClient interface {
	// Name identifies the backing provider (e.g. "claude", "openai").
	Name() string
	// Chat sends an ordered conversation and returns the completion.
	Chat(ctx context.Context, messages []Message, opts Options) (Completion, error)
}

// EmbeddingClient is the embedding call contract.
type EmbeddingClient interface {
	Name() string
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchFilters narrows an external search.
type SearchFilters struct {
	Site      string
	Freshness string
}

// SearchClient is the web-search call contract.
type SearchClient interface {
	Name() string
	Search(ctx context.Context, query string, filters SearchFilters, maxResults int) ([]SearchHit, error)
}

// SearchHit is one result from the search backend.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// Sentinel errors for provider selection.
var (
	// ErrNotConfigured indicates a provider was selected but its key or
	// endpoint is missing.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrNotImplemented indicates an unknown provider name.
	ErrNotImplemented = errors.New("provider not implemented")
)

// ErrorType classifies provider failures for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded). Retryable.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents 5xx, EOF, connection reset, timeout. Retryable.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 with no content. Retryable.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents 401/403, bad API key. Not retryable.
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed requests. Not retryable.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the metric label for the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether the error type warrants an automatic retry.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeUnknown:
		return false
	default:
		return false
	}
}

// Error is a classified provider failure carrying the provider name and the
// operation that failed.
type Error struct {
	Err       error
	Provider  string
	Operation string
	Message   string
	Type      ErrorType
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("provider %s: %s failed (%s): %s", e.Provider, e.Operation, e.Type, msg)
}

// Unwrap exposes the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(providerName, operation string, errType ErrorType, err error) *Error {
	return &Error{
		Provider:  providerName,
		Operation: operation,
		Type:      errType,
		Err:       err,
	}
}

// AsError extracts a classified provider error, or nil.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
