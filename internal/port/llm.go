package port

import (
	"context"

	"github.com/arturoeanton/ollama-chat/internal/domain"
)

// LLMProvider abstracts an LLM backend the chat proxy can forward to.
// Implementations can target Ollama or any other inference server.
type LLMProvider interface {
	// Name returns the display name of the provider.
	Name() string

	// IsConfigured reports whether the required settings are present.
	// It must not perform I/O.
	IsConfigured() bool

	// ListModels fetches the models the backend serves and replaces the
	// provider's cached list on success.
	ListModels(ctx context.Context) ([]domain.Model, error)

	// Chat performs one blocking round trip.
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

	// StreamChat starts a streamed turn. Errors before the first byte of the
	// answer are returned directly; afterwards fragments and at most one
	// trailing error are delivered on the channel, which is always closed
	// exactly once.
	StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan StreamEvent, error)
}

// StreamEvent carries either a text fragment or a terminal error.
type StreamEvent struct {
	Content string
	Err     error
}

// ProviderConstructor builds a provider instance on first use.
type ProviderConstructor func() LLMProvider
