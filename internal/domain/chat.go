package domain

import (
	"errors"
	"fmt"
	"time"
)

// Message roles accepted by the chat endpoint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Finish reasons reported on a non-streaming ChatResponse.
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
	FinishReasonError  = "error"
)

// Message is a single turn of a conversation. It is never mutated by the proxy.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ID        string     `json:"id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"maxTokens,omitempty"`
	Stream      *bool     `json:"stream,omitempty"`
}

// ErrInvalidRequest is returned by ChatRequest.Validate.
var ErrInvalidRequest = errors.New("invalid chat request")

// Validate checks the field constraints the UI schema enforced.
func (r *ChatRequest) Validate() error {
	for i, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("%w: messages[%d] has unknown role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be within [0,2]", ErrInvalidRequest)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("%w: maxTokens must be positive", ErrInvalidRequest)
	}
	return nil
}

// IsStreaming reports whether the caller asked for a streamed answer.
// Streaming is the default.
func (r *ChatRequest) IsStreaming() bool {
	return r.Stream == nil || *r.Stream
}

// WithSystemPrompt returns a copy of the request whose message list starts
// with the given system message. The caller's slice is left untouched.
func (r ChatRequest) WithSystemPrompt(prompt Message) ChatRequest {
	messages := make([]Message, 0, len(r.Messages)+1)
	messages = append(messages, prompt)
	messages = append(messages, r.Messages...)
	r.Messages = messages
	return r
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatResponse is the result of a non-streaming chat round trip.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finishReason"`
	Usage        *Usage `json:"usage,omitempty"`
}

// StreamChunk is the wire unit of a streamed turn.
type StreamChunk struct {
	Chunk string `json:"chunk"`
	Done  bool   `json:"done,omitempty"`
}
