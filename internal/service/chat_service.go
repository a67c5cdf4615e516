package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arturoeanton/ollama-chat/internal/domain"
	"github.com/arturoeanton/ollama-chat/internal/port"
)

// DefaultSystemPrompt is prepended to every conversation unless configured otherwise.
const DefaultSystemPrompt = `Never answer with an empty response. If you don't know the answer, reply with something like "I'm not sure. Please provide more details or ask another question."
The user can switch between different models and providers, so keep answers generic and not provider-specific.`

// ChatService drives a chat turn: it injects the system prompt, resolves the
// provider and hands back its answer.
type ChatService struct {
	providers    *ProviderRegistry
	systemPrompt domain.Message
	tracer       trace.Tracer
}

// NewChatService creates a chat service on top of a provider registry.
func NewChatService(providers *ProviderRegistry, systemPrompt string) *ChatService {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &ChatService{
		providers:    providers,
		systemPrompt: domain.Message{Role: domain.RoleSystem, Content: systemPrompt},
		tracer:       otel.Tracer("github.com/arturoeanton/ollama-chat/internal/service"),
	}
}

// Stream starts a streamed turn. Errors returned here happen before any
// fragment was produced; later failures arrive on the channel.
func (s *ChatService) Stream(ctx context.Context, req domain.ChatRequest) (<-chan port.StreamEvent, error) {
	ctx, span := s.tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("chat.provider", s.providers.Resolve(req.Provider)),
		attribute.String("chat.model", req.Model),
		attribute.Int("chat.messages", len(req.Messages)),
	))

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		endWithError(span, err)
		return nil, err
	}

	events, err := provider.StreamChat(ctx, req.WithSystemPrompt(s.systemPrompt))
	if err != nil {
		endWithError(span, err)
		return nil, fmt.Errorf("%s stream: %w", provider.Name(), err)
	}

	out := make(chan port.StreamEvent)
	go func() {
		defer close(out)
		defer span.End()

		fragments := 0
		for ev := range events {
			if ev.Err != nil {
				recordError(span, ev.Err)
			} else {
				fragments++
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		span.SetAttributes(attribute.Int("chat.fragments", fragments))
	}()
	return out, nil
}

// Chat performs a non-streaming turn.
func (s *ChatService) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chat.complete", trace.WithAttributes(
		attribute.String("chat.provider", s.providers.Resolve(req.Provider)),
		attribute.String("chat.model", req.Model),
	))
	defer span.End()

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	resp, err := provider.Chat(ctx, req.WithSystemPrompt(s.systemPrompt))
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("%s chat: %w", provider.Name(), err)
	}
	return resp, nil
}

// Models lists the models of the named provider, refreshing its cache.
func (s *ChatService) Models(ctx context.Context, providerName string) ([]domain.Model, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	models, err := provider.ListModels(ctx)
	if err != nil {
		slog.Error("list models failed", "provider", provider.Name(), "error", err)
		return nil, err
	}
	return models, nil
}

// Providers returns the registered providers.
func (s *ChatService) Providers() []domain.ProviderInfo {
	return s.providers.Available()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func endWithError(span trace.Span, err error) {
	recordError(span, err)
	span.End()
}
