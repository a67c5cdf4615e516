package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/ollama-chat/internal/domain"
	"github.com/arturoeanton/ollama-chat/internal/port"
)

type fakeProvider struct {
	name       string
	configured bool
	fragments  []string
	streamErr  error
	midErr     error

	mu       sync.Mutex
	received []domain.ChatRequest
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) ListModels(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "m1", Name: "m1", Provider: f.name}}, nil
}

func (f *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.record(req)
	content := ""
	for _, s := range f.fragments {
		content += s
	}
	return &domain.ChatResponse{Content: content, FinishReason: domain.FinishReasonStop}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan port.StreamEvent, error) {
	f.record(req)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan port.StreamEvent)
	go func() {
		defer close(ch)
		for _, s := range f.fragments {
			select {
			case ch <- port.StreamEvent{Content: s}:
			case <-ctx.Done():
				return
			}
		}
		if f.midErr != nil {
			ch <- port.StreamEvent{Err: f.midErr}
		}
	}()
	return ch, nil
}

func (f *fakeProvider) record(req domain.ChatRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, req)
}

func TestProviderRegistry_Precedence(t *testing.T) {
	build := func(name string) port.ProviderConstructor {
		return func() port.LLMProvider { return &fakeProvider{name: name, configured: true} }
	}

	r := NewProviderRegistry("")
	r.Register("ollama", build("Ollama"))
	r.Register("other", build("Other"))

	assert.Equal(t, "ollama", r.Resolve(""))
	assert.Equal(t, "other", r.Resolve("Other"))

	r = NewProviderRegistry("other")
	assert.Equal(t, "other", r.Resolve(""))
	assert.Equal(t, "ollama", r.Resolve("ollama"))
}

func TestProviderRegistry_Unsupported(t *testing.T) {
	r := NewProviderRegistry("")
	r.Register("ollama", func() port.LLMProvider { return &fakeProvider{configured: true} })

	_, err := r.Get("antropic")
	assert.ErrorIs(t, err, port.ErrUnsupportedProvider)
}

func TestProviderRegistry_NotConfiguredEvenWhenCached(t *testing.T) {
	var built atomic.Int32
	p := &fakeProvider{name: "Ollama", configured: true}
	r := NewProviderRegistry("")
	r.Register("ollama", func() port.LLMProvider {
		built.Add(1)
		return p
	})

	got, err := r.Get("")
	require.NoError(t, err)
	assert.Same(t, p, got)

	p.configured = false
	_, err = r.Get("ollama")
	assert.ErrorIs(t, err, port.ErrProviderNotConfigured)
	assert.Equal(t, int32(1), built.Load())
}

func TestProviderRegistry_SingleConstructionUnderConcurrency(t *testing.T) {
	var built atomic.Int32
	r := NewProviderRegistry("")
	r.Register("ollama", func() port.LLMProvider {
		built.Add(1)
		return &fakeProvider{name: "Ollama", configured: true}
	})

	var wg sync.WaitGroup
	results := make([]port.LLMProvider, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Get("")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestProviderRegistry_Available(t *testing.T) {
	r := NewProviderRegistry("")
	r.Register("ollama", func() port.LLMProvider { return &fakeProvider{name: "Ollama", configured: true} })
	r.Register("openai", func() port.LLMProvider { return &fakeProvider{name: "OpenAI"} })

	assert.Equal(t, []domain.ProviderInfo{
		{Type: "ollama", Name: "Ollama", Configured: true},
		{Type: "openai", Name: "OpenAI", Configured: false},
	}, r.Available())
}

func newTestService(p *fakeProvider) *ChatService {
	r := NewProviderRegistry("")
	r.Register("ollama", func() port.LLMProvider { return p })
	return NewChatService(r, "be nice")
}

func TestChatService_StreamPrependsSystemPrompt(t *testing.T) {
	p := &fakeProvider{name: "Ollama", configured: true, fragments: []string{"He", "llo"}}
	svc := newTestService(p)

	messages := []domain.Message{{Role: domain.RoleUser, Content: "hi"}}
	events, err := svc.Stream(context.Background(), domain.ChatRequest{Messages: messages, Model: "llama3.2"})
	require.NoError(t, err)

	var got []string
	for ev := range events {
		require.NoError(t, ev.Err)
		got = append(got, ev.Content)
	}
	assert.Equal(t, []string{"He", "llo"}, got)

	require.Len(t, p.received, 1)
	sent := p.received[0].Messages
	require.Len(t, sent, 2)
	assert.Equal(t, domain.Message{Role: domain.RoleSystem, Content: "be nice"}, sent[0])
	assert.Equal(t, messages[0], sent[1])
	assert.Len(t, messages, 1, "caller slice must not change")
}

func TestChatService_StreamRelaysMidStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	p := &fakeProvider{name: "Ollama", configured: true, fragments: []string{"partial"}, midErr: boom}
	svc := newTestService(p)

	events, err := svc.Stream(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var got []port.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Content)
	assert.ErrorIs(t, got[1].Err, boom)
}

func TestChatService_PreStreamErrors(t *testing.T) {
	p := &fakeProvider{name: "Ollama", configured: true, streamErr: port.ErrNoModelAvailable}
	svc := newTestService(p)

	_, err := svc.Stream(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, port.ErrNoModelAvailable)

	_, err = svc.Stream(context.Background(), domain.ChatRequest{Provider: "nope"})
	assert.ErrorIs(t, err, port.ErrUnsupportedProvider)
}

func TestChatService_ChatAndModels(t *testing.T) {
	p := &fakeProvider{name: "Ollama", configured: true, fragments: []string{"a", "b"}}
	svc := newTestService(p)

	resp, err := svc.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Content)

	models, err := svc.Models(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "m1", models[0].ID)
}
