package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/ollama-chat/internal/adapter/ai"
	"github.com/arturoeanton/ollama-chat/internal/domain"
	"github.com/arturoeanton/ollama-chat/internal/port"
	"github.com/arturoeanton/ollama-chat/internal/service"
	"github.com/arturoeanton/ollama-chat/pkg/chatclient"
)

const helloStream = `{"message":{"content":"He"},"done":false}
{"message":{"content":"llo"},"done":false}
{"done":true}
`

// fakeOllama answers /api/chat with the given NDJSON lines and records the
// messages it received.
type fakeOllama struct {
	mu       sync.Mutex
	messages []map[string]string
	stream   func(w http.ResponseWriter)
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		fmt.Fprint(w, `{"models":[{"name":"llama3.2","details":{"parameter_size":"3B"}}]}`)
	case "/api/chat":
		var body struct {
			Stream   bool                `json:"stream"`
			Messages []map[string]string `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.messages = body.Messages
		f.mu.Unlock()

		if !body.Stream {
			fmt.Fprint(w, `{"message":{"content":"Hello"},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2}`)
			return
		}
		if f.stream != nil {
			f.stream(w)
			return
		}
		fmt.Fprint(w, helloStream)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) received() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

func newApp(t *testing.T, upstream http.Handler) *fiber.App {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	registry := service.NewProviderRegistry(ai.ProviderName)
	registry.Register(ai.ProviderName, func() port.LLMProvider {
		return ai.NewOllamaProvider(ai.OllamaConfig{BaseURL: srv.URL})
	})
	chat := service.NewChatService(registry, "be brief")

	app := fiber.New()
	api := app.Group("/api")
	NewChatHandler(chat).Register(api)
	NewModelsHandler(chat).Register(api)
	return app
}

func postChat(t *testing.T, app *fiber.App, body string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestChat_StreamsFrames(t *testing.T) {
	upstream := &fakeOllama{}
	app := newApp(t, upstream)

	resp, body := postChat(t, app, `{"messages":[{"role":"user","content":"hi"}],"model":"llama3.2"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "data: {\"chunk\":\"He\"}\n\ndata: {\"chunk\":\"llo\"}\n\n", body)

	received := upstream.received()
	require.Len(t, received, 2)
	assert.Equal(t, "system", received[0]["role"])
	assert.Equal(t, "be brief", received[0]["content"])
	assert.Equal(t, "hi", received[1]["content"])
}

func TestChat_FrameKeepsMarkup(t *testing.T) {
	frame, err := encodeFrame("<b>&</b>")
	require.NoError(t, err)
	assert.Equal(t, "data: {\"chunk\":\"<b>&</b>\"}\n\n", string(frame))
}

func TestChat_NonStreaming(t *testing.T) {
	app := newApp(t, &fakeOllama{})

	resp, body := postChat(t, app, `{"messages":[{"role":"user","content":"hi"}],"model":"llama3.2","stream":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out domain.ChatResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "Hello", out.Content)
	assert.Equal(t, domain.FinishReasonStop, out.FinishReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 6, out.Usage.TotalTokens)
}

func TestChat_RejectsInvalidRequests(t *testing.T) {
	app := newApp(t, &fakeOllama{})

	cases := map[string]string{
		"malformed json": `{"messages":`,
		"unknown role":   `{"messages":[{"role":"robot","content":"hi"}]}`,
		"temperature":    `{"messages":[{"role":"user","content":"hi"}],"temperature":3}`,
		"max tokens":     `{"messages":[{"role":"user","content":"hi"}],"maxTokens":0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, raw := postChat(t, app, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, raw, `"error"`)
		})
	}
}

func TestChat_UnsupportedProvider(t *testing.T) {
	app := newApp(t, &fakeOllama{})

	resp, body := postChat(t, app, `{"messages":[{"role":"user","content":"hi"}],"provider":"openai"}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Contains(t, body, "unsupported LLM provider")
}

func TestChat_UpstreamErrorBeforeStream(t *testing.T) {
	app := newApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))

	resp, body := postChat(t, app, `{"messages":[{"role":"user","content":"hi"}],"model":"nope"}`)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "model not found")
}

func TestModels(t *testing.T) {
	app := newApp(t, &fakeOllama{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/models?provider=ollama", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Models []domain.Model `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Models, 1)
	assert.Equal(t, "llama3.2", out.Models[0].ID)
	assert.Equal(t, "3B", out.Models[0].Description)
}

func TestModels_Failure(t *testing.T) {
	app := newApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"Failed to fetch models"}`, string(raw))
}

func TestProviders(t *testing.T) {
	app := newApp(t, &fakeOllama{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"providers":[{"type":"ollama","name":"Ollama","isConfigured":true}]}`, string(raw))
}

// serve starts app on a real listener so the client reads the stream
// incrementally.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

type streamResult struct {
	mu        sync.Mutex
	chunks    []string
	completed bool
	err       error
}

func (r *streamResult) callbacks() chatclient.Callbacks {
	return chatclient.Callbacks{
		OnChunk: func(text string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, text)
			r.mu.Unlock()
		},
		OnComplete: func() {
			r.mu.Lock()
			r.completed = true
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
	}
}

func TestChat_EndToEndWithConsumer(t *testing.T) {
	baseURL := serve(t, newApp(t, &fakeOllama{}))

	consumer := chatclient.NewConsumer(chatclient.New(baseURL))
	res := &streamResult{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := consumer.Stream(ctx, chatclient.Request{
		Messages: []chatclient.Message{{Role: "user", Content: "hi"}},
		Model:    "llama3.2",
	}, res.callbacks())
	require.NoError(t, err)

	assert.Equal(t, "Hello", strings.Join(res.chunks, ""))
	assert.True(t, res.completed)
	assert.NoError(t, res.err)
}

func TestChat_MidStreamFailureAbortsResponse(t *testing.T) {
	upstream := &fakeOllama{stream: func(w http.ResponseWriter) {
		fmt.Fprintln(w, `{"message":{"content":"He"},"done":false}`)
		w.(http.Flusher).Flush()
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}}
	baseURL := serve(t, newApp(t, upstream))

	consumer := chatclient.NewConsumer(chatclient.New(baseURL))
	res := &streamResult{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := consumer.Stream(ctx, chatclient.Request{
		Messages: []chatclient.Message{{Role: "user", Content: "hi"}},
		Model:    "llama3.2",
	}, res.callbacks())
	require.Error(t, err)

	assert.Equal(t, []string{"He"}, res.chunks)
	assert.False(t, res.completed)
	assert.Error(t, res.err)
}
