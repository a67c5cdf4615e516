package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/arturoeanton/ollama-chat/internal/domain"
	"github.com/arturoeanton/ollama-chat/internal/port"
)

// ProviderName is the registry key of the Ollama provider.
const ProviderName = "ollama"

// Request defaults applied when the caller leaves the option unset.
const (
	defaultChatTemperature   = 0.7
	defaultStreamTemperature = 0.4
	defaultNumPredict        = 512
)

// OllamaConfig holds the configuration for an Ollama endpoint.
type OllamaConfig struct {
	BaseURL         string // e.g. http://localhost:11434 or https://api.ollama.com
	Token           string // Bearer token for Ollama Cloud (empty = no auth)
	DefaultModel    string // used only when no model is given and none is discoverable
	MaxStreamBuffer int    // cap for undecodable stream data, 0 = DefaultMaxStreamBuffer
}

// OllamaProvider implements port.LLMProvider using the Ollama REST API.
type OllamaProvider struct {
	cfg        OllamaConfig
	httpClient *http.Client

	mu     sync.RWMutex
	models []domain.Model
}

// NewOllamaProvider creates a new Ollama-backed provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	return &OllamaProvider{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// Name returns the display name of the provider.
func (o *OllamaProvider) Name() string {
	return "Ollama"
}

// IsConfigured reports whether a base URL is set.
func (o *OllamaProvider) IsConfigured() bool {
	return o.cfg.BaseURL != ""
}

// Models returns a copy of the cached model list.
func (o *OllamaProvider) Models() []domain.Model {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]domain.Model(nil), o.models...)
}

// ListModels fetches the locally available models and refreshes the cache.
func (o *OllamaProvider) ListModels(ctx context.Context) ([]domain.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: create request: %w", err)
	}
	o.authorize(req)

	resp, err := o.do(req)
	if err != nil {
		slog.Error("error listing models", "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &port.UpstreamError{Status: resp.StatusCode, Detail: "decode tags: " + err.Error()}
	}

	models := make([]domain.Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, domain.Model{
			ID:          m.Name,
			Name:        m.Name,
			Provider:    o.Name(),
			Description: m.Details.describe(),
		})
	}

	o.mu.Lock()
	o.models = models
	o.mu.Unlock()

	return append([]domain.Model(nil), models...), nil
}

// Chat sends the conversation and returns the complete response.
func (o *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model, err := o.ensureModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	httpReq, err := o.newChatRequest(ctx, req, model, false)
	if err != nil {
		return nil, err
	}

	resp, err := o.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w: read body: %v", port.ErrProtocol, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("ollama chat: %w: empty response body", port.ErrProtocol)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &port.UpstreamError{Status: resp.StatusCode, Detail: "malformed response: " + err.Error()}
	}

	finish := domain.FinishReasonStop
	if out.DoneReason == domain.FinishReasonLength || (out.DoneReason == "" && !out.Done) {
		finish = domain.FinishReasonLength
	}

	return &domain.ChatResponse{
		Content:      out.content(),
		FinishReason: finish,
		Usage: &domain.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// StreamChat sends the conversation with stream enabled and relays the
// answer fragment by fragment. The channel is unbuffered, so the body is
// only read as fast as the caller consumes fragments.
func (o *OllamaProvider) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan port.StreamEvent, error) {
	model, err := o.ensureModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	httpReq, err := o.newChatRequest(ctx, req, model, true)
	if err != nil {
		return nil, err
	}

	resp, err := o.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("ollama stream: %w: no response body", port.ErrProtocol)
	}

	events := make(chan port.StreamEvent)
	go o.pump(ctx, resp.Body, events)
	return events, nil
}

// pump reads the NDJSON body until the terminal object, EOF, an error or
// cancellation, whichever comes first.
func (o *OllamaProvider) pump(ctx context.Context, body io.ReadCloser, events chan<- port.StreamEvent) {
	defer close(events)
	defer body.Close()

	emit := func(ev port.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	dec := newLineDecoder(o.cfg.MaxStreamBuffer)
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			fragments, done, err := dec.Feed(buf[:n])
			for _, f := range fragments {
				if !emit(port.StreamEvent{Content: f}) {
					return
				}
			}
			if err != nil {
				emit(port.StreamEvent{Err: err})
				return
			}
			if done {
				return
			}
		}

		if errors.Is(readErr, io.EOF) {
			tail, err := dec.Flush()
			if tail != "" && !emit(port.StreamEvent{Content: tail}) {
				return
			}
			if err != nil {
				emit(port.StreamEvent{Err: err})
			}
			return
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return
			}
			emit(port.StreamEvent{Err: fmt.Errorf("ollama stream read: %w", readErr)})
			return
		}
	}
}

// ensureModel picks the model for a request: the requested one verbatim, else
// the first discovered one, else the configured default.
func (o *OllamaProvider) ensureModel(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}

	if len(o.Models()) == 0 {
		if _, err := o.ListModels(ctx); err != nil {
			slog.Debug("model discovery failed", "error", err)
		}
	}
	if models := o.Models(); len(models) > 0 {
		return models[0].ID, nil
	}
	if o.cfg.DefaultModel != "" {
		return o.cfg.DefaultModel, nil
	}
	return "", port.ErrNoModelAvailable
}

func (o *OllamaProvider) newChatRequest(ctx context.Context, req domain.ChatRequest, model string, stream bool) (*http.Request, error) {
	temperature := defaultChatTemperature
	if stream {
		temperature = defaultStreamTemperature
	}
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	numPredict := defaultNumPredict
	if req.MaxTokens != nil {
		numPredict = *req.MaxTokens
	}

	messages := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: temperature,
			NumPredict:  numPredict,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	o.authorize(httpReq)
	return httpReq, nil
}

func (o *OllamaProvider) authorize(req *http.Request) {
	if o.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.Token)
	}
}

// do executes req and turns any non-2xx answer into a *port.UpstreamError.
func (o *OllamaProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, upstreamError(resp)
	}
	return resp, nil
}

// upstreamError prefers the {"error": "..."} body Ollama sends, else raw text.
func upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	detail := strings.TrimSpace(string(body))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		detail = payload.Error
	}
	return &port.UpstreamError{Status: resp.StatusCode, Detail: detail}
}

// --- wire types ---

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message,omitempty"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (r ollamaChatResponse) content() string {
	if r.Message == nil {
		return ""
	}
	return r.Message.Content
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string       `json:"name"`
		ModifiedAt string       `json:"modified_at,omitempty"`
		Size       int64        `json:"size,omitempty"`
		Digest     string       `json:"digest,omitempty"`
		Details    ollamaDetail `json:"details,omitempty"`
	} `json:"models"`
}

type ollamaDetail struct {
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

func (d ollamaDetail) describe() string {
	var parts []string
	for _, p := range []string{d.Family, d.ParameterSize, d.QuantizationLevel} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
