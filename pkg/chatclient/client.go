// Package chatclient talks to the chat proxy over HTTP: plain request/response
// calls on Client and incremental event-stream consumption on Consumer.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrStreamDecode marks a single frame that could not be decoded. It is
	// logged and the frame is skipped.
	ErrStreamDecode = errors.New("chatclient: undecodable stream frame")
	// ErrStreamAborted is reported when a stream is cancelled by the caller.
	ErrStreamAborted = errors.New("chatclient: stream aborted")
)

// APIError is a non-2xx answer from the proxy.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api error (%d): %s", e.Status, e.Message)
}

// Message is one conversation entry.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Request is the body of a chat turn.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"maxTokens,omitempty"`
	Stream      *bool     `json:"stream,omitempty"`
}

// Usage reports token accounting for a non-streamed answer.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is a complete, non-streamed answer.
type Response struct {
	Content      string `json:"content"`
	FinishReason string `json:"finishReason"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Model describes a model offered by a provider.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Description   string `json:"description,omitempty"`
	ContextLength int    `json:"contextLength,omitempty"`
}

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Configured bool   `json:"isConfigured"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// Client is a thin HTTP client for the chat proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the proxy at baseURL, e.g. http://localhost:3001.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamMessage opens a streamed chat turn and returns the raw event-stream
// body. The caller must close it.
func (c *Client) StreamMessage(ctx context.Context, req Request) (io.ReadCloser, error) {
	stream := true
	req.Stream = &stream

	resp, err := c.do(ctx, http.MethodPost, "/api/chat", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &APIError{Status: resp.StatusCode, Message: "no response body available for streaming"}
	}
	return resp.Body, nil
}

// SendMessage performs a non-streamed chat turn.
func (c *Client) SendMessage(ctx context.Context, req Request) (*Response, error) {
	stream := false
	req.Stream = &stream

	var out Response
	if err := c.getJSON(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models lists the models of a provider; an empty name selects the default one.
func (c *Client) Models(ctx context.Context, provider string) ([]Model, error) {
	path := "/api/models"
	if provider != "" {
		path += "?provider=" + url.QueryEscape(provider)
	}

	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.getJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Providers lists the providers known to the proxy.
func (c *Client) Providers(ctx context.Context) ([]ProviderInfo, error) {
	var out struct {
		Providers []ProviderInfo `json:"providers"`
	}
	if err := c.getJSON(ctx, http.MethodGet, "/api/providers", nil, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends the request and turns non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: payload.Message}
		}
		if payload.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: payload.Error}
		}
	}
	return &APIError{Status: resp.StatusCode, Message: "request failed: " + http.StatusText(resp.StatusCode)}
}
