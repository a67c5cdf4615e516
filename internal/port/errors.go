package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	ErrUnsupportedProvider   = errors.New("unsupported LLM provider")
	ErrProviderNotConfigured = errors.New("LLM provider is not configured")
	ErrNoModelAvailable      = errors.New("no local models found, pull one with `ollama pull llama3.2` or set the request model")
	ErrUpstream              = errors.New("upstream error")
	ErrProtocol              = errors.New("protocol error")
)

// UpstreamError reports a non-success answer from the inference backend.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream error (%d)", e.Status)
	}
	return fmt.Sprintf("upstream error (%d): %s", e.Status, e.Detail)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }
