package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/arturoeanton/ollama-chat/internal/domain"
	"github.com/arturoeanton/ollama-chat/internal/port"
	"github.com/arturoeanton/ollama-chat/internal/service"
	"github.com/gofiber/fiber/v3"
)

// ChatHandler proxies chat turns to the configured LLM provider.
type ChatHandler struct {
	chat *service.ChatService
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Register sets up chat routes.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/chat", h.Chat)
}

// Chat answers a conversation. By default the answer is streamed as
// server-sent events, one `data: {"chunk": ...}` frame per fragment; closing
// the stream marks the end of the turn.
func (h *ChatHandler) Chat(c fiber.Ctx) error {
	var req domain.ChatRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if !req.IsStreaming() {
		resp, err := h.chat.Chat(c.Context(), req)
		if err != nil {
			slog.Error("chat failed", "provider", req.Provider, "error", err)
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(resp)
	}

	// The body is written after this handler returns, so the stream cannot
	// live on the request context.
	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.chat.Stream(ctx, req)
	if err != nil {
		cancel()
		slog.Error("chat stream failed to start", "provider", req.Provider, "error", err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	pr, pw := io.Pipe()
	go relay(events, pw, cancel)
	return c.SendStream(pr)
}

// relay writes one frame per fragment. io.Pipe is synchronous, so each
// fragment is only taken from the provider once the previous frame went out.
// A provider error closes the pipe with that error, which makes fasthttp drop
// the connection instead of ending the chunked body cleanly.
func relay(events <-chan port.StreamEvent, w *io.PipeWriter, cancel context.CancelFunc) {
	defer cancel()

	for ev := range events {
		if ev.Err != nil {
			slog.Error("error during streaming chat", "error", ev.Err)
			_ = w.CloseWithError(ev.Err)
			return
		}
		frame, err := encodeFrame(ev.Content)
		if err != nil {
			slog.Error("encode stream frame", "error", err)
			_ = w.CloseWithError(err)
			return
		}
		if _, err := w.Write(frame); err != nil {
			slog.Warn("client stopped reading chat stream", "error", err)
			return
		}
	}
	_ = w.Close()
}

func encodeFrame(text string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(domain.StreamChunk{Chunk: text}); err != nil {
		return nil, err
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, port.ErrUpstream):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
