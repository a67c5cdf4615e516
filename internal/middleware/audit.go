package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/ollama-chat/internal/domain"
)

// auditWriteTimeout bounds a single asynchronous audit write.
const auditWriteTimeout = 5 * time.Second

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(ctx context.Context, entry *domain.AuditLog) error
}

// LogAuditWriter writes audit records to the structured log. It is used when
// no database is configured.
type LogAuditWriter struct {
	Logger *slog.Logger
}

// WriteAudit implements AuditWriter.
func (w LogAuditWriter) WriteAudit(ctx context.Context, entry *domain.AuditLog) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("request_id", entry.RequestID),
		slog.String("method", entry.Method),
		slog.String("path", entry.Path),
		slog.Int("status", entry.Status),
		slog.Int64("duration_ms", entry.DurationMs),
		slog.String("ip", entry.IP),
	)
	return nil
}

// AuditMiddleware records every request. For streamed answers the duration
// covers the time until the response headers were produced.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := strings.Clone(c.Method())
		path := strings.Clone(c.Path())
		ip := strings.Clone(c.IP())
		userAgent := strings.Clone(c.Get(fiber.HeaderUserAgent))

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		entry := &domain.AuditLog{
			RequestID:  strings.Clone(c.GetRespHeader(fiber.HeaderXRequestID)),
			Method:     method,
			Path:       path,
			Status:     status,
			DurationMs: time.Since(start).Milliseconds(),
			IP:         ip,
			UserAgent:  userAgent,
			CreatedAt:  start.UTC(),
		}

		// All values are captured, safe to use in goroutine
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()
			if writeErr := writer.WriteAudit(ctx, entry); writeErr != nil {
				slog.Error("failed to write audit log", "error", writeErr)
			}
		}()

		return err
	}
}
