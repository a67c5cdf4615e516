package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/ollama-chat/internal/service"
)

// ModelsHandler exposes model and provider discovery.
type ModelsHandler struct {
	chat *service.ChatService
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(chat *service.ChatService) *ModelsHandler {
	return &ModelsHandler{chat: chat}
}

// Register sets up discovery routes.
func (h *ModelsHandler) Register(router fiber.Router) {
	router.Get("/models", h.ListModels)
	router.Get("/providers", h.ListProviders)
}

// ListModels returns the models of the provider named by ?provider=, or of
// the default provider.
func (h *ModelsHandler) ListModels(c fiber.Ctx) error {
	provider := c.Query("provider", "")
	models, err := h.chat.Models(c.Context(), provider)
	if err != nil {
		slog.Error("error fetching models", "provider", provider, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch models"})
	}
	return c.JSON(fiber.Map{"models": models})
}

// ListProviders returns every registered provider with its configuration state.
func (h *ModelsHandler) ListProviders(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"providers": h.chat.Providers()})
}
