package server

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/service"
)

type Handlers struct {
	service  service.MessagingService
	logger   *logrus.Logger
	validate *validator.Validate
}

func NewHandlers(svc service.MessagingService, logger *logrus.Logger) *Handlers {
	return &Handlers{
		service:  svc,
		logger:   logger,
		validate: validator.New(),
	}
}

type resolveConversationRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
}

// ResolveConversation finds or creates the conversation between the caller
// and the recipient. Both a fresh create and a repeat call return the same
// conversation; 201 signals only that the row is new to this caller.
func (h *Handlers) ResolveConversation(c *fiber.Ctx) error {
	userID := authedUserID(c)

	var req resolveConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot parse JSON"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	conv, err := h.service.ResolveConversation(c.UserContext(), userID, req.RecipientID)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(conv)
}

func (h *Handlers) ListConversations(c *fiber.Ctx) error {
	summaries, err := h.service.ListConversations(c.UserContext(), authedUserID(c))
	if err != nil {
		return h.serviceError(c, err)
	}

	if summaries == nil {
		return c.JSON([]struct{}{})
	}
	return c.JSON(summaries)
}

func (h *Handlers) GetMessages(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	limit := c.QueryInt("limit", 50)
	before := c.Query("before")

	messages, err := h.service.History(c.UserContext(), conversationID, authedUserID(c), limit, before)
	if err != nil {
		return h.serviceError(c, err)
	}

	if messages == nil {
		return c.JSON([]struct{}{})
	}
	return c.JSON(messages)
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot parse JSON"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	msg, err := h.service.SendMessage(c.UserContext(), conversationID, authedUserID(c), req.Content)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (h *Handlers) serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrSelfConversation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotAParticipant):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrConversationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrResolutionFailed), errors.Is(err, service.ErrAppendFailed):
		// Retryable by re-resolving / re-sending; never silently retried here.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("Unhandled service error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
