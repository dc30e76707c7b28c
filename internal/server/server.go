package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/service"
)

// New wires the HTTP API and the realtime websocket endpoint. All routes
// require a bearer token whose user_id claim is the caller's identity.
func New(svc service.MessagingService, authSecret string, logger *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	h := NewHandlers(svc, logger)
	auth := RequireAuth(authSecret)

	api := app.Group("/api", auth)
	api.Post("/conversations", h.ResolveConversation)
	api.Get("/conversations", h.ListConversations)
	api.Get("/conversations/:id/messages", h.GetMessages)
	api.Post("/conversations/:id/messages", h.SendMessage)

	app.Use("/ws", auth, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/conversations/:id", websocket.New(h.HandleSocket))

	return app
}
