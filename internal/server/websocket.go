package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// HandleSocket bridges one conversation subscription onto a websocket.
// Frames are written in the order the stream delivers them; the socket
// never reorders within a conversation. When the socket or the stream
// drops, the client refetches history before trusting new frames.
func (h *Handlers) HandleSocket(c *websocket.Conn) {
	conversationID := c.Params("id")
	userID, _ := c.Locals(userIDKey).(string)

	log := h.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"user_id":         userID,
	})

	sub, err := h.service.Subscribe(context.Background(), conversationID, userID)
	if err != nil {
		code := websocket.ClosePolicyViolation
		if !errors.Is(err, service.ErrNotAParticipant) {
			code = websocket.CloseInternalServerErr
			log.WithError(err).Error("Failed to open subscription")
		}
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()), time.Now().Add(writeWait))
		c.Close()
		return
	}
	defer sub.Close()

	log.Debug("Websocket subscription opened")

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		c.SetReadLimit(maxMessageSize)
		c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			c.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			// The socket is push-only; reads exist to surface disconnects
			// and service pong frames.
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				log.Debug("Subscription closed")
				return
			}
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			log.Debug("Websocket closed by peer")
			return
		}
	}
}
