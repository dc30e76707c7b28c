package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/models"
	"pulsefeed/messaging-service/internal/repository"
	"pulsefeed/messaging-service/internal/stream"
)

// Subscriber opens live message subscriptions; satisfied by *stream.Stream.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (stream.Subscription, error)
}

type MessagingService interface {
	ResolveConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	SendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error)
	History(ctx context.Context, conversationID, userID string, limit int, beforeMessageID string) ([]*models.Message, error)
	Subscribe(ctx context.Context, conversationID, userID string) (stream.Subscription, error)
}

type messagingService struct {
	repository repository.ConversationRepository
	publisher  stream.Publisher
	subscriber Subscriber
	logger     *logrus.Logger
}

func NewMessagingService(repo repository.ConversationRepository, pub stream.Publisher, sub Subscriber, logger *logrus.Logger) MessagingService {
	return &messagingService{
		repository: repo,
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
	}
}

// ResolveConversation finds or atomically creates the single conversation
// between two users. The repository serializes concurrent creations on the
// unordered-pair constraint, so both callers resolve to the same id.
func (s *messagingService) ResolveConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, error) {
	if userID == otherUserID {
		return nil, ErrSelfConversation
	}

	conv, created, err := s.repository.FindOrCreateConversation(ctx, userID, otherUserID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to resolve conversation")
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	if created {
		s.logger.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"user_id":         userID,
			"other_user_id":   otherUserID,
		}).Info("Conversation created")
	}

	return conv, nil
}

func (s *messagingService) ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	summaries, err := s.repository.ListUserConversations(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list conversations")
		return nil, err
	}

	return summaries, nil
}

// SendMessage appends to the conversation's log and then publishes the
// confirmed record to the realtime channel. A publish failure is logged
// but not returned: the write is durable and subscribers recover the gap
// through a history resync.
func (s *messagingService) SendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrAppendFailed)
	}

	ok, err := s.repository.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to check participant")
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	if !ok {
		return nil, ErrNotAParticipant
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	if err := s.repository.AppendMessage(ctx, msg); err != nil {
		s.logger.WithError(err).Error("Failed to append message")
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to publish message event")
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": conversationID,
		"sender_id":       senderID,
	}).Info("Message sent")

	return msg, nil
}

func (s *messagingService) History(ctx context.Context, conversationID, userID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	ok, err := s.repository.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAParticipant
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	messages, err := s.repository.Messages(ctx, conversationID, limit, beforeMessageID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get message history")
		return nil, err
	}

	return messages, nil
}

func (s *messagingService) Subscribe(ctx context.Context, conversationID, userID string) (stream.Subscription, error) {
	ok, err := s.repository.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAParticipant
	}

	return s.subscriber.Subscribe(ctx, conversationID)
}
