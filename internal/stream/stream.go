package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/models"
)

// Publisher is the write side of the realtime channel.
type Publisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// Subscription is a live window onto one conversation's new messages,
// delivered in append order. Events() is closed after Close(). The handle
// is owned by exactly one open thread view and released when it closes.
type Subscription interface {
	Events() <-chan *models.Message
	Close()
}

// Stream fans newly appended messages out to conversation subscribers via
// a JetStream stream with one subject per conversation.
type Stream struct {
	nc            *nats.Conn
	js            jetstream.JetStream
	logger        *logrus.Logger
	streamName    string
	subjectPrefix string
}

func New(url, streamName, subjectPrefix string, logger *logrus.Logger) (*Stream, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.Stream(ctx, streamName)
	if err != nil {
		streamCfg := jetstream.StreamConfig{
			Name:        streamName,
			Description: "New direct messages, one subject per conversation",
			Subjects:    []string{subjectPrefix + ".*"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		}
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", streamName, err)
		}
		logger.WithField("stream", streamName).Info("Created message stream")
	}

	return &Stream{
		nc:            nc,
		js:            js,
		logger:        logger,
		streamName:    streamName,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (s *Stream) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Stream) subject(conversationID string) string {
	return s.subjectPrefix + "." + conversationID
}

// Publish pushes a durably appended message onto its conversation subject.
// Callers publish after the database commit, so subject order matches
// append order for each conversation.
func (s *Stream) Publish(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.subject(msg.ConversationID), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	}).Debug("Published message")

	return nil
}

// Subscribe opens a live subscription for one conversation. Delivery starts
// at the subscription point; clients fetch history separately to cover the
// window before it (the reconciliation engine de-duplicates the overlap).
func (s *Stream) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.streamName, jetstream.ConsumerConfig{
		FilterSubject: s.subject(conversationID),
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for conversation %q: %w", conversationID, err)
	}

	sub := &subscription{
		inbox:  make(chan *models.Message, 256),
		events: make(chan *models.Message, 256),
		done:   make(chan struct{}),
	}

	consumeCtx, err := cons.Consume(func(jsMsg jetstream.Msg) {
		var msg models.Message
		if err := json.Unmarshal(jsMsg.Data(), &msg); err != nil {
			s.logger.WithError(err).WithField("subject", jsMsg.Subject()).Error("Failed to unmarshal message event")
			return
		}
		select {
		case sub.inbox <- &msg:
		case <-sub.done:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming conversation %q: %w", conversationID, err)
	}

	sub.consume = consumeCtx
	go sub.pump()

	s.logger.WithField("conversation_id", conversationID).Debug("Opened subscription")
	return sub, nil
}

type subscription struct {
	inbox   chan *models.Message
	events  chan *models.Message
	done    chan struct{}
	consume jetstream.ConsumeContext
	once    sync.Once
}

// pump is the only goroutine that writes to (and closes) events, so a
// consume callback racing Close can never send on a closed channel.
func (s *subscription) pump() {
	defer close(s.events)
	for {
		select {
		case msg := <-s.inbox:
			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Events() <-chan *models.Message {
	return s.events
}

func (s *subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.consume != nil {
			s.consume.Stop()
		}
	})
}
