package stream

import (
	"fmt"
	"testing"
	"time"

	"pulsefeed/messaging-service/internal/models"
)

func TestSubjectPerConversation(t *testing.T) {
	s := &Stream{subjectPrefix: "messages"}

	if got := s.subject("conv-1"); got != "messages.conv-1" {
		t.Fatalf("subject = %q, want %q", got, "messages.conv-1")
	}
	if s.subject("conv-1") == s.subject("conv-2") {
		t.Fatal("different conversations share a subject")
	}
}

func newTestSubscription() *subscription {
	sub := &subscription{
		inbox:  make(chan *models.Message, 8),
		events: make(chan *models.Message, 8),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub
}

func TestSubscriptionDeliversInOrder(t *testing.T) {
	sub := newTestSubscription()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		sub.inbox <- &models.Message{ID: fmt.Sprintf("m%d", i)}
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-sub.Events():
			if msg.ID != fmt.Sprintf("m%d", i) {
				t.Fatalf("event %d = %s, out of order", i, msg.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSubscriptionCloseEndsEvents(t *testing.T) {
	sub := newTestSubscription()
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected events channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Close")
	}

	// Closing twice is safe.
	sub.Close()
}

func TestSubscriptionCloseUnblocksProducer(t *testing.T) {
	sub := newTestSubscription()
	sub.Close()

	// A consume callback racing Close must not block forever.
	delivered := make(chan struct{})
	go func() {
		select {
		case sub.inbox <- &models.Message{ID: "late"}:
		case <-sub.done:
		}
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("producer blocked after Close")
	}
}
