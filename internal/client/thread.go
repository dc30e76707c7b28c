// Package client maintains a local view of a user's conversations: the
// conversation list and one thread view per open conversation. Outgoing
// messages are inserted optimistically as local echoes and reconciled
// against the server's confirmed records and realtime pushes so that the
// same logical message is never shown twice and a sent message is never
// lost, even when the push beats the synchronous response.
//
// Types in this package are not safe for concurrent use. The owning
// session drains Events() and SendResults() from a single goroutine and
// calls all mutating methods from it, mirroring a UI event loop.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/models"
)

type EntryState int

const (
	// EntryPending is a local echo awaiting server confirmation.
	EntryPending EntryState = iota
	// EntryConfirmed is an authoritative server record.
	EntryConfirmed
	// EntryFailed is a local echo whose append was rejected. It stays
	// visible to the sender, excluded from the authoritative order, and
	// is never retried automatically.
	EntryFailed
)

// Entry is one visible row of a thread: either a confirmed message or a
// local echo in flight or failed. TempID is set for entries that began as
// an echo, including after confirmation.
type Entry struct {
	State   EntryState
	TempID  string
	Message models.Message
}

type ThreadState int

const (
	ThreadIdle ThreadState = iota
	ThreadLoading
	ThreadLive
)

// API is the server surface the engine calls. Append blocks until the
// write is durable or rejected.
type API interface {
	History(ctx context.Context, conversationID string) ([]*models.Message, error)
	Append(ctx context.Context, conversationID, content string) (*models.Message, error)
}

// Subscription mirrors stream.Subscription so the engine does not depend
// on the transport package.
type Subscription interface {
	Events() <-chan *models.Message
	Close()
}

type SubscribeFunc func(ctx context.Context, conversationID string) (Subscription, error)

// SendResult is the outcome of one optimistic send, delivered on
// SendResults() for the owner to feed back via ApplySendResult.
type SendResult struct {
	TempID  string
	Message *models.Message
	Err     error
}

// Thread is the reconciled view of one open conversation.
type Thread struct {
	conversationID string
	viewerID       string
	api            API
	log            *logrus.Entry

	state   ThreadState
	entries []Entry
	seen    map[string]struct{}
	sub     Subscription
	results chan SendResult
	done    chan struct{}
	closed  bool
}

func NewThread(api API, conversationID, viewerID string, logger *logrus.Logger) *Thread {
	return &Thread{
		conversationID: conversationID,
		viewerID:       viewerID,
		api:            api,
		log: logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
		}),
		state:   ThreadIdle,
		seen:    make(map[string]struct{}),
		results: make(chan SendResult, 16),
		done:    make(chan struct{}),
	}
}

func (t *Thread) State() ThreadState { return t.state }

// Entries returns a copy of the current view in display order.
func (t *Thread) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Events is the live push channel. Valid once the thread is Live; the
// owner must drain it and feed each message to ApplyPush.
func (t *Thread) Events() <-chan *models.Message {
	if t.sub == nil {
		return nil
	}
	return t.sub.Events()
}

// SendResults delivers append outcomes for sends issued via Send. The
// owner feeds each result to ApplySendResult.
func (t *Thread) SendResults() <-chan SendResult {
	return t.results
}

// Open moves the thread Idle → Loading → Live: it subscribes, fetches
// history, and de-duplicates any push that raced the history read. Both
// steps complete before the thread reports Live.
func (t *Thread) Open(ctx context.Context, subscribe SubscribeFunc) error {
	if t.state != ThreadIdle || t.closed {
		return fmt.Errorf("thread is already open")
	}
	return t.sync(ctx, subscribe)
}

// Resync recovers from a dropped subscription: it discards the old handle,
// resubscribes, and replays history through the same de-duplicating merge,
// so no gap message is lost and no overlap message is duplicated. Pending
// and failed echoes survive the resync.
func (t *Thread) Resync(ctx context.Context, subscribe SubscribeFunc) error {
	if t.closed {
		return fmt.Errorf("thread is closed")
	}
	if t.sub != nil {
		t.sub.Close()
		t.sub = nil
	}
	return t.sync(ctx, subscribe)
}

func (t *Thread) sync(ctx context.Context, subscribe SubscribeFunc) error {
	t.state = ThreadLoading

	sub, err := subscribe(ctx, t.conversationID)
	if err != nil {
		t.state = ThreadIdle
		return fmt.Errorf("subscribe: %w", err)
	}

	history, err := t.api.History(ctx, t.conversationID)
	if err != nil {
		sub.Close()
		t.state = ThreadIdle
		return fmt.Errorf("history: %w", err)
	}

	for _, msg := range history {
		t.ApplyPush(msg)
	}

	// Pushes that landed between subscribing and reading history are
	// sitting in the channel buffer; merge them before going live.
drain:
	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				t.state = ThreadIdle
				return fmt.Errorf("subscription closed during load")
			}
			t.ApplyPush(msg)
		default:
			break drain
		}
	}

	t.sub = sub
	t.state = ThreadLive
	t.log.WithField("entries", len(t.entries)).Debug("Thread live")
	return nil
}

// Send inserts a local echo immediately and issues the append in the
// background. The echo is visible to the caller before the network round
// trip starts; the result arrives on SendResults. If the thread closes
// while the append is in flight, the append still completes server-side
// and its confirmation is discarded locally.
func (t *Thread) Send(ctx context.Context, content string) string {
	tempID := "temp-" + uuid.New().String()
	t.entries = append(t.entries, Entry{
		State:  EntryPending,
		TempID: tempID,
		Message: models.Message{
			ConversationID: t.conversationID,
			SenderID:       t.viewerID,
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		},
	})

	go func() {
		msg, err := t.api.Append(ctx, t.conversationID, content)
		select {
		case t.results <- SendResult{TempID: tempID, Message: msg, Err: err}:
		case <-t.done:
		}
	}()

	return tempID
}

// ApplySendResult reconciles an append outcome: success replaces the echo
// in place with the confirmed record; failure marks the echo failed. Both
// are no-ops when a realtime push already confirmed the entry.
func (t *Thread) ApplySendResult(res SendResult) {
	idx := t.indexByTempID(res.TempID)

	if res.Err != nil {
		if idx >= 0 && t.entries[idx].State == EntryPending {
			t.entries[idx].State = EntryFailed
			t.log.WithError(res.Err).Warn("Send failed")
		}
		return
	}

	if _, dup := t.seen[res.Message.ID]; dup {
		// The push beat the response and already confirmed this entry.
		return
	}

	if idx >= 0 && t.entries[idx].State == EntryPending {
		t.entries[idx].State = EntryConfirmed
		t.entries[idx].Message = *res.Message
		t.seen[res.Message.ID] = struct{}{}
		return
	}

	t.insertConfirmed(res.Message)
}

// ApplyPush merges one realtime event into the view. Duplicate delivery of
// a confirmed id is dropped; a push matching one of the viewer's pending
// echoes confirms that echo in place; anything else is inserted in
// (created-at, id) order among the confirmed entries.
func (t *Thread) ApplyPush(msg *models.Message) {
	if _, dup := t.seen[msg.ID]; dup {
		return
	}

	if msg.SenderID == t.viewerID {
		for i := range t.entries {
			e := &t.entries[i]
			if e.State == EntryPending && e.Message.Content == msg.Content {
				e.State = EntryConfirmed
				e.Message = *msg
				t.seen[msg.ID] = struct{}{}
				return
			}
		}
	}

	t.insertConfirmed(msg)
}

// Close releases the subscription. In-flight sends complete in the
// background against the server; their confirmations are dropped.
func (t *Thread) Close() {
	if t.closed {
		return
	}
	t.closed = true
	if t.sub != nil {
		t.sub.Close()
		t.sub = nil
	}
	close(t.done)
	t.state = ThreadIdle
}

func (t *Thread) indexByTempID(tempID string) int {
	for i := range t.entries {
		if t.entries[i].TempID == tempID {
			return i
		}
	}
	return -1
}

// insertConfirmed places msg so the confirmed subsequence stays ordered by
// (created-at, id). Echoes at the tail keep their staged positions.
func (t *Thread) insertConfirmed(msg *models.Message) {
	idx := len(t.entries)
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.State != EntryConfirmed {
			continue
		}
		if !msg.Less(&e.Message) {
			break
		}
		idx = i
	}

	entry := Entry{State: EntryConfirmed, Message: *msg}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = entry
	t.seen[msg.ID] = struct{}{}
}
