package models

import (
	"strings"
	"time"
)

type Conversation struct {
	ID            string    `json:"id"`
	PairKey       string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationSummary is one row of a user's conversation list: the
// conversation, the other party, and a preview of the latest message.
type ConversationSummary struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	LastMessageAt     time.Time `json:"last_message_at"`
	OtherUserID       string    `json:"other_user_id"`
	LastMessage       string    `json:"last_message,omitempty"`
	LastMessageSender string    `json:"last_message_sender,omitempty"`
}

// PairKey canonicalizes an unordered pair of user ids. The two-party
// uniqueness constraint hangs off this value, so both orderings of the
// same pair must produce the same key.
func PairKey(userID1, userID2 string) string {
	if strings.Compare(userID1, userID2) > 0 {
		userID1, userID2 = userID2, userID1
	}
	return userID1 + ":" + userID2
}

// Less reports whether m sorts before other in conversation order:
// created-at ascending, message id as the tie-break.
func (m *Message) Less(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
