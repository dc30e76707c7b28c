package client

import (
	"sort"

	"pulsefeed/messaging-service/internal/models"
)

// ConversationList is the local, last-activity-ordered list of the
// viewer's conversations. Like Thread, it is owned by one session and not
// safe for concurrent use.
type ConversationList struct {
	viewerID string
	items    []*models.ConversationSummary
}

func NewConversationList(viewerID string) *ConversationList {
	return &ConversationList{viewerID: viewerID}
}

// Replace swaps in a server-fetched list, already ordered or not.
func (l *ConversationList) Replace(items []*models.ConversationSummary) {
	l.items = make([]*models.ConversationSummary, len(items))
	copy(l.items, items)
	l.resort()
}

// ApplyMessage updates the list after a local send or a received push:
// the conversation's preview and activity timestamp move forward and the
// list re-sorts. Unknown conversations get a new row (first contact).
func (l *ConversationList) ApplyMessage(msg *models.Message) {
	for _, item := range l.items {
		if item.ID == msg.ConversationID {
			if msg.CreatedAt.Before(item.LastMessageAt) {
				return
			}
			item.LastMessage = msg.Content
			item.LastMessageSender = msg.SenderID
			item.LastMessageAt = msg.CreatedAt
			l.resort()
			return
		}
	}

	summary := &models.ConversationSummary{
		ID:                msg.ConversationID,
		CreatedAt:         msg.CreatedAt,
		LastMessageAt:     msg.CreatedAt,
		LastMessage:       msg.Content,
		LastMessageSender: msg.SenderID,
	}
	if msg.SenderID != l.viewerID {
		summary.OtherUserID = msg.SenderID
	}
	l.items = append(l.items, summary)
	l.resort()
}

// Items returns the list ordered by last activity, newest first.
func (l *ConversationList) Items() []*models.ConversationSummary {
	out := make([]*models.ConversationSummary, len(l.items))
	copy(out, l.items)
	return out
}

// IsOwnPreview reports whether the latest message in the summary was sent
// by the viewer ("You: …" rendering).
func (l *ConversationList) IsOwnPreview(s *models.ConversationSummary) bool {
	return s.LastMessageSender == l.viewerID
}

func (l *ConversationList) resort() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].LastMessageAt.After(l.items[j].LastMessageAt)
	})
}
