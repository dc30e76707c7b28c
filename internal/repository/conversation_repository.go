package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"pulsefeed/messaging-service/internal/models"
)

// ErrDuplicatePair is returned when a conversation insert loses the race on
// the unordered-pair constraint and the winner's row cannot be read back.
var ErrDuplicatePair = errors.New("conversation already exists for pair")

type ConversationRepository interface {
	FindOrCreateConversation(ctx context.Context, userID1, userID2 string) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	ListUserConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	Messages(ctx context.Context, conversationID string, limit int, beforeMessageID string) ([]*models.Message, error)
	InitializeTables() error
}

type conversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) ConversationRepository {
	return &conversationRepository{
		db: db,
	}
}

func (r *conversationRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		pair_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_message_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id UUID NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_order ON messages(conversation_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at);
	`

	_, err := r.db.Exec(query)
	return err
}

// FindOrCreateConversation resolves the single conversation between two
// users, creating it together with both participant rows when absent. The
// whole operation runs in one transaction serialized by the UNIQUE pair_key
// constraint: a concurrent caller's insert is a no-op and both callers read
// back the winner's row. The boolean reports whether this call created it.
func (r *conversationRepository) FindOrCreateConversation(ctx context.Context, userID1, userID2 string) (*models.Conversation, bool, error) {
	pairKey := models.PairKey(userID1, userID2)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	insertConv := `
	INSERT INTO conversations (pair_key)
	VALUES ($1)
	ON CONFLICT (pair_key) DO NOTHING
	RETURNING id
	`

	var insertedID string
	created := true
	err = tx.QueryRowContext(ctx, insertConv, pairKey).Scan(&insertedID)
	if err == sql.ErrNoRows {
		created = false
	} else if err != nil {
		return nil, false, err
	}

	selectConv := `
	SELECT id, pair_key, created_at, last_message_at
	FROM conversations
	WHERE pair_key = $1
	`

	var conv models.Conversation
	err = tx.QueryRowContext(ctx, selectConv, pairKey).Scan(
		&conv.ID, &conv.PairKey, &conv.CreatedAt, &conv.LastMessageAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, ErrDuplicatePair
		}
		return nil, false, err
	}

	insertParticipants := `
	INSERT INTO participants (conversation_id, user_id)
	VALUES ($1, $2), ($1, $3)
	ON CONFLICT (conversation_id, user_id) DO NOTHING
	`

	if _, err := tx.ExecContext(ctx, insertParticipants, conv.ID, userID1, userID2); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicatePair
		}
		return nil, false, err
	}

	return &conv, created, nil
}

func (r *conversationRepository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
	SELECT id, pair_key, created_at, last_message_at
	FROM conversations
	WHERE id = $1
	`

	var conv models.Conversation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.PairKey, &conv.CreatedAt, &conv.LastMessageAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation not found")
		}
		return nil, err
	}

	return &conv, nil
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
	SELECT EXISTS (
		SELECT 1 FROM participants
		WHERE conversation_id = $1 AND user_id = $2
	)
	`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, err
	}

	return ok, nil
}

func (r *conversationRepository) Participants(ctx context.Context, conversationID string) ([]string, error) {
	query := `
	SELECT user_id FROM participants
	WHERE conversation_id = $1
	ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

func (r *conversationRepository) ListUserConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	query := `
	SELECT c.id, c.created_at, c.last_message_at, other.user_id,
	       COALESCE(lm.content, ''), COALESCE(lm.sender_id::text, '')
	FROM conversations c
	JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
	JOIN participants other ON other.conversation_id = c.id AND other.user_id <> $1
	LEFT JOIN LATERAL (
		SELECT content, sender_id
		FROM messages m
		WHERE m.conversation_id = c.id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	) lm ON true
	ORDER BY c.last_message_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		err := rows.Scan(
			&s.ID, &s.CreatedAt, &s.LastMessageAt, &s.OtherUserID,
			&s.LastMessage, &s.LastMessageSender,
		)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// AppendMessage writes the message and advances the conversation's
// last-activity timestamp in the same transaction, so list ordering can
// never disagree with message order.
func (r *conversationRepository) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertMsg := `
	INSERT INTO messages (id, conversation_id, sender_id, content)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`

	var id string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, insertMsg,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content,
	).Scan(&id, &createdAt)
	if err != nil {
		return err
	}

	bumpConv := `UPDATE conversations SET last_message_at = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, bumpConv, createdAt, msg.ConversationID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	msg.ID = id
	msg.CreatedAt = createdAt
	return nil
}

func (r *conversationRepository) Messages(ctx context.Context, conversationID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	var query string
	var args []interface{}

	if beforeMessageID != "" {
		query = `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		  AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
		`
		args = []interface{}{conversationID, beforeMessageID, limit}
	} else {
		query = `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		`
		args = []interface{}{conversationID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
