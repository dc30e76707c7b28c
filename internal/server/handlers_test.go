package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"pulsefeed/messaging-service/internal/models"
	"pulsefeed/messaging-service/internal/service"
	"pulsefeed/messaging-service/internal/stream"
)

const testSecret = "test-secret"

type stubService struct {
	resolveErr error
	sendErr    error
	historyErr error

	lastUserID  string
	lastContent string
}

func (s *stubService) ResolveConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, error) {
	s.lastUserID = userID
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return &models.Conversation{
		ID:            "conv-1",
		PairKey:       models.PairKey(userID, otherUserID),
		CreatedAt:     time.Now().UTC(),
		LastMessageAt: time.Now().UTC(),
	}, nil
}

func (s *stubService) ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	s.lastUserID = userID
	return []*models.ConversationSummary{{ID: "conv-1", OtherUserID: "user-b"}}, nil
}

func (s *stubService) SendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	s.lastUserID = senderID
	s.lastContent = content
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &models.Message{
		ID:             "msg-1",
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (s *stubService) History(ctx context.Context, conversationID, userID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	s.lastUserID = userID
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return []*models.Message{{ID: "msg-1", ConversationID: conversationID, SenderID: "user-b", Content: "hey"}}, nil
}

func (s *stubService) Subscribe(ctx context.Context, conversationID, userID string) (stream.Subscription, error) {
	return nil, service.ErrNotAParticipant
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testApp(svc service.MessagingService) *fiber.App {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(svc, testSecret, logger)
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestAuthMissingToken(t *testing.T) {
	app := testApp(&stubService{})

	resp := doJSON(t, app, http.MethodGet, "/api/conversations", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	app := testApp(&stubService{})

	resp := doJSON(t, app, http.MethodGet, "/api/conversations", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthTokenFromQueryParam(t *testing.T) {
	svc := &stubService{}
	app := testApp(svc)

	req, _ := http.NewRequest(http.MethodGet, "/api/conversations?token="+signToken(t, "user-a"), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if svc.lastUserID != "user-a" {
		t.Fatalf("authenticated user not propagated, got %q", svc.lastUserID)
	}
}

func TestResolveConversation(t *testing.T) {
	svc := &stubService{}
	app := testApp(svc)

	resp := doJSON(t, app, http.MethodPost, "/api/conversations", signToken(t, "user-a"),
		map[string]string{"recipient_id": "7be2f6ab-0a6c-4c9d-94bb-84c2a0a1d2c3"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var conv models.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.ID != "conv-1" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if svc.lastUserID != "user-a" {
		t.Fatalf("caller identity not taken from token, got %q", svc.lastUserID)
	}
}

func TestResolveConversationInvalidRecipient(t *testing.T) {
	app := testApp(&stubService{})

	resp := doJSON(t, app, http.MethodPost, "/api/conversations", signToken(t, "user-a"),
		map[string]string{"recipient_id": "not-a-uuid"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestResolveConversationSelf(t *testing.T) {
	app := testApp(&stubService{resolveErr: service.ErrSelfConversation})

	resp := doJSON(t, app, http.MethodPost, "/api/conversations", signToken(t, "user-a"),
		map[string]string{"recipient_id": "7be2f6ab-0a6c-4c9d-94bb-84c2a0a1d2c3"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestResolveConversationFailedIsRetryable(t *testing.T) {
	app := testApp(&stubService{resolveErr: fmt.Errorf("%w: constraint", service.ErrResolutionFailed)})

	resp := doJSON(t, app, http.MethodPost, "/api/conversations", signToken(t, "user-a"),
		map[string]string{"recipient_id": "7be2f6ab-0a6c-4c9d-94bb-84c2a0a1d2c3"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	svc := &stubService{}
	app := testApp(svc)

	resp := doJSON(t, app, http.MethodPost, "/api/conversations/conv-1/messages", signToken(t, "user-a"),
		map[string]string{"content": "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var msg models.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID != "msg-1" || msg.Content != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendMessageNotAParticipant(t *testing.T) {
	app := testApp(&stubService{sendErr: service.ErrNotAParticipant})

	resp := doJSON(t, app, http.MethodPost, "/api/conversations/conv-1/messages", signToken(t, "user-c"),
		map[string]string{"content": "hello"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	app := testApp(&stubService{})

	resp := doJSON(t, app, http.MethodPost, "/api/conversations/conv-1/messages", signToken(t, "user-a"),
		map[string]string{"content": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetMessages(t *testing.T) {
	app := testApp(&stubService{})

	resp := doJSON(t, app, http.MethodGet, "/api/conversations/conv-1/messages?limit=10", signToken(t, "user-a"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var msgs []models.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hey" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestListConversations(t *testing.T) {
	app := testApp(&stubService{})

	resp := doJSON(t, app, http.MethodGet, "/api/conversations", signToken(t, "user-a"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var list []models.ConversationSummary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "conv-1" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
