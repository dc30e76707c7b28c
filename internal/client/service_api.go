package client

import (
	"context"

	"pulsefeed/messaging-service/internal/models"
	"pulsefeed/messaging-service/internal/service"
)

// ServiceAPI adapts the messaging service to the engine's API for
// same-process sessions (and tests); remote sessions plug in a transport
// adapter instead.
type ServiceAPI struct {
	svc      service.MessagingService
	viewerID string
}

func NewServiceAPI(svc service.MessagingService, viewerID string) *ServiceAPI {
	return &ServiceAPI{svc: svc, viewerID: viewerID}
}

func (a *ServiceAPI) History(ctx context.Context, conversationID string) ([]*models.Message, error) {
	return a.svc.History(ctx, conversationID, a.viewerID, 0, "")
}

func (a *ServiceAPI) Append(ctx context.Context, conversationID, content string) (*models.Message, error) {
	return a.svc.SendMessage(ctx, conversationID, a.viewerID, content)
}

// Subscribe satisfies SubscribeFunc when bound as a method value.
func (a *ServiceAPI) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	return a.svc.Subscribe(ctx, conversationID, a.viewerID)
}
