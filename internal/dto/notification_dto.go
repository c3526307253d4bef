package dto

import (
	"time"

	"github.com/noah-isme/medilink-api/internal/models"
)

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	SenderID  string       `json:"senderId"`
	Sender    *UserSummary `json:"sender,omitempty"`
	Type      string       `json:"type"`
	Message   string       `json:"message"`
	IsRead    bool         `json:"isRead"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification, sender *UserSummary) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		SenderID:  model.SenderID,
		Sender:    sender,
		Type:      string(model.Type),
		Message:   model.Message,
		IsRead:    model.IsRead,
		Status:    string(model.Status),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NotificationListQuery carries paging for the notification list.
type NotificationListQuery struct {
	Limit  int `json:"limit" query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `json:"offset" query:"offset" validate:"omitempty,min=0"`
}

// InteractionRequest reports a like or comment on a post so its author gets notified.
type InteractionRequest struct {
	Type        string `json:"type" validate:"required,oneof=like comment"`
	RecipientID string `json:"recipientId" validate:"required,max=64"`
	PostID      string `json:"postId" validate:"required,max=128"`
	Preview     string `json:"preview" validate:"max=500"`
}

// PostInteractionEvent is broadcast as postLiked or postCommented.
type PostInteractionEvent struct {
	PostID  string      `json:"postId"`
	By      UserSummary `json:"by"`
	Preview string      `json:"preview,omitempty"`
}

// PresenceResponse lists which of the requested users are online.
type PresenceResponse struct {
	Online []string `json:"online"`
}
