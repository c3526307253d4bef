package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationType enumerates the social events that produce notifications.
type NotificationType string

const (
	NotificationTypeConnectionRequest NotificationType = "connection_request"
	NotificationTypeConnectionAccept  NotificationType = "connection_accept"
	NotificationTypeLike              NotificationType = "like"
	NotificationTypeComment           NotificationType = "comment"
)

// NotificationStatus tracks the recipient's answer to a connection request.
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusAccepted   NotificationStatus = "accepted"
	NotificationStatusRejected   NotificationStatus = "rejected"
	NotificationStatusMaybeLater NotificationStatus = "maybe_later"
)

// Notification is a persisted social event addressed to a single recipient.
type Notification struct {
	ID        string             `gorm:"primaryKey;size:36" json:"id"`
	UserID    string             `gorm:"size:36;not null;index" json:"user_id"`
	SenderID  string             `gorm:"size:36;not null;index" json:"sender_id"`
	Type      NotificationType   `gorm:"size:32;not null;index" json:"type"`
	Message   string             `gorm:"type:text" json:"message"`
	IsRead    bool               `gorm:"not null;default:false" json:"is_read"`
	Status    NotificationStatus `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time          `gorm:"index" json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// IsFinal reports whether the request was already answered definitively.
func (n Notification) IsFinal() bool {
	return n.Status == NotificationStatusAccepted || n.Status == NotificationStatusRejected
}
