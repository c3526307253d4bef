package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AttachmentKind classifies message attachments.
type AttachmentKind string

const (
	AttachmentKindImage AttachmentKind = "image"
	AttachmentKindVideo AttachmentKind = "video"
	AttachmentKindFile  AttachmentKind = "file"
)

// Attachment references uploaded media attached to a message.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
}

// Message is an entry in a conversation. Only its read receipts change after creation.
// Seq numbers messages per conversation in insertion order.
type Message struct {
	ID             string                          `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string                          `gorm:"size:36;not null;index:idx_messages_conversation_created,priority:1;uniqueIndex:idx_messages_conversation_seq,priority:1" json:"conversation_id"`
	Seq            int64                           `gorm:"not null;uniqueIndex:idx_messages_conversation_seq,priority:2" json:"seq"`
	SenderID       string                          `gorm:"size:36;not null;index" json:"sender_id"`
	Text           string                          `gorm:"type:text;not null;default:''" json:"text"`
	Attachments    datatypes.JSONSlice[Attachment] `json:"attachments"`
	Reads          []MessageRead                   `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt      time.Time                       `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ReadBy returns the ids of users holding a read receipt for the message.
func (m Message) ReadBy() []string {
	ids := make([]string, 0, len(m.Reads))
	for _, read := range m.Reads {
		ids = append(ids, read.UserID)
	}
	return ids
}

// MessageRead is a read receipt; the composite key gives readBy its set semantics.
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:36;index" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
