package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationStatus gates whether messages may be exchanged in a conversation.
type ConversationStatus string

const (
	ConversationStatusPending ConversationStatus = "pending"
	ConversationStatusActive  ConversationStatus = "active"
	ConversationStatusIgnored ConversationStatus = "ignored"
)

// Conversation is a durable direct thread between two participants.
type Conversation struct {
	ID            string                    `gorm:"primaryKey;size:36" json:"id"`
	PairKey       string                    `gorm:"size:160;not null;uniqueIndex" json:"-"`
	Title         *string                   `gorm:"size:255" json:"title,omitempty"`
	Status        ConversationStatus        `gorm:"size:16;not null;default:active;index" json:"status"`
	RequestedBy   string                    `gorm:"size:36" json:"requested_by,omitempty"`
	LastMessageID *string                   `gorm:"size:36" json:"last_message_id,omitempty"`
	Participants  []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"participants"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `gorm:"index" json:"updated_at"`
	DeletedAt     gorm.DeletedAt            `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID when none was provided.
func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ConversationParticipant carries membership and the per-participant unread counter.
type ConversationParticipant struct {
	ConversationID string `gorm:"primaryKey;size:36" json:"conversation_id"`
	UserID         string `gorm:"primaryKey;size:36;index" json:"user_id"`
	Position       int    `gorm:"not null;default:0" json:"position"`
	UnreadCount    int    `gorm:"not null;default:0" json:"unread_count"`
}

// DirectPairKey returns the order-independent key identifying the conversation of two users.
func DirectPairKey(userA, userB string) string {
	ids := []string{strings.TrimSpace(userA), strings.TrimSpace(userB)}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

// ParticipantIDs returns participant ids in creation order.
func (c Conversation) ParticipantIDs() []string {
	participants := make([]ConversationParticipant, len(c.Participants))
	copy(participants, c.Participants)
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Position < participants[j].Position
	})

	ids := make([]string, 0, len(participants))
	for _, participant := range participants {
		ids = append(ids, participant.UserID)
	}
	return ids
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, participant := range c.Participants {
		if participant.UserID == userID {
			return true
		}
	}
	return false
}

// OtherParticipants returns every participant id except the given one.
func (c Conversation) OtherParticipants(userID string) []string {
	ids := c.ParticipantIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// UnreadCounts projects participant counters into a user id keyed map.
func (c Conversation) UnreadCounts() map[string]int {
	counts := make(map[string]int, len(c.Participants))
	for _, participant := range c.Participants {
		counts[participant.UserID] = participant.UnreadCount
	}
	return counts
}
