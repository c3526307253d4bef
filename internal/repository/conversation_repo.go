package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/models"
)

// ConversationRepository owns conversations, their participant sets and unread counters.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	FindByID(ctx context.Context, id string) (models.Conversation, error)
	FindDirect(ctx context.Context, userA, userB string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	AppendMessageRef(ctx context.Context, conversationID, messageID string) error
	IncrementUnread(ctx context.Context, conversationID, participantID string) error
	IncrementUnreadExcept(ctx context.Context, conversationID, senderID string) error
	ResetUnread(ctx context.Context, conversationID, participantID string) error
	UpdateStatus(ctx context.Context, conversationID string, from, to models.ConversationStatus) error
	Delete(ctx context.Context, conversationID string) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a conversation repository backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	ids := conversation.ParticipantIDs()
	if len(ids) != 2 || ids[0] == ids[1] {
		return fmt.Errorf("direct conversation requires two distinct participants")
	}
	conversation.PairKey = models.DirectPairKey(ids[0], ids[1])

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(conversation).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateConversation
	}
	return err
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (models.Conversation, error) {
	var conversation models.Conversation
	if err := r.withParticipants(ctx).First(&conversation, "id = ?", id).Error; err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) FindDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.withParticipants(ctx).
		Where("pair_key = ?", models.DirectPairKey(userA, userB)).
		First(&conversation).Error
	if err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.withParticipants(ctx).
		Joins("JOIN conversation_participants AS membership ON membership.conversation_id = conversations.id AND membership.user_id = ?", userID).
		Where("(conversations.status = ? OR (conversations.status = ? AND conversations.requested_by <> ?))",
			models.ConversationStatusActive, models.ConversationStatusPending, userID).
		Order("conversations.updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *conversationRepository) AppendMessageRef(ctx context.Context, conversationID, messageID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *conversationRepository) IncrementUnread(ctx context.Context, conversationID, participantID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, participantID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).
		Error
}

func (r *conversationRepository) IncrementUnreadExcept(ctx context.Context, conversationID, senderID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id <> ?", conversationID, senderID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).
		Error
}

func (r *conversationRepository) ResetUnread(ctx context.Context, conversationID, participantID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, participantID).
		UpdateColumn("unread_count", 0).
		Error
}

func (r *conversationRepository) UpdateStatus(ctx context.Context, conversationID string, from, to models.ConversationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND status = ?", conversationID, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Delete archives the conversation. The pair key is rewritten first so the pair can start a new
// conversation later; messages are kept.
func (r *conversationRepository) Delete(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conversation models.Conversation
		if err := tx.First(&conversation, "id = ?", conversationID).Error; err != nil {
			return err
		}

		archivedKey := conversation.PairKey + "#" + conversation.ID
		if err := tx.Model(&conversation).UpdateColumn("pair_key", archivedKey).Error; err != nil {
			return err
		}

		return tx.Delete(&conversation).Error
	})
}

func (r *conversationRepository) withParticipants(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}
