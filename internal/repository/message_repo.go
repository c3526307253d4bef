package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/models"
)

const maxSequenceAttempts = 5

// MessageRepository persists conversation messages and their read receipts.
type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	MarkReadExcept(ctx context.Context, conversationID, readerID string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Append stores the message together with the sender's own read receipt and
// assigns the next sequence number of its conversation.
func (r *messageRepository) Append(ctx context.Context, message *models.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.Reads = []models.MessageRead{{UserID: message.SenderID, ReadAt: message.CreatedAt}}

	var err error
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var last int64
			if err := tx.Model(&models.Message{}).
				Where("conversation_id = ?", message.ConversationID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			message.Seq = last + 1
			return tx.Create(message).Error
		})
		// A concurrent writer took the same sequence number.
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return err
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Preload("Reads").First(&message, "id = ?", id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Message, error) {
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	var messages []models.Message
	if err := r.db.WithContext(ctx).Preload("Reads").Where("id IN ?", ids).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Preload("Reads", func(db *gorm.DB) *gorm.DB {
			return db.Order("read_at ASC")
		}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkReadExcept adds a receipt for the reader to every message that lacks one. Repeated calls are no-ops.
func (r *messageRepository) MarkReadExcept(ctx context.Context, conversationID, readerID string) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, ?, ? FROM messages AS m
		WHERE m.conversation_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM message_reads AS mr WHERE mr.message_id = m.id AND mr.user_id = ?
		)`, readerID, time.Now().UTC(), conversationID, readerID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
