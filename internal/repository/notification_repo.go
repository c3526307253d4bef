package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/models"
)

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	FindByID(ctx context.Context, id string) (models.Notification, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (models.Notification, error)
	FindOpenRequest(ctx context.Context, userA, userB string) (models.Notification, error)
	UpdateStatus(ctx context.Context, id string, from []models.NotificationStatus, to models.NotificationStatus) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) FindByID(ctx context.Context, id string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).First(&notification, "id = ?", id).Error; err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var notifications []models.Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, userID string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.IsRead {
		return notification, nil
	}

	if err := r.db.WithContext(ctx).Model(&notification).Update("is_read", true).Error; err != nil {
		return models.Notification{}, err
	}
	notification.IsRead = true

	return notification, nil
}

// FindOpenRequest returns a connection request between the two users, in either direction,
// that is still awaiting an answer (pending or deferred).
func (r *notificationRepository) FindOpenRequest(ctx context.Context, userA, userB string) (models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).
		Where("type = ?", models.NotificationTypeConnectionRequest).
		Where("status IN ?", []models.NotificationStatus{models.NotificationStatusPending, models.NotificationStatusMaybeLater}).
		Where("((sender_id = ? AND user_id = ?) OR (sender_id = ? AND user_id = ?))", userA, userB, userB, userA).
		Order("created_at DESC").
		First(&notification).Error
	if err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (r *notificationRepository) UpdateStatus(ctx context.Context, id string, from []models.NotificationStatus, to models.NotificationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
