package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/medilink-api/internal/models"
)

// UserRepository exposes the slice of the user directory the messaging core depends on.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	IsConnected(ctx context.Context, userA, userB string) (bool, error)
	Connect(ctx context.Context, userA, userB string) error
	Disconnect(ctx context.Context, userA, userB string) error
	ListConnections(ctx context.Context, userID string) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) IsConnected(ctx context.Context, userA, userB string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UserConnection{}).
		Where("user_id = ? AND connection_id = ?", userA, userB).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Connect records the connection in both directions.
func (r *userRepository) Connect(ctx context.Context, userA, userB string) error {
	rows := []models.UserConnection{
		{UserID: userA, ConnectionID: userB},
		{UserID: userB, ConnectionID: userA},
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// Disconnect removes the connection in both directions.
func (r *userRepository) Disconnect(ctx context.Context, userA, userB string) error {
	return r.db.WithContext(ctx).
		Where("(user_id = ? AND connection_id = ?) OR (user_id = ? AND connection_id = ?)", userA, userB, userB, userA).
		Delete(&models.UserConnection{}).Error
}

func (r *userRepository) ListConnections(ctx context.Context, userID string) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Joins("JOIN user_connections ON user_connections.connection_id = users.id").
		Where("user_connections.user_id = ?", userID).
		Order("users.name ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
