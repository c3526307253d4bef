package database

import (
	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/models"
)

// Migrate creates or updates the tables owned by the messaging core.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserConnection{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.Notification{},
	)
}
