package repository

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.UserConnection{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.Notification{},
	))
	return db
}

func directConversation(a, b string, status models.ConversationStatus, requestedBy string) *models.Conversation {
	return &models.Conversation{
		Status:      status,
		RequestedBy: requestedBy,
		Participants: []models.ConversationParticipant{
			{UserID: a, Position: 0},
			{UserID: b, Position: 1},
		},
	}
}
