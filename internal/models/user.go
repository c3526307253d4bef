package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User is the directory record the messaging core reads display data and device tokens from.
type User struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	Name         string                      `gorm:"size:255;not null" json:"name"`
	ProfilePic   string                      `gorm:"size:512" json:"profile_pic"`
	Role         string                      `gorm:"size:32" json:"role"`
	DeviceTokens datatypes.JSONSlice[string] `json:"-"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// UserConnection is one direction of an accepted connection between two users.
type UserConnection struct {
	UserID       string    `gorm:"primaryKey;size:36" json:"user_id"`
	ConnectionID string    `gorm:"primaryKey;size:36;index" json:"connection_id"`
	CreatedAt    time.Time `json:"created_at"`
}
