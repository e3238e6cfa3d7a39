package models

import (
	"time"

	"gorm.io/gorm"
)

// StoryLifetime is how long a story stays visible after posting
const StoryLifetime = 24 * time.Hour

// Story is an ephemeral post that expires after StoryLifetime
type Story struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"not null;index" json:"user_id"`
	MediaURL  string    `gorm:"not null" json:"media_url"`
	Caption   string    `gorm:"type:text" json:"caption,omitempty"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Story) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateUUID()
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().UTC().Add(StoryLifetime)
	}
	return nil
}
