package models

import (
	"time"

	"gorm.io/gorm"
)

// NotificationType identifies what triggered a notification
type NotificationType string

const (
	NotificationFollow  NotificationType = "FOLLOW"
	NotificationLike    NotificationType = "LIKE"
	NotificationComment NotificationType = "COMMENT"
	NotificationReply   NotificationType = "REPLY"
	NotificationMessage NotificationType = "MESSAGE"
	NotificationLive    NotificationType = "LIVE"
)

// Valid reports whether t is one of the known notification types
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationFollow, NotificationLike, NotificationComment,
		NotificationReply, NotificationMessage, NotificationLive:
		return true
	}
	return false
}

// Notification is a persisted feed entry for ReceiverID.
// At most one unread row exists per (SenderID, ReceiverID, PostID, Type); see
// database.createIndexes for the partial unique index backing that rule.
type Notification struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	SenderID   string           `gorm:"not null;index" json:"sender_id"`
	Sender     *User            `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID string           `gorm:"not null;index:idx_notifications_receiver_created,priority:1" json:"receiver_id"`
	PostID     *string          `gorm:"size:36" json:"post_id,omitempty"`
	Type       NotificationType `gorm:"size:20;not null" json:"type"`
	Message    string           `gorm:"type:text" json:"message"`
	IsRead     bool             `gorm:"not null;default:false" json:"is_read"`
	CreatedAt  time.Time        `gorm:"index:idx_notifications_receiver_created,priority:2,sort:desc" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = generateUUID()
	}
	return nil
}
