// Package messages implements direct messages between conversation members.
// Deleting a message only flags it; the purge scheduler removes flagged rows.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxContentLength bounds a single message body
const MaxContentLength = 4000

// Emitter publishes events to rooms
type Emitter interface {
	Emit(room, event string, payload interface{})
	EmitToUser(userID, event string, payload interface{})
}

// Notifier creates MESSAGE notifications for recipients
type Notifier interface {
	Create(ctx context.Context, in notifications.CreateInput) (*models.Notification, bool, error)
}

// Service sends and deletes direct messages
type Service struct {
	db       *gorm.DB
	emitter  Emitter
	notifier Notifier
}

// NewService creates a message service. emitter and notifier may be nil.
func NewService(db *gorm.DB, emitter Emitter, notifier Notifier) *Service {
	return &Service{db: db, emitter: emitter, notifier: notifier}
}

// CreateConversation starts a conversation between memberIDs
func (s *Service) CreateConversation(ctx context.Context, memberIDs ...string) (*models.Conversation, error) {
	seen := make(map[string]struct{}, len(memberIDs))
	conv := &models.Conversation{}
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		conv.Members = append(conv.Members, models.ConversationMember{UserID: id})
	}
	if len(conv.Members) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least two members", apperrors.ErrInvalidInput)
	}

	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// MemberIDs returns the members of conversationID
func (s *Service) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", conversationID, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, apperrors.ErrRecordNotFound)
	}
	return ids, nil
}

// CheckMember returns ErrRecordNotFound for an unknown conversation and
// ErrPermissionDenied when userID is not one of its members.
func (s *Service) CheckMember(ctx context.Context, conversationID, userID string) error {
	ids, err := s.MemberIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == userID {
			return nil
		}
	}
	return fmt.Errorf("user %s in conversation %s: %w", userID, conversationID, apperrors.ErrPermissionDenied)
}

// Send stores a message and delivers it to the open conversation views and to the
// other members' personal rooms.
func (s *Service) Send(ctx context.Context, senderID, conversationID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", apperrors.ErrInvalidInput)
	}
	if len(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", apperrors.ErrInvalidInput, MaxContentLength)
	}

	members, err := s.MemberIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !contains(members, senderID) {
		return nil, fmt.Errorf("user %s in conversation %s: %w", senderID, conversationID, apperrors.ErrPermissionDenied)
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	if s.emitter != nil {
		s.emitter.Emit(websocket.ConversationRoom(conversationID), websocket.EventMessageReceived, msg)
	}
	for _, id := range members {
		if id == senderID {
			continue
		}
		if s.emitter != nil {
			s.emitter.EmitToUser(id, websocket.EventSendMessageToConversation, msg)
		}
		s.notify(ctx, senderID, id)
	}
	return msg, nil
}

func (s *Service) notify(ctx context.Context, senderID, receiverID string) {
	if s.notifier == nil {
		return
	}
	_, _, err := s.notifier.Create(ctx, notifications.CreateInput{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Type:       models.NotificationMessage,
		Message:    "sent you a message",
	})
	if err != nil {
		logger.Log.Warn("Failed to create message notification",
			logger.WithUserID(receiverID),
			zap.Error(err))
	}
}

// SoftDelete flags one of userID's own messages as deleted
func (s *Service) SoftDelete(ctx context.Context, userID, messageID string) error {
	var msg models.Message
	err := s.db.WithContext(ctx).Take(&msg, "id = ? AND is_deleted = ?", messageID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("message %s: %w", messageID, apperrors.ErrRecordNotFound)
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != userID {
		return fmt.Errorf("message %s: %w", messageID, apperrors.ErrPermissionDenied)
	}

	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", messageID, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("delete message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", messageID, apperrors.ErrRecordNotFound)
	}
	return nil
}

// List returns the visible messages of a conversation, oldest first
func (s *Service) List(ctx context.Context, userID, conversationID string, limit int) ([]models.Message, error) {
	if err := s.CheckMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
