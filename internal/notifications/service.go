package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hearth-social/backend/internal/email"
	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/metrics"
	"github.com/hearth-social/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventNotifyUser is pushed to the receiver's user room for every new notification
const EventNotifyUser = "notify_user"

const (
	DefaultLimit = 20
	MaxLimit     = 100

	mailTimeout = 10 * time.Second
)

// Emitter delivers an event to every connection of one user
type Emitter interface {
	EmitToUser(userID, event string, payload interface{})
}

// PresenceChecker answers whether a user currently has an open connection
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// Mailer sends the e-mail fallback for users who are offline when notified
type Mailer interface {
	SendNotificationEmail(ctx context.Context, n email.Notification) error
}

// CreateInput describes a notification to create
type CreateInput struct {
	SenderID   string
	ReceiverID string
	PostID     *string
	Type       models.NotificationType
	Message    string
}

// Push is the notify_user payload: the notification plus a preview of its sender
type Push struct {
	*models.Notification
	Avatar   string `json:"avatar"`
	FullName string `json:"fullName"`
}

// Service owns notification rows and keeps the page cache coherent with them
type Service struct {
	db       *gorm.DB
	cache    *Cache
	emitter  Emitter
	presence PresenceChecker
	mailer   Mailer
}

// NewService creates a notification service. emitter and presence may be nil.
func NewService(db *gorm.DB, cache *Cache, emitter Emitter, presence PresenceChecker) *Service {
	return &Service{
		db:       db,
		cache:    cache,
		emitter:  emitter,
		presence: presence,
	}
}

// SetMailer enables e-mail delivery to offline receivers
func (s *Service) SetMailer(m Mailer) {
	s.mailer = m
}

// Normalize clamps page and limit to the accepted range
func Normalize(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// List returns one page of userID's notifications, newest first, reading through the cache
func (s *Service) List(ctx context.Context, userID string, page, limit int) (*Page, error) {
	page, limit = Normalize(page, limit)

	// Taken before the read so a write that commits meanwhile keeps this page out of the cache
	gen := s.cache.Generation(userID)
	if p, ok := s.cache.GetPage(ctx, userID, page, limit); ok {
		return p, nil
	}

	var rows []models.Notification
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("receiver_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &Page{Notifications: rows, UnreadCount: unread, Page: page, Limit: limit}
	s.cache.SetPageIfCurrent(ctx, userID, page, limit, p, gen)
	return p, nil
}

// UnreadCount returns how many of userID's notifications are unread
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// Create persists a notification unless an unread one already exists for the same
// (sender, receiver, post, type). It reports whether a new row was written.
// Self-notifications are silently skipped.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Notification, bool, error) {
	if !in.Type.Valid() {
		return nil, false, fmt.Errorf("%w: unknown notification type %q", apperrors.ErrInvalidInput, in.Type)
	}
	if in.SenderID == "" || in.ReceiverID == "" {
		return nil, false, fmt.Errorf("%w: sender and receiver are required", apperrors.ErrInvalidInput)
	}
	if in.SenderID == in.ReceiverID {
		return nil, false, nil
	}

	existing, err := s.findUnread(ctx, in)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	n := &models.Notification{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		PostID:     in.PostID,
		Type:       in.Type,
		Message:    in.Message,
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		// A concurrent writer may have won the unique index race
		if existing, findErr := s.findUnread(ctx, in); findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create notification: %w", err)
	}

	metrics.Get().NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	s.invalidate(ctx, in.ReceiverID)
	s.push(ctx, n)
	return n, true, nil
}

// findUnread returns the unread notification matching in's tuple, or nil
func (s *Service) findUnread(ctx context.Context, in CreateInput) (*models.Notification, error) {
	q := s.db.WithContext(ctx).
		Where("sender_id = ? AND receiver_id = ? AND type = ? AND is_read = ?",
			in.SenderID, in.ReceiverID, in.Type, false)
	if in.PostID == nil {
		q = q.Where("post_id IS NULL")
	} else {
		q = q.Where("post_id = ?", *in.PostID)
	}

	var n models.Notification
	err := q.Take(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup notification: %w", err)
	}
	return &n, nil
}

// MarkRead marks one of userID's notifications read
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND receiver_id = ?", notificationID, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, apperrors.ErrRecordNotFound)
	}
	s.invalidate(ctx, userID)
	return nil
}

// MarkAllRead marks every unread notification of userID read and returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.invalidate(ctx, userID)
	}
	return res.RowsAffected, nil
}

// Delete removes one of userID's notifications
func (s *Service) Delete(ctx context.Context, userID, notificationID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND receiver_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return fmt.Errorf("delete notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, apperrors.ErrRecordNotFound)
	}
	s.invalidate(ctx, userID)
	return nil
}

// DeleteForTuple removes every notification matching the tuple, read or not.
// Used when the triggering action is undone, e.g. an unfollow.
func (s *Service) DeleteForTuple(ctx context.Context, senderID, receiverID string, postID *string, typ models.NotificationType) (int64, error) {
	q := s.db.WithContext(ctx).
		Where("sender_id = ? AND receiver_id = ? AND type = ?", senderID, receiverID, typ)
	if postID == nil {
		q = q.Where("post_id IS NULL")
	} else {
		q = q.Where("post_id = ?", *postID)
	}

	res := q.Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete notifications: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.invalidate(ctx, receiverID)
	}
	return res.RowsAffected, nil
}

// invalidate flushes userID's cached pages. The write already succeeded, so a
// failure here only widens the staleness window to the cache TTL.
func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		logger.Log.Warn("Notification cache invalidation failed",
			logger.WithUserID(userID),
			zap.Error(err))
	}
}

// push emits notify_user to the receiver and e-mails them if they are offline
func (s *Service) push(ctx context.Context, n *models.Notification) {
	var sender models.User
	if err := s.db.WithContext(ctx).Take(&sender, "id = ?", n.SenderID).Error; err != nil {
		logger.Log.Warn("Notification sender not found for preview",
			zap.String("notification_id", n.ID),
			zap.String("sender_id", n.SenderID),
			zap.Error(err))
	}

	if s.emitter != nil {
		s.emitter.EmitToUser(n.ReceiverID, EventNotifyUser, Push{
			Notification: n,
			Avatar:       sender.Avatar,
			FullName:     sender.FullName,
		})
	}

	if s.mailer == nil || s.presence == nil || s.presence.IsOnline(n.ReceiverID) {
		return
	}

	var receiver models.User
	if err := s.db.WithContext(ctx).Take(&receiver, "id = ?", n.ReceiverID).Error; err != nil || receiver.Email == "" {
		return
	}

	senderName := sender.FullName
	if senderName == "" {
		senderName = sender.Username
	}
	mail := email.Notification{
		To:         receiver.Email,
		SenderName: senderName,
		Summary:    summary(n),
		Path:       "/notifications",
	}
	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()
		if err := s.mailer.SendNotificationEmail(mctx, mail); err != nil {
			logger.Log.Warn("Failed to send notification email",
				logger.WithUserID(n.ReceiverID),
				zap.Error(err))
		}
	}()
}

func summary(n *models.Notification) string {
	if n.Message != "" {
		return n.Message
	}
	switch n.Type {
	case models.NotificationFollow:
		return "started following you"
	case models.NotificationLike:
		return "liked your post"
	case models.NotificationComment:
		return "commented on your post"
	case models.NotificationReply:
		return "replied to your comment"
	case models.NotificationMessage:
		return "sent you a message"
	case models.NotificationLive:
		return "is live now"
	}
	return "has new activity for you"
}
