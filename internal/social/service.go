// Package social turns follow-graph and post-activity writes into realtime events
// and notifications. Follow rows live here; posts and comments are owned by the
// content service, which reports activity through this package.
package social

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Emitter publishes events to rooms
type Emitter interface {
	Emit(room, event string, payload interface{})
	EmitToUser(userID, event string, payload interface{})
}

// Notifier creates and retracts notification rows
type Notifier interface {
	Create(ctx context.Context, in notifications.CreateInput) (*models.Notification, bool, error)
	DeleteForTuple(ctx context.Context, senderID, receiverID string, postID *string, typ models.NotificationType) (int64, error)
}

// FollowEvent is the payload of follow_user and unfollow_user
type FollowEvent struct {
	FollowerID string `json:"followerId"`
	FolloweeID string `json:"followeeId"`
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	Avatar     string `json:"avatar"`
}

// PostReaction is reported by the content service once a reaction on a post is stored.
// PostOwnerID comes from the stored post and receives the notification.
type PostReaction struct {
	PostID      string
	PostOwnerID string
	UserID      string
	Reactions   map[string]int
}

// CommentReaction is reported once a reaction on a comment is stored
type CommentReaction struct {
	PostID         string
	CommentID      string
	CommentOwnerID string
	UserID         string
	Reactions      map[string]int
}

// PostReactions is the payload of post_react: the post's reaction summary after the write
type PostReactions struct {
	PostID    string         `json:"postId"`
	Reactions map[string]int `json:"reactions"`
}

// CommentReactions is the payload of commentReact
type CommentReactions struct {
	PostID    string         `json:"postId"`
	CommentID string         `json:"commentId"`
	Reactions map[string]int `json:"reactions"`
}

// CommentEvent is the payload of createComment, replyComment, edited_comment and deleteComment.
// RecipientID is the post owner for top-level comments and the parent's author for replies;
// it is resolved from stored rows and never sent to clients.
type CommentEvent struct {
	PostID      string `json:"postId"`
	CommentID   string `json:"commentId"`
	ParentID    string `json:"parentId,omitempty"`
	RecipientID string `json:"-"`
	UserID      string `json:"userId"`
	Content     string `json:"content,omitempty"`
}

// Service handles follows and post activity fan-out
type Service struct {
	db       *gorm.DB
	notifier Notifier
	emitter  Emitter
}

// NewService creates a social service. notifier and emitter may be nil.
func NewService(db *gorm.DB, notifier Notifier, emitter Emitter) *Service {
	return &Service{db: db, notifier: notifier, emitter: emitter}
}

// ContactIDs returns the followers of userID, who are told when userID goes online or offline
func (s *Service) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("followee_id = ?", userID).
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load followers of %s: %w", userID, err)
	}
	return ids, nil
}

// IsFollowing reports whether followerID follows followeeID
func (s *Service) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&n).Error
	return n > 0, err
}

// Follow makes followerID follow followeeID. Following twice is not an error;
// created is false and no events are emitted the second time.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) (created bool, err error) {
	if followerID == "" || followeeID == "" {
		return false, fmt.Errorf("%w: follower and followee are required", apperrors.ErrInvalidInput)
	}
	if followerID == followeeID {
		return false, fmt.Errorf("%w: cannot follow yourself", apperrors.ErrInvalidInput)
	}

	follower, err := s.loadUser(ctx, followerID)
	if err != nil {
		return false, err
	}
	if _, err := s.loadUser(ctx, followeeID); err != nil {
		return false, err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Follow{FollowerID: followerID, FolloweeID: followeeID})
	if res.Error != nil {
		return false, fmt.Errorf("create follow: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if s.notifier != nil {
		_, _, err := s.notifier.Create(ctx, notifications.CreateInput{
			SenderID:   followerID,
			ReceiverID: followeeID,
			Type:       models.NotificationFollow,
			Message:    "started following you",
		})
		if err != nil {
			logger.Log.Warn("Failed to create follow notification",
				logger.WithUserID(followeeID),
				zap.String("follower_id", followerID),
				zap.Error(err))
		}
	}

	s.emitToUser(followeeID, websocket.EventFollowUser, followEvent(follower, followeeID))
	return true, nil
}

// Unfollow removes the follow edge and retracts the unread FOLLOW notification
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	res := s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&models.Follow{})
	if res.Error != nil {
		return fmt.Errorf("delete follow: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("follow %s->%s: %w", followerID, followeeID, apperrors.ErrRecordNotFound)
	}

	if s.notifier != nil {
		if _, err := s.notifier.DeleteForTuple(ctx, followerID, followeeID, nil, models.NotificationFollow); err != nil {
			logger.Log.Warn("Failed to retract follow notification",
				logger.WithUserID(followeeID),
				zap.String("follower_id", followerID),
				zap.Error(err))
		}
	}

	payload := FollowEvent{FollowerID: followerID, FolloweeID: followeeID}
	if follower, err := s.loadUser(ctx, followerID); err == nil {
		payload = followEvent(follower, followeeID)
	}
	s.emitToUser(followeeID, websocket.EventUnfollowUser, payload)
	return nil
}

// ReactToPost runs after a reaction on a post has been written. It sends the
// post's viewers the new reaction summary and notifies the post owner.
//
// The react and comment hooks below have no socket entry point: only the
// content service calls them, after its own write commits.
func (s *Service) ReactToPost(ctx context.Context, r PostReaction) error {
	if r.PostID == "" || r.UserID == "" {
		return fmt.Errorf("%w: postId is required", apperrors.ErrInvalidInput)
	}
	s.emit(websocket.PostRoom(r.PostID), websocket.EventPostReact, PostReactions{
		PostID:    r.PostID,
		Reactions: reactionSummary(r.Reactions),
	})

	s.notify(ctx, r.UserID, r.PostOwnerID, &r.PostID, models.NotificationLike, "reacted to your post")
	return nil
}

// ReactToComment runs after a reaction on a comment has been written
func (s *Service) ReactToComment(ctx context.Context, r CommentReaction) error {
	if r.PostID == "" || r.CommentID == "" || r.UserID == "" {
		return fmt.Errorf("%w: postId and commentId are required", apperrors.ErrInvalidInput)
	}
	s.emit(websocket.PostRoom(r.PostID), websocket.EventCommentReact, CommentReactions{
		PostID:    r.PostID,
		CommentID: r.CommentID,
		Reactions: reactionSummary(r.Reactions),
	})

	s.notify(ctx, r.UserID, r.CommentOwnerID, &r.PostID, models.NotificationLike, "reacted to your comment")
	return nil
}

// CommentCreated runs after a comment or reply has been stored. It announces it
// to the post's viewers and notifies RecipientID.
func (s *Service) CommentCreated(ctx context.Context, c CommentEvent) error {
	if err := validateComment(c); err != nil {
		return err
	}

	if c.ParentID == "" {
		s.emit(websocket.PostRoom(c.PostID), websocket.EventCreateComment, c)
		s.notify(ctx, c.UserID, c.RecipientID, &c.PostID, models.NotificationComment, "commented on your post")
		return nil
	}

	s.emit(websocket.PostRoom(c.PostID), websocket.EventReplyComment, c)
	s.notify(ctx, c.UserID, c.RecipientID, &c.PostID, models.NotificationReply, "replied to your comment")
	return nil
}

// CommentEdited runs after the comment's author saved an edit
func (s *Service) CommentEdited(_ context.Context, c CommentEvent) error {
	if err := validateComment(c); err != nil {
		return err
	}
	s.emit(websocket.PostRoom(c.PostID), websocket.EventEditedComment, c)
	return nil
}

// CommentDeleted runs after a comment was removed
func (s *Service) CommentDeleted(_ context.Context, c CommentEvent) error {
	if err := validateComment(c); err != nil {
		return err
	}
	c.Content = ""
	s.emit(websocket.PostRoom(c.PostID), websocket.EventDeleteComment, c)
	return nil
}

func validateComment(c CommentEvent) error {
	if c.PostID == "" || c.CommentID == "" || c.UserID == "" {
		return fmt.Errorf("%w: postId and commentId are required", apperrors.ErrInvalidInput)
	}
	return nil
}

func reactionSummary(counts map[string]int) map[string]int {
	if counts == nil {
		return map[string]int{}
	}
	return counts
}

func (s *Service) notify(ctx context.Context, senderID, receiverID string, postID *string, typ models.NotificationType, message string) {
	if s.notifier == nil || receiverID == "" {
		return
	}
	_, _, err := s.notifier.Create(ctx, notifications.CreateInput{
		SenderID:   senderID,
		ReceiverID: receiverID,
		PostID:     postID,
		Type:       typ,
		Message:    message,
	})
	if err != nil {
		logger.Log.Warn("Failed to create notification",
			logger.WithUserID(receiverID),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

func (s *Service) loadUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Take(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", id, apperrors.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Service) emit(room, event string, payload interface{}) {
	if s.emitter != nil {
		s.emitter.Emit(room, event, payload)
	}
}

func (s *Service) emitToUser(userID, event string, payload interface{}) {
	if s.emitter != nil {
		s.emitter.EmitToUser(userID, event, payload)
	}
}

func followEvent(follower *models.User, followeeID string) FollowEvent {
	return FollowEvent{
		FollowerID: follower.ID,
		FolloweeID: followeeID,
		Username:   follower.Username,
		FullName:   follower.FullName,
		Avatar:     follower.Avatar,
	}
}
