package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/messages"
	"github.com/hearth-social/backend/internal/middleware"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/presence"
	"github.com/hearth-social/backend/internal/purge"
	"github.com/hearth-social/backend/internal/social"
	"github.com/hearth-social/backend/internal/testutil"
	"github.com/hearth-social/backend/internal/util"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type HandlersTestSuite struct {
	suite.Suite
	db       *gorm.DB
	router   *gin.Engine
	tracker  *presence.Tracker
	notes    *notifications.Service
	msgs     *messages.Service
	alice    *models.User
	bob      *models.User
	carol    *models.User
	convID   string
	adminID  string
}

// fakeAuth stands in for RequireAuth: X-User names the caller, X-Admin grants the claim
func fakeAuth(c *gin.Context) {
	id := c.GetHeader("X-User")
	if id == "" {
		util.RespondUnauthorized(c)
		return
	}
	c.Set(util.ContextUserID, id)
	c.Set(util.ContextIsAdmin, c.GetHeader("X-Admin") == "true")
	c.Next()
}

func (s *HandlersTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.db = testutil.NewTestDB(s.T())
	rc, _ := testutil.NewTestRedis(s.T())

	s.tracker = presence.NewTracker(nil)
	s.notes = notifications.NewService(s.db, notifications.NewCache(rc, time.Minute), nil, s.tracker)
	soc := social.NewService(s.db, s.notes, nil)
	s.msgs = messages.NewService(s.db, nil, s.notes)

	h := NewHandlers(s.notes, soc, s.tracker, s.msgs)
	h.SetPurgeScheduler(purge.NewScheduler(s.db, nil, nil))

	s.alice = testutil.SeedUser(s.T(), s.db)
	s.bob = testutil.SeedUser(s.T(), s.db)
	s.carol = testutil.SeedUser(s.T(), s.db)
	conv, err := s.msgs.CreateConversation(context.Background(), s.alice.ID, s.bob.ID)
	s.Require().NoError(err)
	s.convID = conv.ID

	r := gin.New()
	api := r.Group("/api/v1", fakeAuth)
	api.GET("/notifications", h.GetNotifications)
	api.GET("/notifications/unread-count", h.GetUnreadCount)
	api.POST("/notifications/read-all", h.MarkAllNotificationsRead)
	api.POST("/notifications/:id/read", h.MarkNotificationRead)
	api.DELETE("/notifications/:id", h.DeleteNotification)
	api.POST("/users/:id/follow", h.FollowUser)
	api.DELETE("/users/:id/follow", h.UnfollowUser)
	api.GET("/users/:id/presence", h.GetUserPresence)
	api.POST("/presence", h.GetPresence)
	api.POST("/conversations/:id/messages", h.SendMessage)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/admin/purge/:task", middleware.RequireAdmin(), h.RunPurge)
	s.router = r
}

func (s *HandlersTestSuite) request(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User", userID)
	}
	if userID == s.adminID && userID != "" {
		req.Header.Set("X-Admin", "true")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlersTestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *HandlersTestSuite) TestRequiresAuth() {
	w := s.request(http.MethodGet, "/api/v1/notifications", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlersTestSuite) TestFollowCreatesNotification() {
	w := s.request(http.MethodPost, "/api/v1/users/"+s.bob.ID+"/follow", s.alice.ID, nil)
	s.Equal(http.StatusCreated, w.Code)

	w = s.request(http.MethodPost, "/api/v1/users/"+s.bob.ID+"/follow", s.alice.ID, nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.request(http.MethodGet, "/api/v1/notifications/unread-count", s.bob.ID, nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"unread_count":1}`, w.Body.String())

	var page notifications.Page
	w = s.request(http.MethodGet, "/api/v1/notifications?page=1&limit=10", s.bob.ID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &page)
	s.Require().Len(page.Notifications, 1)
	s.Equal(models.NotificationFollow, page.Notifications[0].Type)
	s.Equal(s.alice.ID, page.Notifications[0].SenderID)
	s.Equal(10, page.Limit)

	w = s.request(http.MethodDelete, "/api/v1/users/"+s.bob.ID+"/follow", s.alice.ID, nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.request(http.MethodGet, "/api/v1/notifications/unread-count", s.bob.ID, nil)
	s.JSONEq(`{"unread_count":0}`, w.Body.String())

	w = s.request(http.MethodDelete, "/api/v1/users/"+s.bob.ID+"/follow", s.alice.ID, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlersTestSuite) TestFollowErrors() {
	w := s.request(http.MethodPost, "/api/v1/users/"+s.alice.ID+"/follow", s.alice.ID, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.request(http.MethodPost, "/api/v1/users/missing/follow", s.alice.ID, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlersTestSuite) TestNotificationInbox() {
	s.request(http.MethodPost, "/api/v1/users/"+s.carol.ID+"/follow", s.alice.ID, nil)
	s.request(http.MethodPost, "/api/v1/users/"+s.carol.ID+"/follow", s.bob.ID, nil)

	var page notifications.Page
	s.decode(s.request(http.MethodGet, "/api/v1/notifications", s.carol.ID, nil), &page)
	s.Require().Len(page.Notifications, 2)
	s.Equal(int64(2), page.UnreadCount)
	first := page.Notifications[0].ID

	// Other users cannot touch carol's notifications
	w := s.request(http.MethodPost, "/api/v1/notifications/"+first+"/read", s.alice.ID, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.request(http.MethodPost, "/api/v1/notifications/"+first+"/read", s.carol.ID, nil)
	s.Equal(http.StatusNoContent, w.Code)

	// The cached page was invalidated by the write
	s.decode(s.request(http.MethodGet, "/api/v1/notifications", s.carol.ID, nil), &page)
	s.Equal(int64(1), page.UnreadCount)

	w = s.request(http.MethodPost, "/api/v1/notifications/read-all", s.carol.ID, nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"updated":1}`, w.Body.String())

	w = s.request(http.MethodDelete, "/api/v1/notifications/"+first, s.carol.ID, nil)
	s.Equal(http.StatusNoContent, w.Code)
	w = s.request(http.MethodDelete, "/api/v1/notifications/"+first, s.carol.ID, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlersTestSuite) TestPresence() {
	s.tracker.MarkOnline(s.alice.ID)
	s.tracker.MarkOnline(s.bob.ID)
	s.tracker.MarkOffline(s.bob.ID, time.Now().UTC())

	var body struct {
		Presence []presence.Status `json:"presence"`
	}
	w := s.request(http.MethodPost, "/api/v1/presence", s.carol.ID, PresenceRequest{UserIDs: []string{s.alice.ID, s.bob.ID}})
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &body)
	s.Require().Len(body.Presence, 2)
	s.True(body.Presence[0].Online)
	s.False(body.Presence[1].Online)
	s.NotNil(body.Presence[1].LastSeen)

	var one presence.Status
	w = s.request(http.MethodGet, "/api/v1/users/"+s.carol.ID+"/presence", s.alice.ID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &one)
	s.Equal(s.carol.ID, one.UserID)
	s.False(one.Online)
	s.Nil(one.LastSeen)

	w = s.request(http.MethodPost, "/api/v1/presence", s.carol.ID, map[string]interface{}{})
	s.Equal(http.StatusBadRequest, w.Code)

	ids := make([]string, MaxPresenceLookup+1)
	for i := range ids {
		ids[i] = "u"
	}
	w = s.request(http.MethodPost, "/api/v1/presence", s.carol.ID, PresenceRequest{UserIDs: ids})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *HandlersTestSuite) TestMessages() {
	path := "/api/v1/conversations/" + s.convID + "/messages"

	w := s.request(http.MethodPost, path, s.alice.ID, SendMessageRequest{Content: "hello bob"})
	s.Require().Equal(http.StatusCreated, w.Code)
	var msg models.Message
	s.decode(w, &msg)
	s.Equal("hello bob", msg.Content)

	w = s.request(http.MethodPost, path, s.carol.ID, SendMessageRequest{Content: "me too"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.request(http.MethodPost, path, s.alice.ID, map[string]string{})
	s.Equal(http.StatusBadRequest, w.Code)

	var list struct {
		Messages []models.Message `json:"messages"`
	}
	w = s.request(http.MethodGet, path, s.bob.ID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &list)
	s.Len(list.Messages, 1)

	w = s.request(http.MethodDelete, "/api/v1/messages/"+msg.ID, s.bob.ID, nil)
	s.Equal(http.StatusForbidden, w.Code)
	w = s.request(http.MethodDelete, "/api/v1/messages/"+msg.ID, s.alice.ID, nil)
	s.Equal(http.StatusNoContent, w.Code)

	w = s.request(http.MethodGet, path, s.bob.ID, nil)
	s.decode(w, &list)
	s.Empty(list.Messages)
}

func (s *HandlersTestSuite) TestRunPurge() {
	msg, err := s.msgs.Send(context.Background(), s.alice.ID, s.convID, "gone soon")
	s.Require().NoError(err)
	s.Require().NoError(s.msgs.SoftDelete(context.Background(), s.alice.ID, msg.ID))

	w := s.request(http.MethodPost, "/api/v1/admin/purge/messages", s.alice.ID, nil)
	s.Equal(http.StatusForbidden, w.Code)

	s.adminID = s.carol.ID
	w = s.request(http.MethodPost, "/api/v1/admin/purge/bogus", s.carol.ID, nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.request(http.MethodPost, "/api/v1/admin/purge/messages", s.carol.ID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var body struct {
		Results []purge.Result `json:"results"`
	}
	s.decode(w, &body)
	s.Require().Len(body.Results, 1)
	s.Equal(purge.TaskMessages, body.Results[0].Task)
	s.Equal(1, body.Results[0].Deleted)

	var n int64
	s.Require().NoError(s.db.Model(&models.Message{}).Count(&n).Error)
	s.Zero(n)
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
