package messages

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/testutil"
	"github.com/hearth-social/backend/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type emitted struct {
	room  string
	event string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(room, event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{room: room, event: event})
}

func (r *recordingEmitter) EmitToUser(userID, event string, payload interface{}) {
	r.Emit(websocket.UserRoom(userID), event, payload)
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

type MessagesSuite struct {
	suite.Suite
	db      *gorm.DB
	emitter *recordingEmitter
	svc     *Service
	alice   *models.User
	bob     *models.User
	carol   *models.User
	conv    *models.Conversation
	ctx     context.Context
}

func (s *MessagesSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.NewTestDB(s.T())
	s.emitter = &recordingEmitter{}
	notes := notifications.NewService(s.db, nil, nil, nil)
	s.svc = NewService(s.db, s.emitter, notes)
	s.alice = testutil.SeedUser(s.T(), s.db)
	s.bob = testutil.SeedUser(s.T(), s.db)
	s.carol = testutil.SeedUser(s.T(), s.db)

	conv, err := s.svc.CreateConversation(s.ctx, s.alice.ID, s.bob.ID, s.alice.ID)
	s.Require().NoError(err)
	s.conv = conv
}

func (s *MessagesSuite) TestCreateConversationDedupesMembers() {
	ids, err := s.svc.MemberIDs(s.ctx, s.conv.ID)
	s.Require().NoError(err)
	s.ElementsMatch([]string{s.alice.ID, s.bob.ID}, ids)

	_, err = s.svc.CreateConversation(s.ctx, s.alice.ID, s.alice.ID)
	s.ErrorIs(err, apperrors.ErrInvalidInput)
}

func (s *MessagesSuite) TestSendEmitsToRoomAndRecipients() {
	msg, err := s.svc.Send(s.ctx, s.alice.ID, s.conv.ID, "  hello  ")
	s.Require().NoError(err)
	s.Equal("hello", msg.Content)
	s.False(msg.IsDeleted)

	s.Equal([]emitted{
		{room: websocket.ConversationRoom(s.conv.ID), event: websocket.EventMessageReceived},
		{room: websocket.UserRoom(s.bob.ID), event: websocket.EventSendMessageToConversation},
	}, s.emitter.all())

	var n int64
	s.Require().NoError(s.db.Model(&models.Notification{}).
		Where("receiver_id = ? AND type = ?", s.bob.ID, models.NotificationMessage).Count(&n).Error)
	s.Equal(int64(1), n)
}

func (s *MessagesSuite) TestSendValidation() {
	_, err := s.svc.Send(s.ctx, s.alice.ID, s.conv.ID, "   ")
	s.ErrorIs(err, apperrors.ErrInvalidInput)

	_, err = s.svc.Send(s.ctx, s.alice.ID, s.conv.ID, strings.Repeat("x", MaxContentLength+1))
	s.ErrorIs(err, apperrors.ErrInvalidInput)

	_, err = s.svc.Send(s.ctx, s.carol.ID, s.conv.ID, "let me in")
	s.ErrorIs(err, apperrors.ErrPermissionDenied)

	_, err = s.svc.Send(s.ctx, s.alice.ID, "missing", "hello")
	s.ErrorIs(err, apperrors.ErrRecordNotFound)

	s.Empty(s.emitter.all())
}

func (s *MessagesSuite) TestSoftDelete() {
	msg, err := s.svc.Send(s.ctx, s.alice.ID, s.conv.ID, "oops")
	s.Require().NoError(err)

	s.ErrorIs(s.svc.SoftDelete(s.ctx, s.bob.ID, msg.ID), apperrors.ErrPermissionDenied)
	s.Require().NoError(s.svc.SoftDelete(s.ctx, s.alice.ID, msg.ID))
	s.ErrorIs(s.svc.SoftDelete(s.ctx, s.alice.ID, msg.ID), apperrors.ErrRecordNotFound)

	var stored models.Message
	s.Require().NoError(s.db.Take(&stored, "id = ?", msg.ID).Error)
	s.True(stored.IsDeleted)

	list, err := s.svc.List(s.ctx, s.bob.ID, s.conv.ID, 0)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *MessagesSuite) TestListOldestFirst() {
	base := time.Now().UTC()
	for i, body := range []string{"one", "two", "three"} {
		msg, err := s.svc.Send(s.ctx, s.alice.ID, s.conv.ID, body)
		s.Require().NoError(err)
		s.Require().NoError(s.db.Model(msg).Update("created_at", base.Add(time.Duration(i)*time.Second)).Error)
	}

	list, err := s.svc.List(s.ctx, s.bob.ID, s.conv.ID, 2)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("two", list[0].Content)
	s.Equal("three", list[1].Content)

	_, err = s.svc.List(s.ctx, s.carol.ID, s.conv.ID, 10)
	s.ErrorIs(err, apperrors.ErrPermissionDenied)
}

func TestMessagesSuite(t *testing.T) {
	suite.Run(t, new(MessagesSuite))
}

func recv(t *testing.T, c *websocket.Client) (string, json.RawMessage) {
	t.Helper()
	select {
	case data := <-c.Frames():
		var f struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &f))
		return f.Event, f.Payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame for %s", c.UserID)
	}
	return "", nil
}

func TestSocketHandlers(t *testing.T) {
	db := testutil.NewTestDB(t)
	hub := websocket.NewHub(nil, nil)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	svc := NewService(db, hub, nil)
	svc.RegisterSocketHandlers(hub)

	alice := testutil.SeedUser(t, db)
	bob := testutil.SeedUser(t, db)
	carol := testutil.SeedUser(t, db)
	conv, err := svc.CreateConversation(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	connect := func(u *models.User) *websocket.Client {
		c := websocket.NewClient(hub, nil, u.ID, u.Username)
		hub.Connect(c)
		event, _ := recv(t, c)
		require.Equal(t, websocket.EventConnected, event)
		return c
	}
	a, b, outsider := connect(alice), connect(bob), connect(carol)
	room := websocket.ConversationRoom(conv.ID)

	// Non-members are refused
	hub.Dispatch(outsider, &websocket.Message{Event: websocket.EventJoinConversation, Payload: conv.ID})
	event, payload := recv(t, outsider)
	assert.Equal(t, websocket.EventSocketError, event)
	assert.Contains(t, string(payload), websocket.CodeForbidden)
	assert.False(t, hub.InRoom(outsider, room))

	// Typing before joining is refused
	hub.Dispatch(a, &websocket.Message{Event: websocket.EventTypingStart, Payload: conv.ID})
	event, _ = recv(t, a)
	assert.Equal(t, websocket.EventSocketError, event)

	hub.Dispatch(a, &websocket.Message{Event: websocket.EventJoinConversation, Payload: map[string]interface{}{"conversationId": conv.ID}})
	hub.Dispatch(b, &websocket.Message{Event: websocket.EventJoinConversation, Payload: conv.ID})
	require.True(t, hub.InRoom(a, room))
	require.True(t, hub.InRoom(b, room))

	hub.Dispatch(a, &websocket.Message{Event: websocket.EventTypingStart, Payload: conv.ID})
	event, payload = recv(t, b)
	assert.Equal(t, websocket.EventDisplayTyping, event)
	var typing TypingPayload
	require.NoError(t, json.Unmarshal(payload, &typing))
	assert.Equal(t, alice.ID, typing.UserID)
	event, _ = recv(t, a)
	assert.Equal(t, websocket.EventDisplayTyping, event)

	hub.Dispatch(a, &websocket.Message{Event: websocket.EventSendMessageToConversation, Payload: map[string]interface{}{
		"conversationId": conv.ID,
		"content":        "hi bob",
	}})
	event, _ = recv(t, a)
	assert.Equal(t, websocket.EventMessageReceived, event)
	event, _ = recv(t, b)
	assert.Equal(t, websocket.EventMessageReceived, event)
	event, payload = recv(t, b)
	assert.Equal(t, websocket.EventSendMessageToConversation, event)
	assert.Contains(t, string(payload), "hi bob")

	hub.Dispatch(b, &websocket.Message{Event: websocket.EventLeaveConversation, Payload: conv.ID})
	assert.False(t, hub.InRoom(b, room))
}
