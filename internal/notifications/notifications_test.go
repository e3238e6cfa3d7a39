package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hearth-social/backend/internal/email"
	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type emitted struct {
	userID  string
	event   string
	payload interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) EmitToUser(userID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{userID: userID, event: event, payload: payload})
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

type staticPresence map[string]bool

func (p staticPresence) IsOnline(userID string) bool { return p[userID] }

type chanMailer struct {
	sent chan email.Notification
}

func (m *chanMailer) SendNotificationEmail(_ context.Context, n email.Notification) error {
	m.sent <- n
	return nil
}

type NotificationSuite struct {
	suite.Suite
	db       *gorm.DB
	mr       *miniredis.Miniredis
	cache    *Cache
	emitter  *recordingEmitter
	presence staticPresence
	svc      *Service
	sender   *models.User
	receiver *models.User
	ctx      context.Context
}

func (s *NotificationSuite) SetupTest() {
	t := s.T()
	s.ctx = context.Background()
	s.db = testutil.NewTestDB(t)
	rc, mr := testutil.NewTestRedis(t)
	s.mr = mr
	s.cache = NewCache(rc, DefaultTTL)
	s.emitter = &recordingEmitter{}
	s.presence = staticPresence{}
	s.svc = NewService(s.db, s.cache, s.emitter, s.presence)
	s.sender = testutil.SeedUser(t, s.db)
	s.receiver = testutil.SeedUser(t, s.db)
}

func (s *NotificationSuite) follow() CreateInput {
	return CreateInput{SenderID: s.sender.ID, ReceiverID: s.receiver.ID, Type: models.NotificationFollow}
}

func (s *NotificationSuite) count(where ...interface{}) int64 {
	var n int64
	q := s.db.Model(&models.Notification{})
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	s.Require().NoError(q.Count(&n).Error)
	return n
}

func (s *NotificationSuite) TestDuplicateFollowYieldsOneRow() {
	first, created, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)
	s.True(created)

	second, created, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID)

	s.Equal(int64(1), s.count())
	s.Len(s.emitter.all(), 1, "duplicate must not push again")
}

func (s *NotificationSuite) TestTupleCanRepeatOnceRead() {
	first, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)
	s.Require().NoError(s.svc.MarkRead(s.ctx, s.receiver.ID, first.ID))

	_, created, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)
	s.True(created)
	s.Equal(int64(2), s.count())
}

func (s *NotificationSuite) TestPostIDDistinguishesTuples() {
	postA, postB := "post-a", "post-b"
	like := func(post *string) CreateInput {
		return CreateInput{SenderID: s.sender.ID, ReceiverID: s.receiver.ID, PostID: post, Type: models.NotificationLike}
	}

	for _, in := range []CreateInput{like(&postA), like(&postB), like(nil), like(&postA)} {
		_, _, err := s.svc.Create(s.ctx, in)
		s.Require().NoError(err)
	}
	s.Equal(int64(3), s.count())
}

func (s *NotificationSuite) TestCreateValidates() {
	_, _, err := s.svc.Create(s.ctx, CreateInput{SenderID: s.sender.ID, ReceiverID: s.receiver.ID, Type: "POKE"})
	s.ErrorIs(err, apperrors.ErrInvalidInput)

	_, _, err = s.svc.Create(s.ctx, CreateInput{SenderID: s.sender.ID, Type: models.NotificationFollow})
	s.ErrorIs(err, apperrors.ErrInvalidInput)

	n, created, err := s.svc.Create(s.ctx, CreateInput{SenderID: s.sender.ID, ReceiverID: s.sender.ID, Type: models.NotificationFollow})
	s.NoError(err)
	s.False(created)
	s.Nil(n)
	s.Equal(int64(0), s.count())
}

func (s *NotificationSuite) TestCreatePushesSenderPreview() {
	n, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)

	events := s.emitter.all()
	s.Require().Len(events, 1)
	s.Equal(s.receiver.ID, events[0].userID)
	s.Equal(EventNotifyUser, events[0].event)

	push, ok := events[0].payload.(Push)
	s.Require().True(ok)
	s.Equal(n.ID, push.ID)
	s.Equal(s.sender.Avatar, push.Avatar)
	s.Equal(s.sender.FullName, push.FullName)
}

func (s *NotificationSuite) TestListReadsThroughCache() {
	_, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)

	page, err := s.svc.List(s.ctx, s.receiver.ID, 1, 20)
	s.Require().NoError(err)
	s.Len(page.Notifications, 1)
	s.Equal(int64(1), page.UnreadCount)
	s.True(s.mr.Exists(PageKey(s.receiver.ID, 1, 20)))

	// A row written behind the service's back stays invisible until the TTL or an invalidation
	other := testutil.SeedUser(s.T(), s.db)
	s.Require().NoError(s.db.Create(&models.Notification{SenderID: other.ID, ReceiverID: s.receiver.ID, Type: models.NotificationFollow}).Error)

	page, err = s.svc.List(s.ctx, s.receiver.ID, 1, 20)
	s.Require().NoError(err)
	s.Len(page.Notifications, 1)

	s.mr.FastForward(DefaultTTL + time.Second)

	page, err = s.svc.List(s.ctx, s.receiver.ID, 1, 20)
	s.Require().NoError(err)
	s.Len(page.Notifications, 2)
	s.Equal(int64(2), page.UnreadCount)
}

func (s *NotificationSuite) TestWritesInvalidateEveryPage() {
	n, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)

	for _, limit := range []int{5, 20} {
		_, err := s.svc.List(s.ctx, s.receiver.ID, 1, limit)
		s.Require().NoError(err)
	}
	s.True(s.mr.Exists(PageKey(s.receiver.ID, 1, 5)))

	s.Require().NoError(s.svc.MarkRead(s.ctx, s.receiver.ID, n.ID))
	s.False(s.mr.Exists(PageKey(s.receiver.ID, 1, 5)))
	s.False(s.mr.Exists(PageKey(s.receiver.ID, 1, 20)))

	page, err := s.svc.List(s.ctx, s.receiver.ID, 1, 20)
	s.Require().NoError(err)
	s.Equal(int64(0), page.UnreadCount)
	s.True(page.Notifications[0].IsRead)
}

func (s *NotificationSuite) TestListOrdersNewestFirstAndPaginates() {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sender := testutil.SeedUser(s.T(), s.db)
		s.Require().NoError(s.db.Create(&models.Notification{
			SenderID:   sender.ID,
			ReceiverID: s.receiver.ID,
			Type:       models.NotificationFollow,
			Message:    string(rune('a' + i)),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	page, err := s.svc.List(s.ctx, s.receiver.ID, 1, 2)
	s.Require().NoError(err)
	s.Require().Len(page.Notifications, 2)
	s.Equal("e", page.Notifications[0].Message)
	s.Equal("d", page.Notifications[1].Message)
	s.NotNil(page.Notifications[0].Sender)

	page, err = s.svc.List(s.ctx, s.receiver.ID, 3, 2)
	s.Require().NoError(err)
	s.Require().Len(page.Notifications, 1)
	s.Equal("a", page.Notifications[0].Message)
}

func (s *NotificationSuite) TestMarkAllReadAndDelete() {
	n, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)

	changed, err := s.svc.MarkAllRead(s.ctx, s.receiver.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), changed)

	unread, err := s.svc.UnreadCount(s.ctx, s.receiver.ID)
	s.Require().NoError(err)
	s.Equal(int64(0), unread)

	s.ErrorIs(s.svc.Delete(s.ctx, s.sender.ID, n.ID), apperrors.ErrRecordNotFound, "only the receiver may delete")
	s.Require().NoError(s.svc.Delete(s.ctx, s.receiver.ID, n.ID))
	s.ErrorIs(s.svc.Delete(s.ctx, s.receiver.ID, n.ID), apperrors.ErrRecordNotFound)
	s.ErrorIs(s.svc.MarkRead(s.ctx, s.receiver.ID, n.ID), apperrors.ErrRecordNotFound)
}

func (s *NotificationSuite) TestDeleteForTuple() {
	_, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)
	_, err = s.svc.List(s.ctx, s.receiver.ID, 1, 20)
	s.Require().NoError(err)

	deleted, err := s.svc.DeleteForTuple(s.ctx, s.sender.ID, s.receiver.ID, nil, models.NotificationFollow)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
	s.False(s.mr.Exists(PageKey(s.receiver.ID, 1, 20)))

	_, created, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)
	s.True(created)
}

func (s *NotificationSuite) TestOfflineReceiverGetsEmail() {
	mailer := &chanMailer{sent: make(chan email.Notification, 1)}
	s.svc.SetMailer(mailer)

	_, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)

	select {
	case mail := <-mailer.sent:
		s.Equal(s.receiver.Email, mail.To)
		s.Equal(s.sender.FullName, mail.SenderName)
		s.Equal("started following you", mail.Summary)
	case <-time.After(time.Second):
		s.Fail("expected an e-mail for an offline receiver")
	}
}

func (s *NotificationSuite) TestOnlineReceiverGetsNoEmail() {
	mailer := &chanMailer{sent: make(chan email.Notification, 1)}
	s.svc.SetMailer(mailer)
	s.presence[s.receiver.ID] = true

	_, _, err := s.svc.Create(s.ctx, s.follow())
	s.Require().NoError(err)

	select {
	case mail := <-mailer.sent:
		s.Failf("unexpected e-mail", "%+v", mail)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationSuite(t *testing.T) {
	suite.Run(t, new(NotificationSuite))
}

func TestCacheInvalidateThenMiss(t *testing.T) {
	rc, _ := testutil.NewTestRedis(t)
	c := NewCache(rc, DefaultTTL)
	ctx := context.Background()

	c.SetPage(ctx, "u1", 1, 20, &Page{Page: 1, Limit: 20, UnreadCount: 3})
	c.SetPage(ctx, "u10", 1, 20, &Page{Page: 1, Limit: 20})

	got, ok := c.GetPage(ctx, "u1", 1, 20)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.UnreadCount)

	require.NoError(t, c.InvalidateUser(ctx, "u1"))

	_, ok = c.GetPage(ctx, "u1", 1, 20)
	assert.False(t, ok)
	_, ok = c.GetPage(ctx, "u10", 1, 20)
	assert.True(t, ok, "another user's prefix-sharing id must survive")
}

// racingStore runs onGet after each read, standing in for a write that commits
// while List is still loading from the database
type racingStore struct {
	Store
	onGet func()
}

func (s *racingStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.Store.Get(ctx, key)
	if s.onGet != nil {
		s.onGet()
	}
	return data, err
}

func TestListDoesNotCachePageReadAcrossInvalidation(t *testing.T) {
	db := testutil.NewTestDB(t)
	rc, mr := testutil.NewTestRedis(t)
	store := &racingStore{Store: rc}
	c := NewCache(store, DefaultTTL)
	svc := NewService(db, c, &recordingEmitter{}, staticPresence{})
	ctx := context.Background()

	sender := testutil.SeedUser(t, db)
	receiver := testutil.SeedUser(t, db)
	_, _, err := svc.Create(ctx, CreateInput{SenderID: sender.ID, ReceiverID: receiver.ID, Type: models.NotificationFollow})
	require.NoError(t, err)

	store.onGet = func() { require.NoError(t, c.InvalidateUser(ctx, receiver.ID)) }
	page, err := svc.List(ctx, receiver.ID, 1, 20)
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 1)
	assert.False(t, mr.Exists(PageKey(receiver.ID, 1, 20)))

	store.onGet = nil
	_, err = svc.List(ctx, receiver.ID, 1, 20)
	require.NoError(t, err)
	assert.True(t, mr.Exists(PageKey(receiver.ID, 1, 20)))
}

func TestSetPageIfCurrent(t *testing.T) {
	rc, mr := testutil.NewTestRedis(t)
	c := NewCache(rc, DefaultTTL)
	ctx := context.Background()

	gen := c.Generation("u1")
	assert.True(t, c.SetPageIfCurrent(ctx, "u1", 1, 20, &Page{Page: 1, Limit: 20}, gen))
	assert.True(t, mr.Exists(PageKey("u1", 1, 20)))

	require.NoError(t, c.InvalidateUser(ctx, "u1"))
	assert.NotEqual(t, gen, c.Generation("u1"))
	assert.False(t, c.SetPageIfCurrent(ctx, "u1", 1, 20, &Page{Page: 1, Limit: 20}, gen))
	assert.False(t, mr.Exists(PageKey("u1", 1, 20)))

	var nilCache *Cache
	assert.False(t, nilCache.SetPageIfCurrent(ctx, "u1", 1, 20, &Page{}, 0))
}

func TestCacheUnavailableIsMiss(t *testing.T) {
	rc, mr := testutil.NewTestRedis(t)
	c := NewCache(rc, DefaultTTL)
	mr.Close()

	_, ok := c.GetPage(context.Background(), "u1", 1, 20)
	assert.False(t, ok)
	c.SetPage(context.Background(), "u1", 1, 20, &Page{})
	assert.Error(t, c.InvalidateUser(context.Background(), "u1"))
}

func TestCacheIgnoresCorruptEntries(t *testing.T) {
	rc, mr := testutil.NewTestRedis(t)
	c := NewCache(rc, DefaultTTL)
	require.NoError(t, mr.Set(PageKey("u1", 1, 20), "{not json"))

	_, ok := c.GetPage(context.Background(), "u1", 1, 20)
	assert.False(t, ok)
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	var c *Cache
	_, ok := c.GetPage(context.Background(), "u1", 1, 20)
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateUser(context.Background(), "u1"))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultLimit},
		{-3, 10, 1, 10},
		{2, 500, 2, MaxLimit},
		{4, 25, 4, 25},
	}
	for _, tt := range tests {
		p, l := Normalize(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantLimit, l)
	}
}
