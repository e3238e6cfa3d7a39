// Package presence tracks which users are online and when they were last seen.
// A user is online while they hold at least one open socket connection.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/metrics"
	"github.com/hearth-social/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// writeTimeout bounds a single write-through of presence to the database
const writeTimeout = 5 * time.Second

// Status is the presence of one user as reported to clients
type Status struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// LastSeenWriter persists presence transitions outside of process memory
type LastSeenWriter interface {
	WritePresence(ctx context.Context, userID string, online bool, at time.Time) error
}

// Tracker holds per-user connection counts and last-seen stamps.
// The zero value is not usable; create one with NewTracker.
type Tracker struct {
	mu       sync.RWMutex
	conns    map[string]int
	lastSeen map[string]time.Time

	writer LastSeenWriter
	now    func() time.Time

	// queued transitions per user; a key is present while that user's flusher runs
	writeMu sync.Mutex
	queued  map[string][]presenceWrite
}

type presenceWrite struct {
	online bool
	at     time.Time
}

// NewTracker creates an empty tracker. writer may be nil.
func NewTracker(writer LastSeenWriter) *Tracker {
	return &Tracker{
		conns:    make(map[string]int),
		lastSeen: make(map[string]time.Time),
		writer:   writer,
		now:      time.Now,
		queued:   make(map[string][]presenceWrite),
	}
}

// MarkOnline records one more open connection for userID.
// It reports true when the user transitioned from offline to online.
func (t *Tracker) MarkOnline(userID string) bool {
	t.mu.Lock()
	t.conns[userID]++
	became := t.conns[userID] == 1
	if became {
		t.persist(userID, true, t.now().UTC())
	}
	online := len(t.conns)
	t.mu.Unlock()

	metrics.Get().PresenceOnlineUsers.Set(float64(online))
	return became
}

// MarkOffline records one closed connection for userID, stamping last-seen with at.
// It reports true when the user's last connection closed.
func (t *Tracker) MarkOffline(userID string, at time.Time) bool {
	t.mu.Lock()
	n, ok := t.conns[userID]
	if !ok {
		t.mu.Unlock()
		return false
	}

	t.lastSeen[userID] = at
	went := n <= 1
	if went {
		delete(t.conns, userID)
		t.persist(userID, false, at)
	} else {
		t.conns[userID] = n - 1
	}
	online := len(t.conns)
	t.mu.Unlock()

	metrics.Get().PresenceOnlineUsers.Set(float64(online))
	return went
}

// IsOnline reports whether userID has at least one open connection
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[userID] > 0
}

// LastSeen returns the time userID's most recent connection closed
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[userID]
	return ts, ok
}

// Connections returns the number of open connections for userID
func (t *Tracker) Connections(userID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[userID]
}

// OnlineCount returns the number of users currently online
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Snapshot returns the presence of each requested user, in request order
func (t *Tracker) Snapshot(userIDs []string) []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(userIDs))
	for _, id := range userIDs {
		st := Status{UserID: id, Online: t.conns[id] > 0}
		if ts, ok := t.lastSeen[id]; ok {
			st.LastSeen = &ts
		}
		out = append(out, st)
	}
	return out
}

// persist queues a transition for the background writer. Callers hold t.mu so
// the queue order matches the order of transitions. Writes for one user run one
// at a time, oldest first; failures are logged only.
func (t *Tracker) persist(userID string, online bool, at time.Time) {
	if t.writer == nil {
		return
	}
	t.writeMu.Lock()
	pending, running := t.queued[userID]
	t.queued[userID] = append(pending, presenceWrite{online: online, at: at})
	t.writeMu.Unlock()

	if !running {
		go t.flush(userID)
	}
}

func (t *Tracker) flush(userID string) {
	for {
		t.writeMu.Lock()
		pending := t.queued[userID]
		if len(pending) == 0 {
			delete(t.queued, userID)
			t.writeMu.Unlock()
			return
		}
		next := pending[0]
		t.queued[userID] = pending[1:]
		t.writeMu.Unlock()

		t.write(userID, next)
	}
}

func (t *Tracker) write(userID string, w presenceWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.writer.WritePresence(ctx, userID, w.online, w.at); err != nil {
		logger.Log.Warn("Failed to persist presence",
			logger.WithUserID(userID),
			zap.Bool("online", w.online),
			zap.Error(err))
	}
}

// DBWriter stores presence on the users row
type DBWriter struct {
	db *gorm.DB
}

// NewDBWriter creates a LastSeenWriter backed by the users table
func NewDBWriter(db *gorm.DB) *DBWriter {
	return &DBWriter{db: db}
}

// WritePresence updates is_online and, when going offline, last_seen_at
func (w *DBWriter) WritePresence(ctx context.Context, userID string, online bool, at time.Time) error {
	updates := map[string]interface{}{"is_online": online}
	if !online {
		updates["last_seen_at"] = at
	}
	return w.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
}
