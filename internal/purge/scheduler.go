// Package purge permanently removes rows that are only logically gone: messages
// flagged as deleted and stories past their expiry. Each task runs on its own ticker.
package purge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/metrics"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// Task names, also used as metric labels and CLI arguments
	TaskMessages = "messages"
	TaskStories  = "stories"
	TaskAll      = "all"

	DefaultInterval  = 5 * time.Minute
	DefaultBatchSize = 500

	// Prefix of the per-user cached story list
	storyCachePrefix = "stories:"

	mediaDeleteTimeout = 30 * time.Second
)

// ErrUnknownTask is returned by Run for task names other than TaskMessages, TaskStories and TaskAll
var ErrUnknownTask = errors.New("unknown purge task")

// KeyDeleter removes cache keys
type KeyDeleter interface {
	Del(ctx context.Context, keys ...string) error
}

// MediaDeleter removes the stored object behind a public media URL
type MediaDeleter interface {
	DeleteURL(ctx context.Context, mediaURL string) error
}

// Result summarizes one pass of one task
type Result struct {
	Task     string        `json:"task"`
	Deleted  int           `json:"deleted"`
	Failed   int           `json:"failed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// StoryCacheKey is the cache key of userID's story list
func StoryCacheKey(userID string) string {
	return storyCachePrefix + userID
}

// Scheduler runs the message and story purges. A task never overlaps with itself:
// a pass requested while one is running is skipped.
type Scheduler struct {
	db    *gorm.DB
	cache KeyDeleter
	media MediaDeleter

	messagesInterval time.Duration
	storiesInterval  time.Duration
	batchSize        int
	now              func() time.Time

	messagesMu sync.Mutex
	storiesMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithIntervals sets the tick period of each task
func WithIntervals(messages, stories time.Duration) Option {
	return func(s *Scheduler) {
		if messages > 0 {
			s.messagesInterval = messages
		}
		if stories > 0 {
			s.storiesInterval = stories
		}
	}
}

// WithBatchSize sets how many candidate rows are loaded per query
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock replaces time.Now, used to decide story expiry
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler. cache and media may be nil, in which case story
// purges skip the cache key and media cleanup.
func NewScheduler(db *gorm.DB, cache KeyDeleter, media MediaDeleter, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		db:               db,
		cache:            cache,
		media:            media,
		messagesInterval: DefaultInterval,
		storiesInterval:  DefaultInterval,
		batchSize:        DefaultBatchSize,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches both task loops. Each task runs once immediately, then on every tick.
func (s *Scheduler) Start() {
	logger.Log.Info("Starting purge scheduler",
		zap.Duration("messages_interval", s.messagesInterval),
		zap.Duration("stories_interval", s.storiesInterval),
		zap.Int("batch_size", s.batchSize))

	s.wg.Add(2)
	go s.loop(s.messagesInterval, s.RunMessages)
	go s.loop(s.storiesInterval, s.RunStories)
}

// Stop cancels the loops and waits for an in-flight pass to return
func (s *Scheduler) Stop() {
	logger.Log.Info("Stopping purge scheduler")
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(interval time.Duration, run func(context.Context) Result) {
	defer s.wg.Done()

	run(s.ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// Run executes one pass of task ("messages", "stories" or "all")
func (s *Scheduler) Run(ctx context.Context, task string) ([]Result, error) {
	switch task {
	case TaskMessages:
		return []Result{s.RunMessages(ctx)}, nil
	case TaskStories:
		return []Result{s.RunStories(ctx)}, nil
	case TaskAll:
		return []Result{s.RunMessages(ctx), s.RunStories(ctx)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
}

// RunMessages hard-deletes every message flagged is_deleted, one batch per statement.
// A failed batch is logged and counted and the pass moves on.
func (s *Scheduler) RunMessages(ctx context.Context) Result {
	res := Result{Task: TaskMessages}
	if !s.messagesMu.TryLock() {
		res.Skipped = true
		return res
	}
	defer s.messagesMu.Unlock()

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "purge."+res.Task)
	var batch []models.Message
	err := s.db.WithContext(ctx).
		Select("id").
		Where("is_deleted = ?", true).
		FindInBatches(&batch, s.batchSize, func(tx *gorm.DB, n int) error {
			ids := make([]string, len(batch))
			for i, m := range batch {
				ids[i] = m.ID
			}

			del := s.db.WithContext(ctx).
				Where("id IN ? AND is_deleted = ?", ids, true).
				Delete(&models.Message{})
			if del.Error != nil {
				logger.Log.Error("Failed to purge message batch",
					zap.Int("batch_size", len(ids)),
					zap.Error(del.Error))
				res.Failed += len(ids)
				return nil
			}
			res.Deleted += int(del.RowsAffected)
			return ctx.Err()
		}).Error
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Error("Failed to query deleted messages", zap.Error(err))
	}

	return s.finish(span, res, start)
}

// RunStories removes every expired story: the owner's cached story list, the media
// object and the row. Cache and media cleanup are best effort; a row that fails to
// delete is logged and counted and the pass moves on.
func (s *Scheduler) RunStories(ctx context.Context) Result {
	res := Result{Task: TaskStories}
	if !s.storiesMu.TryLock() {
		res.Skipped = true
		return res
	}
	defer s.storiesMu.Unlock()

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "purge."+res.Task)
	cutoff := s.now().UTC()

	var batch []models.Story
	err := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		FindInBatches(&batch, s.batchSize, func(tx *gorm.DB, n int) error {
			for i := range batch {
				if s.purgeStory(ctx, &batch[i]) {
					res.Deleted++
				} else {
					res.Failed++
				}
			}
			return ctx.Err()
		}).Error
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Error("Failed to query expired stories", zap.Error(err))
	}

	return s.finish(span, res, start)
}

// purgeStory reports whether the row is gone afterwards
func (s *Scheduler) purgeStory(ctx context.Context, story *models.Story) bool {
	if s.cache != nil {
		if err := s.cache.Del(ctx, StoryCacheKey(story.UserID)); err != nil {
			logger.Log.Warn("Failed to drop story cache",
				logger.WithUserID(story.UserID),
				zap.String("story_id", story.ID),
				zap.Error(err))
		}
	}

	if s.media != nil && story.MediaURL != "" {
		mediaCtx, cancel := context.WithTimeout(ctx, mediaDeleteTimeout)
		err := s.media.DeleteURL(mediaCtx, story.MediaURL)
		cancel()
		if err != nil {
			logger.Log.Warn("Failed to delete story media",
				zap.String("story_id", story.ID),
				zap.String("media_url", story.MediaURL),
				zap.Error(err))
		}
	}

	if err := s.db.WithContext(ctx).Delete(&models.Story{}, "id = ?", story.ID).Error; err != nil {
		logger.Log.Error("Failed to purge story",
			zap.String("story_id", story.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *Scheduler) finish(span trace.Span, res Result, start time.Time) Result {
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("purge.deleted", res.Deleted),
		attribute.Int("purge.failed", res.Failed),
	)
	span.End()

	m := metrics.Get()
	m.PurgeDeletedTotal.WithLabelValues(res.Task).Add(float64(res.Deleted))
	m.PurgeFailuresTotal.WithLabelValues(res.Task).Add(float64(res.Failed))
	m.PurgeRunDuration.WithLabelValues(res.Task).Observe(res.Duration.Seconds())

	if res.Deleted > 0 || res.Failed > 0 {
		logger.Log.Info("Purge pass completed",
			zap.String("task", res.Task),
			zap.Int("deleted", res.Deleted),
			zap.Int("failed", res.Failed),
			zap.Duration("duration", res.Duration))
	} else {
		logger.Log.Debug("Purge pass found nothing", zap.String("task", res.Task))
	}
	return res
}
