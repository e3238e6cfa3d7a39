package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8787", cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.NotificationCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.PurgeMessagesInterval)
	assert.Equal(t, 5*time.Minute, cfg.PurgeStoriesInterval)
	assert.Equal(t, 500, cfg.PurgeBatchSize)
	assert.Equal(t, DefaultBannedWords, cfg.SpamBannedWords)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 10.0, cfg.SocketMessageRate)
	assert.Equal(t, 20, cfg.SocketMessageBurst)
	assert.Equal(t, 30*time.Second, cfg.CallRingTimeout)
	assert.Equal(t, []byte("test-secret"), cfg.JWTSecret)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PURGE_STORIES_INTERVAL", "12h")
	t.Setenv("SPAM_BANNED_WORDS", " spam , , scam ")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.PurgeStoriesInterval)
	assert.Equal(t, []string{"spam", "scam"}, cfg.SpamBannedWords)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRejectsBadBatchSize(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PURGE_BATCH_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}
