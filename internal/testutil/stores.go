// Package testutil holds fixtures shared by package tests: an in-memory gorm database,
// a miniredis-backed cache client, and seeded users.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/hearth-social/backend/internal/cache"
	"github.com/hearth-social/backend/internal/database"
	"github.com/hearth-social/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a migrated sqlite in-memory database private to t.
// The pool is pinned to one connection: every connection to ":memory:" is a new database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewTestRedis starts a miniredis server for t and returns a client wrapping it
func NewTestRedis(t *testing.T) (*cache.RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

// SeedUser inserts a user with fake profile data
func SeedUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	user := &models.User{
		Username: gofakeit.Username() + gofakeit.DigitN(6),
		FullName: gofakeit.Name(),
		Avatar:   gofakeit.URL(),
		Email:    gofakeit.Email(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedFollow makes follower follow followee
func SeedFollow(t *testing.T, db *gorm.DB, followerID, followeeID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Follow{FollowerID: followerID, FolloweeID: followeeID}).Error)
}
