package database

import (
	"fmt"
	"time"

	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB holds the process-wide connection opened by Initialize.
// Services receive the *gorm.DB explicitly; only cmd/ reads this.
var DB *gorm.DB

// Initialize creates and configures the database connection
func Initialize(databaseURL string, development bool) (*gorm.DB, error) {
	gormLogger := gormlogger.Default.LogMode(gormlogger.Warn)
	if development {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	logger.Log.Info("Database connected")

	return db, nil
}

// Migrate runs auto-migration for every model the realtime core owns
func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	err := db.AutoMigrate(
		&models.User{},
		&models.Follow{},
		&models.Notification{},
		&models.Conversation{},
		&models.ConversationMember{},
		&models.Message{},
		&models.Story{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Log.Info("Database migrations completed")
	return nil
}

// createIndexes creates indexes AutoMigrate cannot express.
// The statements are valid on both postgres and sqlite.
func createIndexes(db *gorm.DB) error {
	// One unread notification per (sender, receiver, post, type). post_id is nullable,
	// so it is coalesced: NULLs never collide in a unique index.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_unread_tuple
		ON notifications (sender_id, receiver_id, COALESCE(post_id, ''), type)
		WHERE is_read = false`).Error; err != nil {
		return err
	}

	// Purge scans
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_deleted ON messages (id) WHERE is_deleted = true",
		"CREATE INDEX IF NOT EXISTS idx_stories_user_expires ON stories (user_id, expires_at DESC)",
	} {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Log.Warn("Could not create index", zap.String("sql", stmt), zap.Error(err))
		}
	}
	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Health checks database connectivity
func Health(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}
