package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultBannedWords is the live-chat filter list used when SPAM_BANNED_WORDS is unset
var DefaultBannedWords = []string{
	"buy followers",
	"free money",
	"click here",
	"bit.ly/",
	"crypto giveaway",
	"onlyfans.com",
}

// Config holds everything the server and the purge CLI need at startup
type Config struct {
	Environment string
	Port        string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret []byte

	LogLevel string
	LogFile  string

	NotificationCacheTTL time.Duration

	PurgeMessagesInterval time.Duration
	PurgeStoriesInterval  time.Duration
	PurgeBatchSize        int

	SpamBannedWords []string

	AllowedOrigins     []string
	SocketMessageRate  float64
	SocketMessageBurst int
	CallRingTimeout    time.Duration

	AWSRegion    string
	AWSBucket    string
	CDNBaseURL   string
	SESFromEmail string
	SESFromName  string
	WebBaseURL   string

	OTelEnabled      bool
	OTelEndpoint     string
	OTelSamplingRate float64
}

// Load reads an optional .env file and then the process environment.
// JWT_SECRET is the only required variable.
func Load() (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Environment:           v.GetString("ENVIRONMENT"),
		Port:                  v.GetString("PORT"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		JWTSecret:             []byte(v.GetString("JWT_SECRET")),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFile:               v.GetString("LOG_FILE"),
		NotificationCacheTTL:  v.GetDuration("NOTIFICATION_CACHE_TTL"),
		PurgeMessagesInterval: v.GetDuration("PURGE_MESSAGES_INTERVAL"),
		PurgeStoriesInterval:  v.GetDuration("PURGE_STORIES_INTERVAL"),
		PurgeBatchSize:        v.GetInt("PURGE_BATCH_SIZE"),
		SpamBannedWords:       parseList(v.GetString("SPAM_BANNED_WORDS")),
		AllowedOrigins:        parseList(v.GetString("ALLOWED_ORIGINS")),
		SocketMessageRate:     v.GetFloat64("SOCKET_MESSAGE_RATE"),
		SocketMessageBurst:    v.GetInt("SOCKET_MESSAGE_BURST"),
		CallRingTimeout:       v.GetDuration("CALL_RING_TIMEOUT"),
		AWSRegion:             v.GetString("AWS_REGION"),
		AWSBucket:             v.GetString("AWS_BUCKET"),
		CDNBaseURL:            v.GetString("CDN_BASE_URL"),
		SESFromEmail:          v.GetString("SES_FROM_EMAIL"),
		SESFromName:           v.GetString("SES_FROM_NAME"),
		WebBaseURL:            v.GetString("WEB_BASE_URL"),
		OTelEnabled:           v.GetBool("OTEL_ENABLED"),
		OTelEndpoint:          v.GetString("OTEL_ENDPOINT"),
		OTelSamplingRate:      v.GetFloat64("OTEL_SAMPLING_RATE"),
	}

	if len(cfg.SpamBannedWords) == 0 {
		cfg.SpamBannedWords = DefaultBannedWords
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", "8787")
	v.SetDefault("DATABASE_URL", "host=localhost port=5432 user=postgres dbname=hearth sslmode=disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "server.log")
	v.SetDefault("NOTIFICATION_CACHE_TTL", 60*time.Second)
	v.SetDefault("PURGE_MESSAGES_INTERVAL", 5*time.Minute)
	v.SetDefault("PURGE_STORIES_INTERVAL", 5*time.Minute)
	v.SetDefault("PURGE_BATCH_SIZE", 500)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("SOCKET_MESSAGE_RATE", 10.0)
	v.SetDefault("SOCKET_MESSAGE_BURST", 20)
	v.SetDefault("CALL_RING_TIMEOUT", 30*time.Second)
	v.SetDefault("SES_FROM_NAME", "Hearth")
	v.SetDefault("WEB_BASE_URL", "http://localhost:3000")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_ENDPOINT", "localhost:4318")
	v.SetDefault("OTEL_SAMPLING_RATE", 1.0)
}

func (c *Config) validate() error {
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.NotificationCacheTTL <= 0 {
		return fmt.Errorf("NOTIFICATION_CACHE_TTL must be positive, got %s", c.NotificationCacheTTL)
	}
	if c.PurgeMessagesInterval <= 0 || c.PurgeStoriesInterval <= 0 {
		return fmt.Errorf("purge intervals must be positive")
	}
	if c.SocketMessageRate <= 0 || c.SocketMessageBurst <= 0 {
		return fmt.Errorf("socket message rate and burst must be positive")
	}
	if c.PurgeBatchSize <= 0 {
		return fmt.Errorf("PURGE_BATCH_SIZE must be positive, got %d", c.PurgeBatchSize)
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is "production"
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
