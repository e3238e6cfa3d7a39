package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/auth"
	"github.com/hearth-social/backend/internal/cache"
	"github.com/hearth-social/backend/internal/config"
	"github.com/hearth-social/backend/internal/database"
	"github.com/hearth-social/backend/internal/email"
	"github.com/hearth-social/backend/internal/handlers"
	"github.com/hearth-social/backend/internal/live"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/messages"
	"github.com/hearth-social/backend/internal/middleware"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/presence"
	"github.com/hearth-social/backend/internal/purge"
	"github.com/hearth-social/backend/internal/social"
	"github.com/hearth-social/backend/internal/spam"
	"github.com/hearth-social/backend/internal/storage"
	"github.com/hearth-social/backend/internal/telemetry"
	"github.com/hearth-social/backend/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "hearth-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Log.Info("=== Hearth server starting ===",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Tracing
	tp, err := telemetry.InitTracer(context.Background(), telemetry.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTelEndpoint,
		Enabled:      cfg.OTelEnabled,
		SamplingRate: cfg.OTelSamplingRate,
	})
	if err != nil {
		logger.WarnWithFields("OpenTelemetry disabled", err)
	}

	// Database
	db, err := database.Initialize(cfg.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		logger.FatalWithFields("Failed to initialize database", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		logger.FatalWithFields("Failed to run migrations", err)
	}
	if err := db.Use(telemetry.NewGORMPlugin(nil)); err != nil {
		logger.WarnWithFields("Database tracing disabled", err)
	}

	// Redis is optional: without it the notification cache always misses
	// and the HTTP rate limiter lets everything through
	redisClient, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.WarnWithFields("Redis unavailable, running without cache", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var (
		pageStore   notifications.Store
		keyDeleter  purge.KeyDeleter
		rateCounter middleware.WindowCounter
	)
	if redisClient != nil {
		pageStore = redisClient
		keyDeleter = redisClient
		rateCounter = redisClient
	}

	// Object storage
	var media purge.MediaDeleter
	if cfg.AWSBucket != "" {
		store, err := storage.NewS3MediaStore(cfg.AWSRegion, cfg.AWSBucket, cfg.CDNBaseURL)
		if err != nil {
			logger.WarnWithFields("S3 unavailable, story media will not be deleted", err)
		} else {
			if err := store.CheckBucketAccess(context.Background()); err != nil {
				logger.WarnWithFields("S3 bucket access check failed", err)
			}
			media = store
		}
	}

	// Realtime core
	tracker := presence.NewTracker(presence.NewDBWriter(db))
	hub := websocket.NewHub(tracker, nil)
	hub.SetRateLimitConfig(websocket.RateLimitConfig{
		MessagesPerSecond: cfg.SocketMessageRate,
		Burst:             cfg.SocketMessageBurst,
	})

	notes := notifications.NewService(db, notifications.NewCache(pageStore, cfg.NotificationCacheTTL), hub, tracker)
	if cfg.SESFromEmail != "" {
		mailer, err := email.NewEmailService(cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.WebBaseURL)
		if err != nil {
			logger.WarnWithFields("SES unavailable, offline users get no e-mail", err)
		} else {
			notes.SetMailer(mailer)
		}
	}

	socialService := social.NewService(db, notes, hub)
	hub.SetContactLister(socialService)

	messageService := messages.NewService(db, hub, notes)
	messageService.RegisterSocketHandlers(hub)

	streams := live.NewStreams(hub, spam.NewGuard(cfg.SpamBannedWords))
	streams.RegisterSocketHandlers()
	calls := live.NewCalls(hub, cfg.CallRingTimeout)
	calls.RegisterSocketHandlers()

	authService := auth.NewService(cfg.JWTSecret, db)
	wsHandler := websocket.NewHandler(hub, authService, cfg.AllowedOrigins)
	wsHandler.RegisterDefaultHandlers()

	go hub.Run()

	// Purge
	scheduler := purge.NewScheduler(db, keyDeleter, media,
		purge.WithIntervals(cfg.PurgeMessagesInterval, cfg.PurgeStoriesInterval),
		purge.WithBatchSize(cfg.PurgeBatchSize))
	scheduler.Start()
	defer scheduler.Stop()

	h := handlers.NewHandlers(notes, socialService, tracker, messageService)
	h.SetPurgeScheduler(scheduler)

	// Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog("/health", "/metrics"))
	r.Use(middleware.Metrics())
	if tp != nil {
		r.Use(middleware.Tracing(serviceName))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	r.Use(cors.New(corsConfig))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/ws"})))

	r.GET("/health", healthCheck(db, redisClient))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := middleware.RequireAuth(authService)
	writeLimit := middleware.RateLimit(rateCounter, "write", 120, time.Minute)

	api := r.Group("/api/v1")
	{
		// Socket connection: token via ?token=... or Authorization header
		api.GET("/ws", wsHandler.HandleWebSocket)
		api.GET("/ws/stats", requireAuth, middleware.RequireAdmin(), wsHandler.HandleStats)

		authed := api.Group("")
		authed.Use(requireAuth)

		notificationsGroup := authed.Group("/notifications")
		{
			notificationsGroup.GET("", h.GetNotifications)
			notificationsGroup.GET("/unread-count", h.GetUnreadCount)
			notificationsGroup.POST("/read-all", writeLimit, h.MarkAllNotificationsRead)
			notificationsGroup.POST("/:id/read", writeLimit, h.MarkNotificationRead)
			notificationsGroup.DELETE("/:id", writeLimit, h.DeleteNotification)
		}

		users := authed.Group("/users")
		{
			users.POST("/:id/follow", writeLimit, h.FollowUser)
			users.DELETE("/:id/follow", writeLimit, h.UnfollowUser)
			users.GET("/:id/presence", h.GetUserPresence)
		}

		authed.POST("/presence", h.GetPresence)

		authed.POST("/conversations/:id/messages", writeLimit, h.SendMessage)
		authed.GET("/conversations/:id/messages", h.ListMessages)
		authed.DELETE("/messages/:id", writeLimit, h.DeleteMessage)

		admin := authed.Group("/admin")
		{
			admin.Use(middleware.RequireAdmin())
			admin.POST("/purge/:task", h.RunPurge)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Hearth backend listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.FatalWithFields("Failed to start server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		logger.WarnWithFields("Socket hub shutdown", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.ErrorWithFields("Server forced to shutdown", err)
	}
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			logger.WarnWithFields("Tracer shutdown", err)
		}
	}

	logger.Log.Info("Server exited")
}

func healthCheck(db *gorm.DB, redisClient *cache.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "ok", "redis": "disabled"}

		if err := database.Health(db); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(c.Request.Context()); err != nil {
				// Cache outages are reported without failing the check
				checks["redis"] = err.Error()
			}
		}

		c.JSON(status, gin.H{
			"status":    http.StatusText(status),
			"checks":    checks,
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	}
}
