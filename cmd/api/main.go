package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/phixlab/nutrilens/backend/config"
	"github.com/phixlab/nutrilens/backend/internal/api"
	"github.com/phixlab/nutrilens/backend/internal/database"
	"github.com/phixlab/nutrilens/backend/internal/middleware"
	"github.com/phixlab/nutrilens/backend/internal/server"
	"github.com/phixlab/nutrilens/backend/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg)
	log := logrus.WithField("component", "main")

	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.RedisEnabled() {
		redisClient, err = database.NewRedisClient(ctx, cfg)
		if err != nil {
			if config.IsProduction() {
				log.Fatalf("Redis is required in production: %v", err)
			}
			log.WithError(err).Warn("Redis unavailable, falling back to in-memory sessions")
			redisClient = nil
		}
	}

	var sessionStore service.ISessionStore
	var limiter *middleware.RateLimiter
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		sessionStore = service.NewRedisSessionStore(redisClient, cfg.SessionTTL)
		if cfg.AnalyzeRateLimit > 0 {
			limiter = middleware.NewAnalyzeRateLimiter(redisClient, cfg.AnalyzeRateLimit)
		}
	} else {
		sessionStore = service.NewMemorySessionStore(cfg.SessionTTL)
	}

	var imageStore service.IImageStore
	switch {
	case cfg.S3BucketName != "":
		s3Config, err := config.NewS3Config(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3: %v", err)
		}
		s3Store := service.NewS3ImageStore(s3Config)
		if cfg.S3ImageExpiryDays > 0 {
			if err := s3Store.ExpireAfter(ctx, int32(cfg.S3ImageExpiryDays)); err != nil {
				log.WithError(err).Warn("Could not set image expiry on bucket, abandoned images will stay")
			}
		}
		imageStore = s3Store
		log.WithField("bucket", cfg.S3BucketName).Info("Storing images in S3")
	case redisClient != nil:
		// images expire together with their Redis session
		imageStore = service.NewRedisImageStore(redisClient, cfg.SessionTTL)
		log.Info("Storing images in Redis")
	default:
		imageStore = service.NewMemoryImageStore()
	}

	mock := service.NewMockAnalyzer(cfg.MockLatency, nil)
	var analyzer service.IAnalyzer = mock
	if cfg.AnalyzerMode == config.AnalyzerWebhook {
		analyzer = service.NewWebhookAnalyzer(cfg.WebhookURL, cfg.WebhookToken, cfg.AnalysisTimeout)
	}
	log.WithField("mode", cfg.AnalyzerMode).Info("Analyzer configured")

	sessions := service.NewSessionService(sessionStore, imageStore, analyzer, service.SessionOptions{
		AnalysisTimeout: cfg.AnalysisTimeout,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	})

	srv := server.New(cfg, api.Dependencies{
		Sessions:  sessions,
		Tokens:    service.NewTokenService(cfg.SessionSecret, cfg.SessionTTL),
		Estimator: mock,
		Limiter:   limiter,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AnalysisTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
		return
	}
	log.Info("Server stopped")
}

func setupLogging(cfg *config.Config) {
	if cfg.Env == config.Production {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
}
