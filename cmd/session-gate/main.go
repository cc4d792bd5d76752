package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/session-gate/api/swagger"
	"github.com/noah-isme/session-gate/internal/handler"
	"github.com/noah-isme/session-gate/internal/middleware"
	"github.com/noah-isme/session-gate/internal/repository"
	"github.com/noah-isme/session-gate/internal/service"
	"github.com/noah-isme/session-gate/internal/token"
	"github.com/noah-isme/session-gate/pkg/cache"
	"github.com/noah-isme/session-gate/pkg/config"
	"github.com/noah-isme/session-gate/pkg/database"
	"github.com/noah-isme/session-gate/pkg/jobs"
	"github.com/noah-isme/session-gate/pkg/logger"
	corsmiddleware "github.com/noah-isme/session-gate/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/session-gate/pkg/middleware/requestid"
)

// @title Session Gate API
// @version 1.0.0
// @description Session and credential lifecycle service
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	sessionRepo := repository.NewSessionRepository(db)
	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)

	var sessionCache service.SessionCache
	if cfg.Session.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		cacheRepo := repository.NewCacheRepository(redisClient, logr, cfg.Session.CacheTTL)
		defer cacheRepo.Close() //nolint:errcheck
		sessionCache = cacheRepo
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := service.NewEventRecorder(eventRepo, logr, jobs.QueueConfig{Workers: 2, BufferSize: 256})
	recorder.Start(ctx)
	defer recorder.Stop()

	touchQueue := jobs.NewQueue("activity_touch", func(ctx context.Context, job jobs.Job) error {
		ts, ok := job.Payload.(time.Time)
		if !ok {
			return nil
		}
		touchCtx, cancel := context.WithTimeout(ctx, cfg.Session.StoreTimeout)
		defer cancel()
		return sessionRepo.TouchActivity(touchCtx, job.ID, ts)
	}, jobs.QueueConfig{Workers: 2, BufferSize: 1024, Logger: logr})
	touchQueue.Start(ctx)
	defer touchQueue.Stop()

	codec := token.NewCodec(cfg.Token)
	creds := service.NewBcryptVerifier(userRepo, logr)
	metrics := service.NewMetricsService()

	sessionSvc := service.NewSessionService(
		sessionRepo,
		sessionCache,
		codec,
		creds,
		recorder,
		metrics,
		touchQueue,
		validator.New(),
		logr,
		service.SessionPolicy{
			AccessTTL:     cfg.Token.AccessTTL,
			RefreshTTL:    cfg.Token.RefreshTTL,
			SessionTTL:    cfg.Session.TTL,
			SingleSession: cfg.Session.SingleSession,
			StoreTimeout:  cfg.Session.StoreTimeout,
		},
	)

	sessionHandler := handler.NewSessionHandler(sessionSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	auth := api.Group("/auth")
	{
		auth.POST("/login", sessionHandler.Login)
		auth.POST("/refresh", sessionHandler.Refresh)

		protected := auth.Group("")
		protected.Use(middleware.Auth(sessionSvc))
		{
			protected.POST("/logout", sessionHandler.Logout)
			protected.GET("/sessions", sessionHandler.ListSessions)
			protected.GET("/me", sessionHandler.Me)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
