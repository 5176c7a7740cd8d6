package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/workspace-hub-api/api/swagger"
	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/handler"
	"github.com/noah-isme/workspace-hub-api/internal/middleware"
	"github.com/noah-isme/workspace-hub-api/internal/repository"
	"github.com/noah-isme/workspace-hub-api/internal/service"
	"github.com/noah-isme/workspace-hub-api/internal/treasury"
	"github.com/noah-isme/workspace-hub-api/pkg/cache"
	"github.com/noah-isme/workspace-hub-api/pkg/config"
	"github.com/noah-isme/workspace-hub-api/pkg/database"
	"github.com/noah-isme/workspace-hub-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/workspace-hub-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/workspace-hub-api/pkg/middleware/requestid"
	"github.com/noah-isme/workspace-hub-api/pkg/storage"
)

// @title Workspace Hub API
// @version 1.0.0
// @description Permissioned multi-tenant resource registry
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		sugar.Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	blobs, err := storage.NewBlobStore(cfg.Attachments.StorageDir)
	if err != nil {
		sugar.Fatalw("failed to init attachment storage", "error", err)
	}
	signer := storage.NewSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	workspaceRepo := repository.NewWorkspaceRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	eventRepo := repository.NewEventRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	mutationGuard := guard.New()
	collector := treasury.New(cfg.Treasury, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()
	eventSvc := service.NewEventService(eventRepo, cacheRepo, cfg.Events, logr)
	eventSvc.Start(ctx)
	defer eventSvc.Stop()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "workspace-hub-api",
	})
	workspaceSvc := service.NewWorkspaceService(workspaceRepo, eventSvc, mutationGuard, validate, logr)
	documentSvc := service.NewDocumentService(documentRepo, workspaceRepo, eventSvc, mutationGuard, validate, logr)
	taskSvc := service.NewTaskService(taskRepo, workspaceRepo, eventSvc, mutationGuard, blobs, signer, cfg.Attachments.MaxFileSizeBytes, validate, logr)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, workspaceRepo, cacheRepo, collector, eventSvc, mutationGuard, cfg.Cache.SubscriptionTTL, validate, logr)
	reportSvc := service.NewReportService(taskRepo, workspaceRepo, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

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

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r, cfg.APIPrefix, authSvc, metricsSvc, handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Workspaces:    handler.NewWorkspaceHandler(workspaceSvc),
		Documents:     handler.NewDocumentHandler(documentSvc),
		Tasks:         handler.NewTaskHandler(taskSvc),
		Subscriptions: handler.NewSubscriptionHandler(subscriptionSvc),
		Events:        handler.NewEventHandler(eventSvc),
		Reports:       handler.NewReportHandler(reportSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}
