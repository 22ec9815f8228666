package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/parseflow/internal/config"
	"github.com/yourusername/parseflow/internal/files"
	"github.com/yourusername/parseflow/internal/jobs"
	"github.com/yourusername/parseflow/internal/progress"
	"github.com/yourusername/parseflow/internal/storage"
)

// parseJobScheduler は files.Scheduler を jobs.Manager で実装するアダプターです。
type parseJobScheduler struct {
	manager *jobs.Manager
}

func (s *parseJobScheduler) Schedule(ctx context.Context, fileID string) error {
	return s.manager.Enqueue(ctx, fileID)
}

// application はHTTPハンドラー群が依存するコンポーネントの束です。
type application struct {
	service *files.Service
	hub     *progress.Hub
	manager *jobs.Manager
	logger  *log.Logger
}

func setupApplication(cfg *config.Config, logger *log.Logger) (*application, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opt)

	store := files.NewStore(redisClient, cfg.RecordTTL())

	local, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	hub := progress.NewHub(logger)
	manager, err := jobs.NewManager(cfg, store, hub, nil, logger)
	if err != nil {
		return nil, err
	}

	return &application{
		service: files.NewService(store, local, logger),
		hub:     hub,
		manager: manager,
		logger:  logger,
	}, nil
}

// registerFileRoutes はファイル関連のエンドポイントを登録します。
func registerFileRoutes(router *gin.Engine, app *application, cfg *config.Config) {
	opts := files.HandlerOptions{
		Scheduler:   &parseJobScheduler{manager: app.manager},
		MaxFileSize: cfg.MaxFileSize,
	}

	router.POST("/files", files.UploadHandler(app.service, opts))
	router.GET("/files", files.ListHandler(app.service))
	router.GET("/files/:id", files.ContentHandler(app.service))
	router.GET("/files/:id/progress", files.ProgressHandler(app.service))
	router.DELETE("/files/:id", files.DeleteHandler(app.service))

	router.GET("/ws/progress/:id", files.ProgressSocketHandler(app.hub, app.logger))
}
