// Package jobs はファイル解析ジョブの投入と実行を担います。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/parseflow/internal/config"
	"github.com/yourusername/parseflow/internal/files"
	"github.com/yourusername/parseflow/internal/progress"
)

const (
	taskTypeParse = "file:parse"
	queueFiles    = "files"
)

// TaskPayload は解析ジョブのペイロードです。
type TaskPayload struct {
	FileID string `json:"fileId"`
}

// Manager はジョブの投入とワーカーの起動/停止を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *Runner
	logger *log.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, store *files.Store, hub *progress.Hub, parser Parser, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if hub == nil {
		return nil, errors.New("hub is nil")
	}
	if parser == nil {
		parser = &SimulatedParser{
			Step:     cfg.ParseStepPercent,
			Interval: cfg.ParseTickInterval,
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queueFiles: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		runner: NewRunner(store, hub, parser, logger),
		logger: logger,
	}
	mux.HandleFunc(taskTypeParse, manager.handleParseTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Printf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue は解析ジョブをキューに投入します。
// タスクIDにファイルIDを使うことで、同一ファイルの二重投入はキュー側で
// 拒否されます（既に投入済みの場合はエラーにせずそのまま返します）。
func (m *Manager) Enqueue(ctx context.Context, fileID string) error {
	if fileID == "" {
		return fmt.Errorf("fileID is required")
	}

	body, err := json.Marshal(&TaskPayload{FileID: fileID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeParse, body, asynq.Queue(queueFiles))
	_, err = m.client.EnqueueContext(ctx, task, asynq.TaskID(fileID), asynq.MaxRetry(1))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			m.logger.Printf("parse task already scheduled fileID=%s", fileID)
			return nil
		}
		return err
	}
	return nil
}

func (m *Manager) handleParseTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.FileID == "" {
		return fmt.Errorf("missing fileId in payload")
	}
	return m.runner.Run(ctx, payload.FileID)
}
