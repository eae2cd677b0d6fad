// Package jobs は非同期ジョブの投入・実行・状態管理を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/pixel-forge/internal/config"
)

const (
	taskTypeCatalog = "catalog:process"
	queueCatalog    = "catalog"
)

// Runner はジョブ本体の処理を実行します。
// 終了状態への遷移・通知・一時ファイルの削除は Runner 側の責務です。
type Runner interface {
	RunJob(ctx context.Context, jobID, sourcePath string) error
}

// TaskPayload はCSV処理ジョブのペイロードです。
type TaskPayload struct {
	JobID      string `json:"jobId"`
	SourcePath string `json:"sourcePath"`
}

// Manager はジョブの投入とワーカープールの管理を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	logger *log.Logger
}

// NewManager は Manager を初期化します。
// 同時に実行されるジョブ数は cfg.WorkerConcurrency で制限され、
// 超過分は Redis 上のキューで待機します。
func NewManager(cfg *config.Config, runner Runner, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueCatalog: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeCatalog, manager.handleCatalogTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue はジョブをキューに投入します。失敗したタスクのリトライは行いません。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) error {
	if payload == nil {
		return fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return fmt.Errorf("payload.JobID is required")
	}
	if payload.SourcePath == "" {
		return fmt.Errorf("payload.SourcePath is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeCatalog, body, asynq.Queue(queueCatalog))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return err
	}
	return nil
}

func (m *Manager) handleCatalogTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}
	return m.runner.RunJob(ctx, payload.JobID, payload.SourcePath)
}
