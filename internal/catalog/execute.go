// Package catalog はCSVバッチジョブの実行パイプラインを提供します。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/yourusername/pixel-forge/internal/images"
	"github.com/yourusername/pixel-forge/internal/jobs"
)

// Store はジョブと行の永続化を提供します。
type Store interface {
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
	AppendRow(ctx context.Context, row *jobs.Row) error
	ListRows(ctx context.Context, jobID string) ([]jobs.Row, error)
	MarkCompleted(ctx context.Context, jobID, resultPath string) error
	MarkFailed(ctx context.Context, jobID string, errInfo *jobs.ErrorInfo) error
}

// RowProcessor は1行分の入力画像を変換します。
type RowProcessor interface {
	ProcessAll(ctx context.Context, inputRefs []string) []images.Outcome
}

// Notifier はジョブ終了時のコールバック通知を送信します。
type Notifier interface {
	Notify(ctx context.Context, record *jobs.Record)
}

// ResultStorage は結果CSVの保存先と一時ファイルの削除を提供します。
type ResultStorage interface {
	ResultPath(jobID string) string
	Remove(path string) error
}

// Executor は1つのジョブを最後まで実行します。
// 1つのジョブを終了状態へ遷移させるのは、そのジョブを担当する Executor だけです。
type Executor struct {
	store     Store
	processor RowProcessor
	notifier  Notifier
	storage   ResultStorage
	logger    *log.Logger
}

// NewExecutor は Executor を作成します。
func NewExecutor(store Store, processor RowProcessor, notifier Notifier, storage ResultStorage, logger *log.Logger) (*Executor, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if processor == nil {
		return nil, errors.New("processor is nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier is nil")
	}
	if storage == nil {
		return nil, errors.New("storage is nil")
	}
	return &Executor{
		store:     store,
		processor: processor,
		notifier:  notifier,
		storage:   storage,
		logger:    logger,
	}, nil
}

// RunJob はジョブを実行し、終了状態への遷移・通知・一時ファイルの削除まで行います。
// 行単位・画像単位の失敗ではジョブは失敗になりません。
// 失敗になるのは入力CSVが読めない場合と、保存・集計に失敗した場合だけです。
func (e *Executor) RunJob(ctx context.Context, jobID, sourcePath string) error {
	// アップロードされたCSVはどの経路で終了しても必ず削除する
	defer func() {
		if err := e.storage.Remove(sourcePath); err != nil {
			e.logf("failed to remove source file job=%s path=%s: %v", jobID, sourcePath, err)
		}
	}()

	runErr := e.run(ctx, jobID, sourcePath)
	if runErr != nil {
		e.logf("job pipeline failed job=%s: %v", jobID, runErr)
		if err := e.store.MarkFailed(ctx, jobID, &jobs.ErrorInfo{
			Code:    "PIPELINE_ERROR",
			Message: runErr.Error(),
		}); err != nil {
			e.logf("failed to mark job failed job=%s: %v", jobID, err)
		}
	}

	// 通知は終了状態の如何にかかわらず、確定後に一度だけ行う
	e.notify(ctx, jobID)
	return runErr
}

func (e *Executor) run(ctx context.Context, jobID, sourcePath string) error {
	file, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source table: %w", err)
	}
	rows, rowErrs, err := parseSource(file)
	file.Close()
	if err != nil {
		return err
	}
	for _, rowErr := range rowErrs {
		e.logf("skipping unparsable row job=%s line=%d: %v", jobID, rowErr.line, rowErr.err)
	}

	for _, src := range rows {
		outcomes := e.processor.ProcessAll(ctx, src.inputRefs)

		row := &jobs.Row{
			JobID:        jobID,
			SerialNumber: src.serialNumber,
			ProductName:  src.productName,
			InputRefs:    src.inputRefs,
		}
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				row.FailedInputs++
				continue
			}
			row.OutputRefs = append(row.OutputRefs, outcome.OutputRef)
		}

		// 変換に1枚も成功しなかった行も保存対象
		if err := e.store.AppendRow(ctx, row); err != nil {
			return fmt.Errorf("failed to persist row serial=%d: %w", src.serialNumber, err)
		}
	}

	resultPath, err := e.renderResult(ctx, jobID)
	if err != nil {
		return err
	}
	if err := e.store.MarkCompleted(ctx, jobID, resultPath); err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	return nil
}

// notify は確定済みレコードを読み直して通知します。
func (e *Executor) notify(ctx context.Context, jobID string) {
	record, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.logf("failed to load job for notification job=%s: %v", jobID, err)
		return
	}
	if record == nil {
		e.logf("job disappeared before notification job=%s", jobID)
		return
	}
	e.notifier.Notify(ctx, record)
}

func (e *Executor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
