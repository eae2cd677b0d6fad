package catalog

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/pixel-forge/internal/jobs"
	"github.com/yourusername/pixel-forge/internal/webhook"
)

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, jobID, sourcePath string) error
}

// JobCreator は新規ジョブレコードを保存します。
type JobCreator interface {
	Create(ctx context.Context, record *jobs.Record) error
}

// UploadStorage はアップロードされたCSVの保存と削除を提供します。
type UploadStorage interface {
	SaveUpload(jobID, filename string, src io.Reader) (string, error)
	Remove(path string) error
}

// UploadHandler は POST /upload のハンドラーを返します。
// ジョブレコードを作成しキューに投入した時点でレスポンスを返し、行の処理は待ちません。
func UploadHandler(store JobCreator, storage UploadStorage, scheduler JobScheduler, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でCSVファイルを送信してください。",
			})
			return
		}
		if fileHeader.Filename == "" || fileHeader.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "アップロードされたCSVファイルが空です。",
			})
			return
		}
		if maxFileSize > 0 && fileHeader.Size > maxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": "CSVファイルのサイズが上限を超えています。",
			})
			return
		}
		if err := validateCSVFile(fileHeader); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		callbackURL := strings.TrimSpace(c.PostForm("webhook_url"))
		if callbackURL != "" {
			if err := webhook.ValidateURL(callbackURL); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "webhook_url の形式が不正です。",
				})
				return
			}
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "アップロードファイルの読み込みに失敗しました。",
			})
			return
		}
		defer src.Close()

		jobID := uuid.NewString()
		sourcePath, err := storage.SaveUpload(jobID, fileHeader.Filename, src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "アップロードファイルの保存に失敗しました。",
			})
			return
		}

		record := &jobs.Record{
			JobID:          jobID,
			SourceFilename: filepath.Base(fileHeader.Filename),
			CallbackURL:    callbackURL,
		}
		if err := store.Create(c.Request.Context(), record); err != nil {
			_ = storage.Remove(sourcePath)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの作成に失敗しました。",
			})
			return
		}

		if err := scheduler.Schedule(c.Request.Context(), jobID, sourcePath); err != nil {
			_ = storage.Remove(sourcePath)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの投入に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job_id": jobID,
			"status": jobs.StatusProcessing,
		})
	}
}

// validateCSVFile は拡張子と内容の両方でCSVかどうかを確認します。
func validateCSVFile(fileHeader *multipart.FileHeader) error {
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".csv") {
		return errors.New("CSVファイル（.csv）のみアップロードできます。")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return errors.New("アップロードファイルを開けませんでした。")
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return errors.New("アップロードファイルの判定に失敗しました。")
	}
	if !mtype.Is("text/csv") && !mtype.Is("text/plain") {
		return errors.New("CSVとして解釈できないファイルです。")
	}
	return nil
}
