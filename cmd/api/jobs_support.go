package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pixel-forge/internal/catalog"
	"github.com/yourusername/pixel-forge/internal/config"
	"github.com/yourusername/pixel-forge/internal/images"
	"github.com/yourusername/pixel-forge/internal/jobs"
	"github.com/yourusername/pixel-forge/internal/storage"
	"github.com/yourusername/pixel-forge/internal/webhook"
)

type catalogJobScheduler struct {
	manager *jobs.Manager
}

func (s *catalogJobScheduler) Schedule(ctx context.Context, jobID, sourcePath string) error {
	return s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID:      jobID,
		SourcePath: sourcePath,
	})
}

func setupJobs(cfg *config.Config, local *storage.Local, logger *log.Logger) (*jobs.Store, *jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opt)

	ttl := time.Duration(cfg.JobExpireMinutes) * time.Minute
	store := jobs.NewStore(redisClient, ttl)

	processor := images.NewProcessor(local, time.Duration(cfg.FetchTimeoutSeconds)*time.Second, logger)
	notifier := webhook.NewClient(time.Duration(cfg.WebhookTimeoutSeconds)*time.Second, cfg.ResultBaseURL, logger)
	executor, err := catalog.NewExecutor(store, processor, notifier, local, logger)
	if err != nil {
		return nil, nil, err
	}

	manager, err := jobs.NewManager(cfg, executor, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, manager, nil
}

func jobStatusHandler(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "job_id を指定してください。",
			})
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"job_id": record.JobID,
			"status": record.Status,
		}
		if record.Status == jobs.StatusCompleted {
			payload["result_url"] = "/download/" + record.JobID
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDownloadHandler(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "job_id を指定してください。",
			})
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil || record.Status != jobs.StatusCompleted || record.ResultPath == "" {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_RESULT_NOT_FOUND",
				"message": "ジョブの成果物が見つかりませんでした。",
			})
			return
		}

		file, err := os.Open(record.ResultPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}

		downloadName := fmt.Sprintf("processed_results_%s.csv", record.JobID)
		encodedName := url.PathEscape(downloadName)
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", downloadName, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.JobID)
		c.DataFromReader(http.StatusOK, info.Size(), "text/csv", file, nil)
	}
}
