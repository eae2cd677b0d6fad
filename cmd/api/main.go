// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/pixel-forge/internal/catalog"
	"github.com/yourusername/pixel-forge/internal/config"
	"github.com/yourusername/pixel-forge/internal/jobs"
	"github.com/yourusername/pixel-forge/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()

	// 保存先ディレクトリの準備
	local, err := storage.NewLocal(cfg)
	if err != nil {
		log.Fatalf("Failed to prepare storage: %v", err)
	}

	// ジョブ基盤（Redisストア・ワーカープール）の準備
	store, manager, err := setupJobs(cfg, local, logger)
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}
	manager.StartWorkers()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, local, store, manager)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pixel-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API のルーティングを行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, local *storage.Local, store *jobs.Store, manager *jobs.Manager) {
	router.GET("/health", handleHealth)

	scheduler := &catalogJobScheduler{manager: manager}
	router.POST("/upload", catalog.UploadHandler(store, local, scheduler, cfg.MaxFileSize))
	router.GET("/status/:id", jobStatusHandler(store))
	router.GET("/download/:id", jobDownloadHandler(store))

	// 変換後画像の公開（結果CSV内の出力URLから参照される）
	router.Static("/processed_images", cfg.ImageOutputDir)
}
