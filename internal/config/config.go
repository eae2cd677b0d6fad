// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル設定
	MaxFileSize    int64  // アップロードCSVの最大サイズ（バイト）
	UploadDir      string // アップロードCSVの一時保存先
	ImageOutputDir string // 変換後画像の保存先
	ResultDir      string // 結果CSVの保存先

	// ジョブ/キュー設定
	QueueRedisURL     string // Asynq用Redis接続URL
	WorkerConcurrency int    // 同時に実行するジョブ数の上限
	JobExpireMinutes  int    // ジョブレコードの有効期限（分）。0の場合は無期限に保持

	// 画像取得/通知設定
	FetchTimeoutSeconds   int    // 画像1枚あたりの取得タイムアウト（秒）
	WebhookTimeoutSeconds int    // コールバック通知のタイムアウト（秒）
	ResultBaseURL         string // result_url 生成用のベースURL（空の場合は相対パス）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ファイル設定
		MaxFileSize:    getEnvAsInt64("MAX_FILE_SIZE", 10485760), // 10MB
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		ImageOutputDir: getEnv("IMAGE_OUTPUT_DIR", "processed_images"),
		ResultDir:      getEnv("RESULT_DIR", "output_csv"),

		// ジョブ/キュー設定
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		JobExpireMinutes:  getEnvAsInt("JOB_EXPIRE_MINUTES", 0),

		// 画像取得/通知設定
		FetchTimeoutSeconds:   getEnvAsInt("FETCH_TIMEOUT_SECONDS", 30),
		WebhookTimeoutSeconds: getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 30),
		ResultBaseURL:         getEnv("RESULT_BASE_URL", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.UploadDir == "" || c.ImageOutputDir == "" || c.ResultDir == "" {
		return fmt.Errorf("UPLOAD_DIR, IMAGE_OUTPUT_DIR and RESULT_DIR are required")
	}

	// 本番環境では接続先を明示させる
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
