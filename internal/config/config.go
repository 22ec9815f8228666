// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ストレージ設定
	UploadDir   string // アップロードファイルの保存先ディレクトリ
	MaxFileSize int64  // 単一ファイルの最大サイズ（バイト）

	// レコードストア設定
	RedisURL         string // Redis接続URL（レコードストアとキューで共用）
	RecordTTLMinutes int    // ファイルレコードの有効期限（分、0で無期限）

	// 解析ワーカー設定
	WorkerConcurrency int           // Asynqワーカーの並列数
	ParseTickInterval time.Duration // 解析シミュレーションの進捗刻み間隔
	ParseStepPercent  int           // 1刻みあたりの進捗増分（%）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8080,http://127.0.0.1:8080"),

		// ストレージ設定
		UploadDir:   getEnv("UPLOAD_DIR", "./uploads"),
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB

		// レコードストア設定
		RedisURL:         getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		RecordTTLMinutes: getEnvAsInt("RECORD_TTL_MINUTES", 0),

		// 解析ワーカー設定
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		ParseTickInterval: time.Duration(getEnvAsInt("PARSE_TICK_MILLIS", 1000)) * time.Millisecond,
		ParseStepPercent:  getEnvAsInt("PARSE_STEP_PERCENT", 10),
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
	if c.ParseStepPercent <= 0 || c.ParseStepPercent > 100 {
		return fmt.Errorf("PARSE_STEP_PERCENT must be in 1..100, got %d", c.ParseStepPercent)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}

	// ローカル開発では既定値で動作する
	// 本番環境では接続先を厳格にチェックする想定
	if c.GinMode == "release" {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required in release mode")
		}
	}

	return nil
}

// RecordTTL はレコードの有効期限を time.Duration で返します（0で無期限）。
func (c *Config) RecordTTL() time.Duration {
	if c.RecordTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.RecordTTLMinutes) * time.Minute
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
