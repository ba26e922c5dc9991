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

	// ジョブ設定
	WorkDir                string // ジョブ作業ディレクトリのルート
	JobExpireMinutes       int    // 終了済みジョブの保持期間（分）
	CleanupIntervalSeconds int    // クリーンアップの実行間隔（秒）
	JobTimeoutMinutes      int    // 1ジョブあたりの処理期限（分）
	StallTimeoutMinutes    int    // 処理中のまま停滞したジョブを打ち切るまでの時間（分、0なら期限の2倍）
	DownloadRetries        int    // ダウンロード失敗時の再試行回数
	JobResultBaseURL       string // 結果ファイル取得用のベースURL

	// 変換設定
	FFmpegPath   string // ffmpeg実行ファイルのパス
	AudioBitrate string // AAC出力のビットレート

	// 外部サービス設定
	LyricsAPIURL         string // Lyrica APIのベースURL（空なら歌詞取得を無効化）
	HTTPTimeoutSeconds   int    // カバー画像・歌詞取得のタイムアウト（秒）
	CacheRedisURL        string // メタデータキャッシュ用Redis接続URL（空なら無効）
	MetadataCacheSeconds int    // メタデータキャッシュの有効期間（秒）
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

		// ジョブ設定
		WorkDir:                getEnv("WORK_DIR", filepath.Join(os.TempDir(), "tune-forge")),
		JobExpireMinutes:       getEnvAsInt("JOB_EXPIRE_MINUTES", 10),
		CleanupIntervalSeconds: getEnvAsInt("CLEANUP_INTERVAL_SECONDS", 60),
		JobTimeoutMinutes:      getEnvAsInt("JOB_TIMEOUT_MINUTES", 30),
		StallTimeoutMinutes:    getEnvAsInt("STALL_TIMEOUT_MINUTES", 0),
		DownloadRetries:        getEnvAsInt("DOWNLOAD_RETRIES", 1),
		JobResultBaseURL:       getEnv("JOB_RESULT_BASE_URL", ""),

		// 変換設定
		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		AudioBitrate: getEnv("AUDIO_BITRATE", "192k"),

		// 外部サービス設定
		LyricsAPIURL:         getEnv("LYRICS_API_URL", "http://127.0.0.1:9999"),
		HTTPTimeoutSeconds:   getEnvAsInt("HTTP_TIMEOUT_SECONDS", 15),
		CacheRedisURL:        getEnv("CACHE_REDIS_URL", ""),
		MetadataCacheSeconds: getEnvAsInt("METADATA_CACHE_SECONDS", 300),
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
	if c.JobExpireMinutes < 0 {
		return fmt.Errorf("JOB_EXPIRE_MINUTES must not be negative")
	}
	if c.DownloadRetries < 0 {
		return fmt.Errorf("DOWNLOAD_RETRIES must not be negative")
	}

	// 本番環境では外部コマンドと作業領域を必須とする
	if c.GinMode == "release" {
		if c.FFmpegPath == "" {
			return fmt.Errorf("FFMPEG_PATH is required in release mode")
		}
		if c.WorkDir == "" {
			return fmt.Errorf("WORK_DIR is required in release mode")
		}
	}

	return nil
}

// JobTTL は終了済みジョブの保持期間を返します。
func (c *Config) JobTTL() time.Duration {
	minutes := c.JobExpireMinutes
	if minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

// CleanupInterval はクリーンアップの実行間隔を返します。
func (c *Config) CleanupInterval() time.Duration {
	seconds := c.CleanupIntervalSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// JobTimeout は1ジョブあたりの処理期限を返します。
func (c *Config) JobTimeout() time.Duration {
	minutes := c.JobTimeoutMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// StallTimeout は停滞ジョブを打ち切るまでの時間を返します。
func (c *Config) StallTimeout() time.Duration {
	if c.StallTimeoutMinutes > 0 {
		return time.Duration(c.StallTimeoutMinutes) * time.Minute
	}
	return 2 * c.JobTimeout()
}

// HTTPTimeout は外部HTTP呼び出しのタイムアウトを返します。
func (c *Config) HTTPTimeout() time.Duration {
	seconds := c.HTTPTimeoutSeconds
	if seconds <= 0 {
		seconds = 15
	}
	return time.Duration(seconds) * time.Second
}

// MetadataCacheTTL はメタデータキャッシュの有効期間を返します。
func (c *Config) MetadataCacheTTL() time.Duration {
	return time.Duration(c.MetadataCacheSeconds) * time.Second
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
