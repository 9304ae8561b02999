// Package config はクライアント全体の設定を提供する。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL  string
	HTTPTimeout time.Duration

	// セッション
	SessionFile          string
	SessionCheckInterval time.Duration

	// ポーリング
	PollInterval   time.Duration
	PollMaxRetries int

	// レート制限（req/sec換算前の req/min）
	RateLimitPerMinute int
	RateLimitBurst     int

	// チャット
	ChatIdleTimeout time.Duration

	// フェイクサーバー
	FakeServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数を上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはローカル開発用。存在しない場合のエラーは無視する。
	_ = godotenv.Load()

	cfg := &Config{}

	var missing []string

	cfg.APIBaseURL = os.Getenv("KIFUMAN_API_BASE_URL")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "KIFUMAN_API_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.HTTPTimeout = getEnvDuration("KIFUMAN_HTTP_TIMEOUT", 15*time.Second)
	cfg.SessionFile = getEnvString("KIFUMAN_SESSION_FILE", defaultSessionFile())
	cfg.SessionCheckInterval = getEnvDuration("KIFUMAN_SESSION_CHECK_INTERVAL", 60*time.Second)
	cfg.PollInterval = getEnvDuration("KIFUMAN_POLL_INTERVAL", 5*time.Second)
	cfg.PollMaxRetries = getEnvInt("KIFUMAN_POLL_MAX_RETRIES", 12)
	cfg.RateLimitPerMinute = getEnvInt("KIFUMAN_RATE_LIMIT_PER_MIN", 120)
	cfg.RateLimitBurst = getEnvInt("KIFUMAN_RATE_LIMIT_BURST", 30)
	cfg.ChatIdleTimeout = getEnvDuration("KIFUMAN_CHAT_IDLE_TIMEOUT", 5*time.Minute)
	cfg.FakeServerPort = getEnvString("KIFUMAN_FAKE_SERVER_PORT", "8089")

	return cfg, nil
}

// defaultSessionFile はセッションファイルのデフォルトパスを返す。
// ユーザー設定ディレクトリが取得できない場合はカレントディレクトリを使用する。
func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".kifuman-session.json"
	}
	return filepath.Join(dir, "kifuman", "session.json")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
