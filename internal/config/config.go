// Package config はアプリケーション全体の設定を保持する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Cache
	CacheTTLSeconds int

	// Parser
	ParseTimeout          time.Duration
	MaxInjectionArticles  int
	InjectionBatchSize    int
	InjectionBatchPause   time.Duration
	OldArticleDateDiffMax time.Duration

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchInterval      time.Duration

	// Cache backing store
	CacheDBPath string

	// Server
	ServerPort string

	// Worker: the feed URLs a `worker` process polls on FetchInterval, since
	// scheduling which feeds exist is outside this module's scope.
	PollFeeds []string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.CacheTTLSeconds = getEnvInt("ARTICLES_CACHE_TTL_SECONDS", 300)
	cfg.ParseTimeout = getEnvDuration("ARTICLES_PARSE_TIMEOUT", 10*time.Second)
	cfg.MaxInjectionArticles = getEnvInt("ARTICLES_MAX_INJECTION_ARTICLE_COUNT", 100)
	cfg.InjectionBatchSize = getEnvInt("ARTICLES_INJECTION_BATCH_SIZE", 25)
	cfg.InjectionBatchPause = getEnvDuration("ARTICLES_INJECTION_BATCH_PAUSE", time.Second)
	cfg.OldArticleDateDiffMax = getEnvDuration("ARTICLES_OLD_ARTICLE_DATE_DIFF_MAX", 0)
	cfg.FetchTimeout = getEnvDuration("ARTICLES_FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("ARTICLES_FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("ARTICLES_FETCH_MAX_CONCURRENT", 10)
	cfg.FetchInterval = getEnvDuration("ARTICLES_FETCH_INTERVAL", 5*time.Minute)
	cfg.CacheDBPath = getEnvString("ARTICLES_CACHE_DB_PATH", "articles-cache.db")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.PollFeeds = getEnvStringList("ARTICLES_POLL_FEEDS")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvStringList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
