// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアの実装種別
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// Session
	SessionMaxAge          time.Duration
	SessionCleanupInterval time.Duration
	BcryptCost             int

	// Borrowing
	LoanPeriod    time.Duration
	DueSoonWindow time.Duration
	LockTimeout   time.Duration

	// Pagination
	DefaultPerPage int
	MaxPerPage     int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	WorkerMetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = time.Duration(getEnvInt("SESSION_MAX_AGE", 86400)) * time.Second
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 0)
	cfg.LoanPeriod = getEnvDuration("LOAN_PERIOD", 14*24*time.Hour)
	cfg.DueSoonWindow = getEnvDuration("DUE_SOON_WINDOW", 72*time.Hour)
	cfg.LockTimeout = getEnvDuration("LOCK_TIMEOUT", 5*time.Second)
	cfg.DefaultPerPage = getEnvInt("DEFAULT_PER_PAGE", 25)
	cfg.MaxPerPage = getEnvInt("MAX_PER_PAGE", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の範囲を検証する。
func (c *Config) validate() error {
	var invalid []string
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		invalid = append(invalid, "STORE_DRIVER")
	}
	if c.SessionMaxAge <= 0 {
		invalid = append(invalid, "SESSION_MAX_AGE")
	}
	if c.SessionCleanupInterval <= 0 {
		invalid = append(invalid, "SESSION_CLEANUP_INTERVAL")
	}
	if c.LoanPeriod <= 0 {
		invalid = append(invalid, "LOAN_PERIOD")
	}
	if c.DueSoonWindow < 0 {
		invalid = append(invalid, "DUE_SOON_WINDOW")
	}
	if c.LockTimeout <= 0 {
		invalid = append(invalid, "LOCK_TIMEOUT")
	}
	if c.DefaultPerPage <= 0 || c.MaxPerPage < c.DefaultPerPage {
		invalid = append(invalid, "DEFAULT_PER_PAGE/MAX_PER_PAGE")
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		invalid = append(invalid, "RATE_LIMIT_GENERAL/RATE_LIMIT_AUTH")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %v", invalid)
	}
	return nil
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
