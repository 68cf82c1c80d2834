package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 通知ドライバー
const (
	NotifyDriverLog     = "log"
	NotifyDriverResend  = "resend"
	NotifyDriverWebhook = "webhook"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	StoreTimeout      time.Duration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Server
	ServerPort      string
	BaseURL         string
	ShutdownTimeout time.Duration

	// Admin
	AdminAPIToken string

	// Notification
	NotifyDriver      string
	NotifyWorkers     int
	NotifyQueueSize   int
	NotifyMaxAttempts int
	NotifySendTimeout time.Duration
	ResendAPIKey      string
	MailFrom          string
	NotifyWebhookURL  string

	// Rate Limit（req/min/IP）
	RateLimitAccess int
	RateLimitAdmin  int

	// Retention
	TokenRetentionDays int
	CleanupInterval    time.Duration

	// Logging
	LogLevel string

	// CORS
	CORSAllowedOrigin string

	// 転送ヘッダーを信頼するプロキシ（CIDRまたは単一IP）。空なら転送ヘッダーは使わない。
	TrustedProxies []netip.Prefix
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが無い場合は何もしない。
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、不足分をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	if cfg.AdminAPIToken == "" {
		missing = append(missing, "ADMIN_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.NotifyDriver = strings.ToLower(getEnvString("NOTIFY_DRIVER", NotifyDriverLog))
	cfg.NotifyWorkers = getEnvInt("NOTIFY_WORKERS", 4)
	cfg.NotifyQueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", 256)
	cfg.NotifyMaxAttempts = getEnvInt("NOTIFY_MAX_ATTEMPTS", 5)
	cfg.NotifySendTimeout = getEnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second)
	cfg.ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "")
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.RateLimitAccess = getEnvInt("RATE_LIMIT_ACCESS", 30)
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 120)
	cfg.TokenRetentionDays = getEnvInt("TOKEN_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	proxies, err := ParseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.TrustedProxies = proxies

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値どうしの整合性を検証する。
func (c *Config) validate() error {
	var problems []string

	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		problems = append(problems, "BASE_URL must start with http:// or https://")
	}

	switch c.NotifyDriver {
	case NotifyDriverLog:
	case NotifyDriverResend:
		if c.ResendAPIKey == "" || c.MailFrom == "" {
			problems = append(problems, "NOTIFY_DRIVER=resend requires RESEND_API_KEY and MAIL_FROM")
		}
	case NotifyDriverWebhook:
		if c.NotifyWebhookURL == "" {
			problems = append(problems, "NOTIFY_DRIVER=webhook requires NOTIFY_WEBHOOK_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown NOTIFY_DRIVER %q", c.NotifyDriver))
	}

	if c.StoreTimeout <= 0 {
		problems = append(problems, "STORE_TIMEOUT must be positive")
	}
	if c.NotifyWorkers < 1 || c.NotifyQueueSize < 1 || c.NotifyMaxAttempts < 1 {
		problems = append(problems, "NOTIFY_WORKERS, NOTIFY_QUEUE_SIZE and NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RateLimitAccess < 1 || c.RateLimitAdmin < 1 {
		problems = append(problems, "RATE_LIMIT_ACCESS and RATE_LIMIT_ADMIN must be at least 1")
	}
	if c.TokenRetentionDays < 1 {
		problems = append(problems, "TOKEN_RETENTION_DAYS must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseTrustedProxies はカンマ区切りのCIDRまたはIPアドレスを解析する。
func ParseTrustedProxies(v string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
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
