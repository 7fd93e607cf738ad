// Package config loads the server configuration from environment variables.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/akinalp/casedesk/pkg/ratelimit"
)

// Config is the whole server configuration, one struct per concern.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Upload   UploadConfig
	Chat     ChatConfig
	Email    EmailConfig
	Log      LogConfig
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS; empty means same-origin only
	// TrustedProxies are the reverse proxies whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the server faces clients
	// directly and only the peer address counts.
	TrustedProxies []netip.Prefix
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string
}

// JWTConfig configures token signing.
type JWTConfig struct {
	Secret             string
	AccessTokenExpiry  int // minutes
	RefreshTokenExpiry int // days
}

// UploadConfig configures attachment storage.
type UploadConfig struct {
	Dir     string
	MaxSize int64 // bytes per file
}

// ChatConfig tunes the messaging API.
type ChatConfig struct {
	PageSize      int           // default page size for message pages
	MaxPageSize   int           // upper bound for ?limit=
	SendEvery     time.Duration // one message token refills every SendEvery
	SendBurst     int           // messages a user may send back to back
	MembershipTTL time.Duration // how long membership checks are cached
}

// EmailConfig enables new-message notifications through Resend. Leaving
// ResendAPIKey empty disables them.
type EmailConfig struct {
	ResendAPIKey string
	From         string
	AppURL       string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string
	Dev   bool
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := envInt("SERVER_PORT", 9090)
	if err != nil {
		return nil, err
	}
	accessExpiry, err := envInt("JWT_ACCESS_EXPIRY_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	refreshExpiry, err := envInt("JWT_REFRESH_EXPIRY_DAYS", 7)
	if err != nil {
		return nil, err
	}
	maxSize, err := strconv.ParseInt(getEnv("UPLOAD_MAX_SIZE", "26214400"), 10, 64) // 25MB
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_SIZE: %w", err)
	}
	pageSize, err := envInt("CHAT_PAGE_SIZE", 50)
	if err != nil {
		return nil, err
	}
	maxPageSize, err := envInt("CHAT_MAX_PAGE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	sendEvery, err := envDuration("CHAT_SEND_EVERY", time.Second)
	if err != nil {
		return nil, err
	}
	sendBurst, err := envInt("CHAT_SEND_BURST", 5)
	if err != nil {
		return nil, err
	}
	membershipTTL, err := envDuration("CHAT_MEMBERSHIP_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	logDev, err := strconv.ParseBool(getEnv("LOG_DEV", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_DEV: %w", err)
	}

	trustedProxies, err := ratelimit.ParseTrustedProxies(splitList(getEnv("TRUSTED_PROXIES", "")))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if pageSize < 1 || maxPageSize < pageSize {
		return nil, fmt.Errorf("CHAT_PAGE_SIZE must be positive and at most CHAT_MAX_PAGE_SIZE")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
			TrustedProxies: trustedProxies,
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/casedesk.db"),
		},
		JWT: JWTConfig{
			Secret:             jwtSecret,
			AccessTokenExpiry:  accessExpiry,
			RefreshTokenExpiry: refreshExpiry,
		},
		Upload: UploadConfig{
			Dir:     getEnv("UPLOAD_DIR", "./data/uploads"),
			MaxSize: maxSize,
		},
		Chat: ChatConfig{
			PageSize:      pageSize,
			MaxPageSize:   maxPageSize,
			SendEvery:     sendEvery,
			SendBurst:     sendBurst,
			MembershipTTL: membershipTTL,
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "noreply@casedesk.app"),
			AppURL:       strings.TrimRight(getEnv("APP_URL", "http://localhost:5173"), "/"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			Dev:   logDev,
		},
	}

	return cfg, nil
}

// Addr returns host:port for http.Server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
