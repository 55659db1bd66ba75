package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
)

// global configuration instance
var global *Config

// Config global configuration (loaded from .env / environment)
// Only truly global settings live here; trading parameters belong to the
// trader / strategy level and are stored per record.
type Config struct {
	// service
	APIServerPort       int
	JWTSecret           string
	RegistrationEnabled bool
	InviteCodeRequired  bool
	DatabasePath        string
	MetricsAddr         string

	// broker connection
	DerivAppID    string
	DerivWSURL    string
	DerivLanguage string

	// notifications
	TelegramBotToken string
	TelegramChatID   int64
}

// Init initializes the global configuration from environment variables
func Init() {
	cfg := &Config{
		APIServerPort:       8080,
		RegistrationEnabled: true,
		DatabasePath:        "dtrader.db",
		DerivAppID:          "1089",
		DerivWSURL:          "wss://ws.derivws.com/websockets/v3",
		DerivLanguage:       "en",
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = strings.TrimSpace(v)
	}

	if v := os.Getenv("REGISTRATION_ENABLED"); v != "" {
		cfg.RegistrationEnabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("INVITE_CODE_REQUIRED"); v != "" {
		cfg.InviteCodeRequired = strings.ToLower(v) == "true"
	}

	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}

	if v := strings.TrimSpace(os.Getenv("DATABASE_PATH")); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(os.Getenv("METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}

	if v := strings.TrimSpace(os.Getenv("DERIV_APP_ID")); v != "" {
		cfg.DerivAppID = v
	}
	if v := strings.TrimSpace(os.Getenv("DERIV_WS_URL")); v != "" {
		cfg.DerivWSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DERIV_LANGUAGE")); v != "" {
		cfg.DerivLanguage = v
	}

	cfg.TelegramBotToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	global = cfg
}

// Get returns the global configuration
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}

// EphemeralJWTSecret generates a random secret for installs that did not set
// JWT_SECRET. Sessions will not survive a restart; callers should warn.
func EphemeralJWTSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "dtrader-fallback-jwt-secret-change-in-production"
	}
	return hex.EncodeToString(buf)
}
