package config

import (
	"os"
	"testing"
)

func TestInit_Defaults(t *testing.T) {
	os.Unsetenv("API_SERVER_PORT")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("REGISTRATION_ENABLED")
	os.Unsetenv("DERIV_APP_ID")
	os.Unsetenv("DERIV_WS_URL")

	Init()
	cfg := Get()

	if cfg.APIServerPort != 8080 {
		t.Errorf("default port should be 8080, got %d", cfg.APIServerPort)
	}
	if !cfg.RegistrationEnabled {
		t.Error("registration should default to enabled")
	}
	if cfg.DerivAppID != "1089" {
		t.Errorf("default app id should be 1089, got %s", cfg.DerivAppID)
	}
	if cfg.DerivWSURL != "wss://ws.derivws.com/websockets/v3" {
		t.Errorf("unexpected default ws url: %s", cfg.DerivWSURL)
	}
	if cfg.DatabasePath != "dtrader.db" {
		t.Errorf("unexpected default db path: %s", cfg.DatabasePath)
	}
}

func TestInit_EnvOverrides(t *testing.T) {
	t.Setenv("API_SERVER_PORT", "9191")
	t.Setenv("JWT_SECRET", "  secret-with-spaces  ")
	t.Setenv("REGISTRATION_ENABLED", "false")
	t.Setenv("INVITE_CODE_REQUIRED", "TRUE")
	t.Setenv("DERIV_APP_ID", "85077")
	t.Setenv("TELEGRAM_CHAT_ID", "-10012345")

	Init()
	cfg := Get()

	if cfg.APIServerPort != 9191 {
		t.Errorf("port override failed, got %d", cfg.APIServerPort)
	}
	if cfg.JWTSecret != "secret-with-spaces" {
		t.Errorf("jwt secret should be trimmed, got %q", cfg.JWTSecret)
	}
	if cfg.RegistrationEnabled {
		t.Error("registration should be disabled")
	}
	if !cfg.InviteCodeRequired {
		t.Error("invite code requirement should be enabled (case-insensitive)")
	}
	if cfg.DerivAppID != "85077" {
		t.Errorf("app id override failed, got %s", cfg.DerivAppID)
	}
	if cfg.TelegramChatID != -10012345 {
		t.Errorf("chat id parse failed, got %d", cfg.TelegramChatID)
	}
}

func TestInit_InvalidPortFallsBack(t *testing.T) {
	t.Setenv("API_SERVER_PORT", "not-a-port")

	Init()
	if Get().APIServerPort != 8080 {
		t.Errorf("invalid port should fall back to 8080, got %d", Get().APIServerPort)
	}
}

func TestEphemeralJWTSecret(t *testing.T) {
	a := EphemeralJWTSecret()
	b := EphemeralJWTSecret()
	if len(a) != 64 {
		t.Errorf("expected 32 random bytes hex-encoded, got len %d", len(a))
	}
	if a == b {
		t.Error("two generated secrets should differ")
	}
}
