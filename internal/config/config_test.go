// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  ws_addr: "0.0.0.0:8081"
  http_addr: "0.0.0.0:8080"
  allowed_origins:
    - "https://chat.example.com"

database:
  path: "./test.db"

redis:
  addr: "localhost:6379"
  db: 2

auth:
  jwt_secret: "test-secret"
  access_token_ttl: "20m"
  refresh_token_ttl: "72h"

presence:
  grace_period: "8s"
  away_threshold: "5m"

ephemeral:
  typing_debounce: "250ms"
  read_receipt_throttle: "150ms"
  rate_limit_per_second: 30

logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.WSAddr != "0.0.0.0:8081" {
		t.Errorf("Server.WSAddr = %q, want %q", cfg.Server.WSAddr, "0.0.0.0:8081")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Auth.AccessTokenTTL != 20*time.Minute {
		t.Errorf("Auth.AccessTokenTTL = %v, want %v", cfg.Auth.AccessTokenTTL, 20*time.Minute)
	}
	if cfg.Auth.RefreshTokenTTL != 72*time.Hour {
		t.Errorf("Auth.RefreshTokenTTL = %v, want %v", cfg.Auth.RefreshTokenTTL, 72*time.Hour)
	}
	if cfg.Presence.GracePeriod != 8*time.Second {
		t.Errorf("Presence.GracePeriod = %v, want %v", cfg.Presence.GracePeriod, 8*time.Second)
	}
	if cfg.Ephemeral.TypingDebounce != 250*time.Millisecond {
		t.Errorf("Ephemeral.TypingDebounce = %v, want %v", cfg.Ephemeral.TypingDebounce, 250*time.Millisecond)
	}
	if cfg.Ephemeral.RateLimitPerSecond != 30 {
		t.Errorf("Ephemeral.RateLimitPerSecond = %d, want 30", cfg.Ephemeral.RateLimitPerSecond)
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  http_addr: \":8080\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Presence.AwayThreshold != 10*time.Minute {
		t.Errorf("Presence.AwayThreshold default = %v, want %v", cfg.Presence.AwayThreshold, 10*time.Minute)
	}
	if cfg.Ephemeral.TypingDebounce != 300*time.Millisecond {
		t.Errorf("Ephemeral.TypingDebounce default = %v, want %v", cfg.Ephemeral.TypingDebounce, 300*time.Millisecond)
	}
	if cfg.OfflineQueue.MaxItemsPerUser != 1000 {
		t.Errorf("OfflineQueue.MaxItemsPerUser default = %d, want 1000", cfg.OfflineQueue.MaxItemsPerUser)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CHAT_JWT_SECRET", "expanded-secret")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "auth:\n  jwt_secret: \"${CHAT_JWT_SECRET}\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "expanded-secret")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "presence:\n  grace_period: \"not-a-duration\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() error = nil, want error for invalid duration")
	}
}
