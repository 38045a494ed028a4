// ABOUTME: Configuration loading and parsing for chat-core
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-core configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Presence   PresenceConfig   `yaml:"presence"`
	Ephemeral  EphemeralConfig  `yaml:"ephemeral"`
	OfflineQueue OfflineQueueConfig `yaml:"offline_queue"`
	Push       PushConfig       `yaml:"push"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	WSAddr         string   `yaml:"ws_addr"`
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds relational store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the shared cache / pub-sub bus connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds bearer-token settings.
type AuthConfig struct {
	JWTSecret            string `yaml:"jwt_secret"`
	AccessTokenTTLRaw    string `yaml:"access_token_ttl"`
	RefreshTokenTTLRaw   string `yaml:"refresh_token_ttl"`
	AccessTokenTTL       time.Duration `yaml:"-"`
	RefreshTokenTTL      time.Duration `yaml:"-"`
}

// PresenceConfig tunes the grace period and away threshold.
type PresenceConfig struct {
	GracePeriodRaw    string        `yaml:"grace_period"`
	AwayThresholdRaw  string        `yaml:"away_threshold"`
	GracePeriod       time.Duration `yaml:"-"`
	AwayThreshold     time.Duration `yaml:"-"`
}

// EphemeralConfig tunes the Ephemeral Signal Pipeline's debounce/throttle
// windows (§4.5).
type EphemeralConfig struct {
	TypingDebounceRaw    string        `yaml:"typing_debounce"`
	ReadReceiptThrottleRaw string      `yaml:"read_receipt_throttle"`
	PresenceBatchRaw     string        `yaml:"presence_batch"`
	ReactionBatchRaw     string        `yaml:"reaction_batch"`
	TypingDebounce       time.Duration `yaml:"-"`
	ReadReceiptThrottle  time.Duration `yaml:"-"`
	PresenceBatch        time.Duration `yaml:"-"`
	ReactionBatch        time.Duration `yaml:"-"`
	RateLimitPerSecond   int           `yaml:"rate_limit_per_second"`
}

// OfflineQueueConfig bounds the per-recipient queue.
type OfflineQueueConfig struct {
	MaxItemsPerUser int `yaml:"max_items_per_user"`
}

// PushConfig holds VAPID identity and housekeeping cadence.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject"`
	HousekeepingCron string `yaml:"housekeeping_cron"`
	RetentionDaysRaw string `yaml:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TailscaleConfig holds optional private-network listener configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	StateDir  string `yaml:"state_dir"`
	AuthKey   string `yaml:"auth_key"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in raw duration strings left blank in the YAML so
// parseDurations always has something sensible to parse.
func applyDefaults(cfg *Config) {
	if cfg.Auth.AccessTokenTTLRaw == "" {
		cfg.Auth.AccessTokenTTLRaw = "15m"
	}
	if cfg.Auth.RefreshTokenTTLRaw == "" {
		cfg.Auth.RefreshTokenTTLRaw = "168h"
	}
	if cfg.Presence.GracePeriodRaw == "" {
		cfg.Presence.GracePeriodRaw = "10s"
	}
	if cfg.Presence.AwayThresholdRaw == "" {
		cfg.Presence.AwayThresholdRaw = "10m"
	}
	if cfg.Ephemeral.TypingDebounceRaw == "" {
		cfg.Ephemeral.TypingDebounceRaw = "300ms"
	}
	if cfg.Ephemeral.ReadReceiptThrottleRaw == "" {
		cfg.Ephemeral.ReadReceiptThrottleRaw = "200ms"
	}
	if cfg.Ephemeral.PresenceBatchRaw == "" {
		cfg.Ephemeral.PresenceBatchRaw = "100ms"
	}
	if cfg.Ephemeral.ReactionBatchRaw == "" {
		cfg.Ephemeral.ReactionBatchRaw = "50ms"
	}
	if cfg.Ephemeral.RateLimitPerSecond == 0 {
		cfg.Ephemeral.RateLimitPerSecond = 20
	}
	if cfg.OfflineQueue.MaxItemsPerUser == 0 {
		cfg.OfflineQueue.MaxItemsPerUser = 1000
	}
	if cfg.Push.RetentionDaysRaw == "" {
		cfg.Push.RetentionDaysRaw = "720h"
	}
	if cfg.Push.HousekeepingCron == "" {
		cfg.Push.HousekeepingCron = "0 */6 * * *"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	parsers := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.access_token_ttl", cfg.Auth.AccessTokenTTLRaw, &cfg.Auth.AccessTokenTTL},
		{"auth.refresh_token_ttl", cfg.Auth.RefreshTokenTTLRaw, &cfg.Auth.RefreshTokenTTL},
		{"presence.grace_period", cfg.Presence.GracePeriodRaw, &cfg.Presence.GracePeriod},
		{"presence.away_threshold", cfg.Presence.AwayThresholdRaw, &cfg.Presence.AwayThreshold},
		{"ephemeral.typing_debounce", cfg.Ephemeral.TypingDebounceRaw, &cfg.Ephemeral.TypingDebounce},
		{"ephemeral.read_receipt_throttle", cfg.Ephemeral.ReadReceiptThrottleRaw, &cfg.Ephemeral.ReadReceiptThrottle},
		{"ephemeral.presence_batch", cfg.Ephemeral.PresenceBatchRaw, &cfg.Ephemeral.PresenceBatch},
		{"ephemeral.reaction_batch", cfg.Ephemeral.ReactionBatchRaw, &cfg.Ephemeral.ReactionBatch},
	}

	for _, p := range parsers {
		if p.raw == "" {
			continue
		}
		d, err := time.ParseDuration(p.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", p.name, p.raw, err)
		}
		*p.dst = d
	}

	return nil
}

// PushRetention parses the push retention window, defaulting to 30 days.
func (c *Config) PushRetention() time.Duration {
	if c.Push.RetentionDaysRaw == "" {
		return 30 * 24 * time.Hour
	}
	d, err := time.ParseDuration(c.Push.RetentionDaysRaw)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}
