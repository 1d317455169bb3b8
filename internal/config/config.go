// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// Rate window backends.
const (
	RateWindowMemory = "memory"
	RateWindowRedis  = "redis"
)

// defaultDataDir returns the default directory for the SQLite database.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".modbot")
}

// Config holds all configuration for the moderation bot.
type Config struct {
	// Telegram
	BotToken      string        `mapstructure:"bot_token"`
	BotUsername   string        `mapstructure:"bot_username"`
	OwnerID       int64         `mapstructure:"owner_id"`
	RelayAdminIDs []int64       `mapstructure:"relay_admin_ids"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`

	// Moderation
	CommandPrefix        string        `mapstructure:"command_prefix"`
	WarningLimit         int           `mapstructure:"warning_limit"`
	CaptchaTimeout       time.Duration `mapstructure:"captcha_timeout"`
	FloodWindow          time.Duration `mapstructure:"flood_window"`
	FloodMessageLimit    int           `mapstructure:"flood_message_limit"`
	FloodMuteDuration    time.Duration `mapstructure:"flood_mute_duration"`
	SpamMaxLength        int           `mapstructure:"spam_max_length"`
	AdminMentionCooldown time.Duration `mapstructure:"admin_mention_cooldown"`

	// Storage
	StoreDriver   string `mapstructure:"store_driver"`
	StorePath     string `mapstructure:"store_path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`

	// In-memory state
	RateWindowBackend string        `mapstructure:"rate_window_backend"`
	RedisURL          string        `mapstructure:"redis_url"`
	RateWindowMaxKeys int           `mapstructure:"rate_window_max_keys"`
	WizardMaxSessions int           `mapstructure:"wizard_max_sessions"`
	WizardSessionTTL  time.Duration `mapstructure:"wizard_session_ttl"`

	// Moderation events
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`

	// Housekeeping
	HousekeepingInterval  time.Duration `mapstructure:"housekeeping_interval"`
	RelayMappingRetention time.Duration `mapstructure:"relay_mapping_retention"`

	// Queues & Reconnection
	UpdateQueueSize    int           `mapstructure:"update_queue_size"`
	ModlogQueueSize    int           `mapstructure:"modlog_queue_size"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`

	// Health
	HealthPort int `mapstructure:"health_port"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollTimeout:           60 * time.Second,
		CommandPrefix:         ".",
		WarningLimit:          3,
		CaptchaTimeout:        120 * time.Second,
		FloodWindow:           8 * time.Second,
		FloodMessageLimit:     6,
		FloodMuteDuration:     5 * time.Minute,
		SpamMaxLength:         900,
		AdminMentionCooldown:  45 * time.Second,
		StoreDriver:           StoreSQLite,
		StorePath:             filepath.Join(defaultDataDir(), "modbot.db"),
		MongoURI:              "mongodb://localhost:27017",
		MongoDatabase:         "modbot",
		RateWindowBackend:     RateWindowMemory,
		RateWindowMaxKeys:     10000,
		WizardMaxSessions:     1000,
		WizardSessionTTL:      30 * time.Minute,
		NATSSubject:           "modbot.moderation",
		HousekeepingInterval:  time.Minute,
		RelayMappingRetention: 0,
		UpdateQueueSize:       100,
		ModlogQueueSize:       256,
		ReconnectBaseDelay:    1 * time.Second,
		ReconnectMaxDelay:     2 * time.Minute,
		HealthPort:            3000,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// LoadConfig loads configuration from .env, file, environment, and defaults.
// Priority: CLI flags > Environment (.env included) > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is the normal case in containers.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("bot_token", "")
	v.SetDefault("bot_username", "")
	v.SetDefault("owner_id", 0)
	v.SetDefault("relay_admin_ids", "")
	v.SetDefault("poll_timeout", defaults.PollTimeout)
	v.SetDefault("command_prefix", defaults.CommandPrefix)
	v.SetDefault("warning_limit", defaults.WarningLimit)
	v.SetDefault("captcha_timeout", defaults.CaptchaTimeout)
	v.SetDefault("flood_window", defaults.FloodWindow)
	v.SetDefault("flood_message_limit", defaults.FloodMessageLimit)
	v.SetDefault("flood_mute_duration", defaults.FloodMuteDuration)
	v.SetDefault("spam_max_length", defaults.SpamMaxLength)
	v.SetDefault("admin_mention_cooldown", defaults.AdminMentionCooldown)
	v.SetDefault("store_driver", defaults.StoreDriver)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("mongo_uri", defaults.MongoURI)
	v.SetDefault("mongo_database", defaults.MongoDatabase)
	v.SetDefault("rate_window_backend", defaults.RateWindowBackend)
	v.SetDefault("redis_url", "")
	v.SetDefault("rate_window_max_keys", defaults.RateWindowMaxKeys)
	v.SetDefault("wizard_max_sessions", defaults.WizardMaxSessions)
	v.SetDefault("wizard_session_ttl", defaults.WizardSessionTTL)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", defaults.NATSSubject)
	v.SetDefault("housekeeping_interval", defaults.HousekeepingInterval)
	v.SetDefault("relay_mapping_retention", defaults.RelayMappingRetention)
	v.SetDefault("update_queue_size", defaults.UpdateQueueSize)
	v.SetDefault("modlog_queue_size", defaults.ModlogQueueSize)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("health_port", defaults.HealthPort)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with MODBOT_ prefix
	v.SetEnvPrefix("MODBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// relay_admin_ids comes from a comma list in env and a sequence in files.
	relayAdmins, err := parseIDList(v.Get("relay_admin_ids"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay_admin_ids: %w", err)
	}
	v.Set("relay_admin_ids", []int64{})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.RelayAdminIDs = relayAdmins

	return cfg, nil
}

// parseIDList accepts "1,2,3", []any{1, 2} or []string{"1"} and returns the ids.
func parseIDList(raw any) ([]int64, error) {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	case []int64:
		return val, nil
	case []int:
		ids := make([]int64, 0, len(val))
		for _, id := range val {
			ids = append(ids, int64(id))
		}
		return ids, nil
	default:
		parts = []string{fmt.Sprint(val)}
	}

	var ids []int64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot token is required")
	}
	if c.OwnerID == 0 {
		return fmt.Errorf("owner id is required")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.CommandPrefix == "" {
		return fmt.Errorf("command prefix must not be empty")
	}

	switch c.StoreDriver {
	case StoreSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be sqlite or mongo)", c.StoreDriver)
	}

	switch c.RateWindowBackend {
	case RateWindowMemory:
	case RateWindowRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis rate window backend")
		}
	default:
		return fmt.Errorf("invalid rate window backend: %s (must be memory or redis)", c.RateWindowBackend)
	}

	// Validate moderation windows
	if c.FloodWindow <= 0 {
		return fmt.Errorf("flood window must be positive")
	}
	if c.FloodMessageLimit <= 0 {
		return fmt.Errorf("flood message limit must be positive")
	}
	if c.CaptchaTimeout <= 0 {
		return fmt.Errorf("captcha timeout must be positive")
	}
	if c.WarningLimit <= 0 {
		return fmt.Errorf("warning limit must be positive")
	}
	if c.WizardSessionTTL <= 0 {
		return fmt.Errorf("wizard session ttl must be positive")
	}
	if c.HousekeepingInterval <= 0 {
		return fmt.Errorf("housekeeping interval must be positive")
	}
	if c.RelayMappingRetention < 0 {
		return fmt.Errorf("relay mapping retention must be non-negative")
	}

	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d (must be 0-65535)", c.HealthPort)
	}

	// Validate reconnect settings
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("reconnect max delay must be positive")
	}
	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	return nil
}

// IsOwner reports whether userID is the configured owner.
func (c *Config) IsOwner(userID int64) bool {
	return c.OwnerID != 0 && userID == c.OwnerID
}
