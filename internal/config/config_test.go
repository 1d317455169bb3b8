package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.BotToken = "123:abc"
	cfg.OwnerID = 42
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".modbot", "modbot.db"), cfg.StorePath)
	assert.Equal(t, ".", cfg.CommandPrefix)
	assert.Equal(t, 3, cfg.WarningLimit)
	assert.Equal(t, 120*time.Second, cfg.CaptchaTimeout)
	assert.Equal(t, 8*time.Second, cfg.FloodWindow)
	assert.Equal(t, 6, cfg.FloodMessageLimit)
	assert.Equal(t, 5*time.Minute, cfg.FloodMuteDuration)
	assert.Equal(t, 900, cfg.SpamMaxLength)
	assert.Equal(t, 45*time.Second, cfg.AdminMentionCooldown)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, RateWindowMemory, cfg.RateWindowBackend)
	assert.Equal(t, 3000, cfg.HealthPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Zero(t, cfg.RelayMappingRetention)
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
bot_token: "123:abc"
owner_id: 1001
relay_admin_ids: [2002, 3003]
store_driver: mongo
mongo_uri: mongodb://db:27017
flood_window: 10s
flood_message_limit: 4
captcha_timeout: 90s
log_level: debug
log_format: text
health_port: 8080
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, int64(1001), cfg.OwnerID)
	assert.Equal(t, []int64{2002, 3003}, cfg.RelayAdminIDs)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI)
	assert.Equal(t, 10*time.Second, cfg.FloodWindow)
	assert.Equal(t, 4, cfg.FloodMessageLimit)
	assert.Equal(t, 90*time.Second, cfg.CaptchaTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 8080, cfg.HealthPort)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log_level: info
owner_id: 1
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("MODBOT_LOG_LEVEL", "warn")
	t.Setenv("MODBOT_OWNER_ID", "777")
	t.Setenv("MODBOT_RELAY_ADMIN_IDS", "10, 20,30")
	t.Setenv("MODBOT_FLOOD_WINDOW", "3s")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, int64(777), cfg.OwnerID)
	assert.Equal(t, []int64{10, 20, 30}, cfg.RelayAdminIDs)
	assert.Equal(t, 3*time.Second, cfg.FloodWindow)
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.RelayAdminIDs)
}

func TestLoadConfig_BadRelayAdmins(t *testing.T) {
	t.Setenv("MODBOT_RELAY_ADMIN_IDS", "10,abc")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay_admin_ids")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing token",
			modify:  func(c *Config) { c.BotToken = "" },
			wantErr: true,
		},
		{
			name:    "missing owner",
			modify:  func(c *Config) { c.OwnerID = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "unknown store driver",
			modify:  func(c *Config) { c.StoreDriver = "postgres" },
			wantErr: true,
		},
		{
			name: "redis backend without url",
			modify: func(c *Config) {
				c.RateWindowBackend = RateWindowRedis
				c.RedisURL = ""
			},
			wantErr: true,
		},
		{
			name: "redis backend with url",
			modify: func(c *Config) {
				c.RateWindowBackend = RateWindowRedis
				c.RedisURL = "redis://localhost:6379/0"
			},
			wantErr: false,
		},
		{
			name:    "zero flood window",
			modify:  func(c *Config) { c.FloodWindow = 0 },
			wantErr: true,
		},
		{
			name:    "zero flood limit",
			modify:  func(c *Config) { c.FloodMessageLimit = 0 },
			wantErr: true,
		},
		{
			name:    "negative retention",
			modify:  func(c *Config) { c.RelayMappingRetention = -time.Hour },
			wantErr: true,
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.HealthPort = 70000 },
			wantErr: true,
		},
		{
			name: "base delay greater than max",
			modify: func(c *Config) {
				c.ReconnectBaseDelay = 10 * time.Minute
				c.ReconnectMaxDelay = 1 * time.Minute
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsOwner(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.IsOwner(42))
	assert.False(t, cfg.IsOwner(43))

	cfg.OwnerID = 0
	assert.False(t, cfg.IsOwner(0))
}
