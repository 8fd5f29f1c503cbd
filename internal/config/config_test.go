package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supportchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_DefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)
	assert.NoError(t, config.Validate())

	assert.True(t, config.Database.Enabled)
	assert.Greater(t, config.Typing.StaleAfter, time.Duration(0))
	assert.Equal(t, "console", config.Log.Format)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing api", func(c *Config) { c.API = nil }},
		{"relative base url", func(c *Config) { c.API.BaseURL = "not a url" }},
		{"zero api timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"http push scheme", func(c *Config) { c.Push.URL = "http://localhost/ws" }},
		{"read timeout below ping", func(c *Config) { c.Push.ReadTimeout = c.Push.PingInterval }},
		{"zero push buffer", func(c *Config) { c.Push.BufferSize = 0 }},
		{"enabled db without path", func(c *Config) { c.Database.Path = "" }},
		{"zero stale window", func(c *Config) { c.Typing.StaleAfter = 0 }},
		{"negative throttle", func(c *Config) { c.Typing.ThrottleInterval = -time.Second }},
		{"max interval below interval", func(c *Config) { c.Polling.MaxInterval = time.Second }},
		{"zero page size", func(c *Config) { c.Polling.PageSize = 0 }},
		{"zero hub buffer", func(c *Config) { c.Hub.BufferSize = 0 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfig_DisabledDatabaseNeedsNoPath(t *testing.T) {
	config := DefaultConfig()
	config.Database.Enabled = false
	config.Database.Path = ""
	assert.NoError(t, config.Validate())
}

func TestConfig_EmptyPushURLDisablesPush(t *testing.T) {
	config := DefaultConfig()
	config.Push.URL = ""
	assert.NoError(t, config.Validate())
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("SUPPORTCHAT_API_BASE_URL", "https://support.example.com")
	t.Setenv("SUPPORTCHAT_TYPING_STALE_AFTER", "10s")
	t.Setenv("SUPPORTCHAT_POLLING_PAGE_SIZE", "20")
	t.Setenv("SUPPORTCHAT_DATABASE_ENABLED", "false")
	t.Setenv("SUPPORTCHAT_HUB_BUFFER_SIZE", "not-a-number")

	config := LoadFromEnv()

	assert.Equal(t, "https://support.example.com", config.API.BaseURL)
	assert.Equal(t, 10*time.Second, config.Typing.StaleAfter)
	assert.Equal(t, 20, config.Polling.PageSize)
	assert.False(t, config.Database.Enabled)
	assert.Equal(t, DefaultConfig().Hub.BufferSize, config.Hub.BufferSize, "invalid value keeps default")
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
api:
  base_url: https://support.example.com
  timeout: 5s
push:
  url: wss://push.example.com/ws
  ping_interval: 15s
database:
  enabled: false
typing:
  stale_after: 4s
schedule:
  id: sched-main
log:
  level: debug
  format: json
`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://support.example.com", config.API.BaseURL)
	assert.Equal(t, 5*time.Second, config.API.Timeout)
	assert.Equal(t, "wss://push.example.com/ws", config.Push.URL)
	assert.Equal(t, 15*time.Second, config.Push.PingInterval)
	assert.False(t, config.Database.Enabled)
	assert.Equal(t, 4*time.Second, config.Typing.StaleAfter)
	assert.Equal(t, "sched-main", config.Schedule.ID)
	assert.Equal(t, "json", config.Log.Format)
	assert.Equal(t, DefaultConfig().Polling.Interval, config.Polling.Interval, "unset keys keep defaults")
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, "api:\n  timeout: soon\n"))
	assert.Error(t, err, "bad duration")

	_, err = LoadFromFile(writeConfigFile(t, "log:\n  format: xml\n"))
	assert.Error(t, err, "file content must validate")
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("SUPPORTCHAT_SCHEDULE_ID", "from-env")
	t.Setenv("SUPPORTCHAT_LOG_LEVEL", "warn")

	path := writeConfigFile(t, "schedule:\n  id: from-file\n")
	config := LoadConfigWithPrecedence(path)

	assert.Equal(t, "from-file", config.Schedule.ID, "file wins over env")
	assert.Equal(t, "warn", config.Log.Level, "env wins over defaults")

	config = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, "from-env", config.Schedule.ID, "missing file falls back to env")

	config = LoadConfigWithPrecedence("")
	assert.Equal(t, "from-env", config.Schedule.ID)
}
