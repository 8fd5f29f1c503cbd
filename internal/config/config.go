package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the chat client.
type Config struct {
	API      *APIConfig      `yaml:"api"`
	Push     *PushConfig     `yaml:"push"`
	Database *DatabaseConfig `yaml:"database"`
	Typing   *TypingConfig   `yaml:"typing"`
	Polling  *PollingConfig  `yaml:"polling"`
	Hub      *HubConfig      `yaml:"hub"`
	Schedule *ScheduleConfig `yaml:"schedule"`
	Log      *LogConfig      `yaml:"log"`
	Metrics  *MetricsConfig  `yaml:"metrics"`
}

// APIConfig points at the support backend REST API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PushConfig describes the websocket push connection.
type PushConfig struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// DatabaseConfig controls the on-device message cache.
type DatabaseConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// TypingConfig holds the typing indicator policy.
type TypingConfig struct {
	StaleAfter       time.Duration `yaml:"stale_after"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
}

// PollingConfig controls the session queue poller.
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	PageSize    int           `yaml:"page_size"`
}

// HubConfig sizes the listener notification queue.
type HubConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ScheduleConfig selects the business hours schedule.
type ScheduleConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig optionally exposes prometheus metrics.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns settings that work against a local backend.
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Push: &PushConfig{
			URL:          "ws://localhost:8080/ws",
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Database: &DatabaseConfig{
			Enabled: true,
			Path:    "./supportchat.db",
			Timeout: 30 * time.Second,
		},
		Typing: &TypingConfig{
			StaleAfter:       6 * time.Second,
			ThrottleInterval: 3 * time.Second,
		},
		Polling: &PollingConfig{
			Interval:    5 * time.Second,
			MaxInterval: time.Minute,
			PageSize:    50,
		},
		Hub: &HubConfig{
			BufferSize: 256,
		},
		Schedule: &ScheduleConfig{},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: &MetricsConfig{},
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}

	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("API base URL is invalid: %w", err)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	if c.Push == nil {
		return fmt.Errorf("push configuration is required")
	}

	if c.Push.URL != "" {
		u, err := url.Parse(c.Push.URL)
		if err != nil {
			return fmt.Errorf("push URL is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("push URL must use ws or wss scheme")
		}
	}

	if c.Push.PingInterval <= 0 {
		return fmt.Errorf("push ping interval must be positive")
	}

	if c.Push.ReadTimeout <= c.Push.PingInterval {
		return fmt.Errorf("push read timeout must exceed ping interval")
	}

	if c.Push.WriteTimeout <= 0 {
		return fmt.Errorf("push write timeout must be positive")
	}

	if c.Push.BufferSize <= 0 {
		return fmt.Errorf("push buffer size must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.Typing == nil {
		return fmt.Errorf("typing configuration is required")
	}

	if c.Typing.StaleAfter <= 0 {
		return fmt.Errorf("typing stale window must be positive")
	}

	if c.Typing.ThrottleInterval < 0 {
		return fmt.Errorf("typing throttle interval cannot be negative")
	}

	if c.Polling == nil {
		return fmt.Errorf("polling configuration is required")
	}

	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}

	if c.Polling.MaxInterval < c.Polling.Interval {
		return fmt.Errorf("polling max interval must be at least the interval")
	}

	if c.Polling.PageSize <= 0 {
		return fmt.Errorf("polling page size must be positive")
	}

	if c.Hub == nil || c.Hub.BufferSize <= 0 {
		return fmt.Errorf("hub buffer size must be positive")
	}

	if c.Schedule == nil {
		return fmt.Errorf("schedule configuration is required")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be console or json")
	}

	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}

	return nil
}

// LoadFromEnv applies SUPPORTCHAT_* variables on top of the defaults.
// Unparseable values are ignored and the default is kept.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setString("SUPPORTCHAT_API_BASE_URL", &config.API.BaseURL)
	setDuration("SUPPORTCHAT_API_TIMEOUT", &config.API.Timeout)

	setString("SUPPORTCHAT_PUSH_URL", &config.Push.URL)
	setDuration("SUPPORTCHAT_PUSH_PING_INTERVAL", &config.Push.PingInterval)
	setDuration("SUPPORTCHAT_PUSH_READ_TIMEOUT", &config.Push.ReadTimeout)
	setDuration("SUPPORTCHAT_PUSH_WRITE_TIMEOUT", &config.Push.WriteTimeout)
	setInt("SUPPORTCHAT_PUSH_BUFFER_SIZE", &config.Push.BufferSize)

	setBool("SUPPORTCHAT_DATABASE_ENABLED", &config.Database.Enabled)
	setString("SUPPORTCHAT_DATABASE_PATH", &config.Database.Path)
	setDuration("SUPPORTCHAT_DATABASE_TIMEOUT", &config.Database.Timeout)

	setDuration("SUPPORTCHAT_TYPING_STALE_AFTER", &config.Typing.StaleAfter)
	setDuration("SUPPORTCHAT_TYPING_THROTTLE_INTERVAL", &config.Typing.ThrottleInterval)

	setDuration("SUPPORTCHAT_POLLING_INTERVAL", &config.Polling.Interval)
	setDuration("SUPPORTCHAT_POLLING_MAX_INTERVAL", &config.Polling.MaxInterval)
	setInt("SUPPORTCHAT_POLLING_PAGE_SIZE", &config.Polling.PageSize)

	setInt("SUPPORTCHAT_HUB_BUFFER_SIZE", &config.Hub.BufferSize)
	setString("SUPPORTCHAT_SCHEDULE_ID", &config.Schedule.ID)
	setString("SUPPORTCHAT_LOG_LEVEL", &config.Log.Level)
	setString("SUPPORTCHAT_LOG_FORMAT", &config.Log.Format)
	setString("SUPPORTCHAT_METRICS_ADDR", &config.Metrics.Addr)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ConfigFile is the YAML shape of the config file. Durations are strings
// so that "30s" style values can be parsed with time.ParseDuration.
type ConfigFile struct {
	API *struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Push *struct {
		URL          string `yaml:"url"`
		PingInterval string `yaml:"ping_interval"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		BufferSize   int    `yaml:"buffer_size"`
	} `yaml:"push"`
	Database *struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
		Timeout string `yaml:"timeout"`
	} `yaml:"database"`
	Typing *struct {
		StaleAfter       string `yaml:"stale_after"`
		ThrottleInterval string `yaml:"throttle_interval"`
	} `yaml:"typing"`
	Polling *struct {
		Interval    string `yaml:"interval"`
		MaxInterval string `yaml:"max_interval"`
		PageSize    int    `yaml:"page_size"`
	} `yaml:"polling"`
	Hub *struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"hub"`
	Schedule *ScheduleConfig `yaml:"schedule"`
	Log      *LogConfig      `yaml:"log"`
	Metrics  *MetricsConfig  `yaml:"metrics"`
}

// LoadFromFile reads a YAML config file over the defaults and validates it.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	if err := applyFile(config, data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func applyFile(config *Config, data []byte) error {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	if file.API != nil {
		overrideString(&config.API.BaseURL, file.API.BaseURL)
		if err := overrideDuration(&config.API.Timeout, file.API.Timeout); err != nil {
			return fmt.Errorf("api.timeout: %w", err)
		}
	}

	if file.Push != nil {
		overrideString(&config.Push.URL, file.Push.URL)
		if file.Push.BufferSize > 0 {
			config.Push.BufferSize = file.Push.BufferSize
		}
		if err := overrideDuration(&config.Push.PingInterval, file.Push.PingInterval); err != nil {
			return fmt.Errorf("push.ping_interval: %w", err)
		}
		if err := overrideDuration(&config.Push.ReadTimeout, file.Push.ReadTimeout); err != nil {
			return fmt.Errorf("push.read_timeout: %w", err)
		}
		if err := overrideDuration(&config.Push.WriteTimeout, file.Push.WriteTimeout); err != nil {
			return fmt.Errorf("push.write_timeout: %w", err)
		}
	}

	if file.Database != nil {
		if file.Database.Enabled != nil {
			config.Database.Enabled = *file.Database.Enabled
		}
		overrideString(&config.Database.Path, file.Database.Path)
		if err := overrideDuration(&config.Database.Timeout, file.Database.Timeout); err != nil {
			return fmt.Errorf("database.timeout: %w", err)
		}
	}

	if file.Typing != nil {
		if err := overrideDuration(&config.Typing.StaleAfter, file.Typing.StaleAfter); err != nil {
			return fmt.Errorf("typing.stale_after: %w", err)
		}
		if err := overrideDuration(&config.Typing.ThrottleInterval, file.Typing.ThrottleInterval); err != nil {
			return fmt.Errorf("typing.throttle_interval: %w", err)
		}
	}

	if file.Polling != nil {
		if file.Polling.PageSize > 0 {
			config.Polling.PageSize = file.Polling.PageSize
		}
		if err := overrideDuration(&config.Polling.Interval, file.Polling.Interval); err != nil {
			return fmt.Errorf("polling.interval: %w", err)
		}
		if err := overrideDuration(&config.Polling.MaxInterval, file.Polling.MaxInterval); err != nil {
			return fmt.Errorf("polling.max_interval: %w", err)
		}
	}

	if file.Hub != nil && file.Hub.BufferSize > 0 {
		config.Hub.BufferSize = file.Hub.BufferSize
	}

	if file.Schedule != nil {
		overrideString(&config.Schedule.ID, file.Schedule.ID)
	}

	if file.Log != nil {
		overrideString(&config.Log.Level, file.Log.Level)
		overrideString(&config.Log.Format, file.Log.Format)
	}

	if file.Metrics != nil {
		overrideString(&config.Metrics.Addr, file.Metrics.Addr)
	}

	return nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults.
// A missing or broken file falls back to environment and defaults.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if data, err := os.ReadFile(filepath); err == nil {
			candidate := LoadFromEnv()
			if err := applyFile(candidate, data); err == nil && candidate.Validate() == nil {
				config = candidate
			}
		}
	}

	return config
}
