// ABOUTME: Configuration loading and parsing for livechat-server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete livechat-server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds operator token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds message-delivery tuning knobs
type ChatConfig struct {
	MaxMessageLength int `yaml:"max_message_length"` // default 2000
	PollPageSize     int `yaml:"poll_page_size"`     // default 50
	InitialBacklog   int `yaml:"initial_backlog"`    // messages returned for since=0, default 10
	ListPageSize     int `yaml:"list_page_size"`     // conversation listing default 20

	SessionIdleTimeout time.Duration `yaml:"-"`
	SweepInterval      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout"`
	SweepIntervalRaw      string `yaml:"sweep_interval"`
}

// RelayConfig holds the optional Redis event relay configuration
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied after parsing when fields are zero.
const (
	DefaultMaxMessageLength   = 2000
	DefaultPollPageSize       = 50
	DefaultInitialBacklog     = 10
	DefaultListPageSize       = 20
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultSweepInterval      = time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// applyDefaults fills zero-valued chat settings with their defaults.
func (c *Config) applyDefaults() {
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.Chat.PollPageSize <= 0 {
		c.Chat.PollPageSize = DefaultPollPageSize
	}
	if c.Chat.InitialBacklog <= 0 {
		c.Chat.InitialBacklog = DefaultInitialBacklog
	}
	if c.Chat.ListPageSize <= 0 {
		c.Chat.ListPageSize = DefaultListPageSize
	}
	if c.Chat.SessionIdleTimeout <= 0 {
		c.Chat.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if c.Chat.SweepInterval <= 0 {
		c.Chat.SweepInterval = DefaultSweepInterval
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Relay.Enabled && c.Relay.Addr == "" {
		return fmt.Errorf("relay.addr is required when relay is enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.SessionIdleTimeoutRaw != "" {
		cfg.Chat.SessionIdleTimeout, err = time.ParseDuration(cfg.Chat.SessionIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session_idle_timeout %q: %w", cfg.Chat.SessionIdleTimeoutRaw, err)
		}
	}

	if cfg.Chat.SweepIntervalRaw != "" {
		cfg.Chat.SweepInterval, err = time.ParseDuration(cfg.Chat.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Chat.SweepIntervalRaw, err)
		}
	}

	return nil
}
