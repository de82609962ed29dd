package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the FurniMart chat client.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	ChatStore  ChatStoreConfig  `yaml:"chat_store"`
	Session    SessionConfig    `yaml:"session"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
	Status     StatusConfig     `yaml:"status"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GatewayConfig contains the push-connection settings.
type GatewayConfig struct {
	URL               string        `yaml:"url"`
	Origin            string        `yaml:"origin"`
	AuthToken         string        `yaml:"auth_token"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	MessagesPerSecond int           `yaml:"messages_per_second"`
}

// ChatStoreConfig points at the REST service that owns chat persistence.
type ChatStoreConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SessionConfig identifies the local participant.
type SessionConfig struct {
	ParticipantID string `yaml:"participant_id"`
	DisplayName   string `yaml:"display_name"`
	Role          string `yaml:"role"` // "customer" or "manufacturer"
}

// SyncConfig tunes the synchronization core.
type SyncConfig struct {
	ReconnectBase          time.Duration `yaml:"reconnect_base"`
	ReconnectMaxAttempts   int           `yaml:"reconnect_max_attempts"`
	SendConfirmTimeout     time.Duration `yaml:"send_confirm_timeout"`
	ProvisionalMatchWindow time.Duration `yaml:"provisional_match_window"`
	TypingIdle             time.Duration `yaml:"typing_idle"`
	TypingExpiry           time.Duration `yaml:"typing_expiry"`
	ReceiptDebounce        time.Duration `yaml:"receipt_debounce"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	RingSize   int    `yaml:"ring_size"`
}

// StatusConfig contains the loopback status endpoint settings.
type StatusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:               "http://localhost:18700",
			Origin:            "https://chat.furnimart.local",
			DialTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			PingInterval:      30 * time.Second,
			PongTimeout:       10 * time.Second,
			MaxMessageSize:    262144, // 256KB
			MessagesPerSecond: 50,
		},
		ChatStore: ChatStoreConfig{
			BaseURL:        "http://localhost:18701",
			RequestTimeout: 15 * time.Second,
		},
		Session: SessionConfig{
			Role: "customer",
		},
		Sync: SyncConfig{
			ReconnectBase:          1 * time.Second,
			ReconnectMaxAttempts:   5,
			SendConfirmTimeout:     10 * time.Second,
			ProvisionalMatchWindow: 30 * time.Second,
			TypingIdle:             1 * time.Second,
			TypingExpiry:           3 * time.Second,
			ReceiptDebounce:        500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			RingSize:   500,
		},
		Status: StatusConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:8091",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if u, err := url.Parse(c.Gateway.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("gateway.url must use http(s):// or ws(s):// scheme")
	}
	if c.Gateway.DialTimeout <= 0 {
		return fmt.Errorf("gateway.dial_timeout must be positive")
	}
	if c.Gateway.MaxMessageSize <= 0 {
		return fmt.Errorf("gateway.max_message_size must be positive")
	}

	if c.ChatStore.BaseURL == "" {
		return fmt.Errorf("chat_store.base_url is required")
	}
	if u, err := url.Parse(c.ChatStore.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("chat_store.base_url must use http:// or https:// scheme")
	}
	if c.ChatStore.RequestTimeout <= 0 {
		return fmt.Errorf("chat_store.request_timeout must be positive")
	}

	if c.Session.ParticipantID == "" {
		return fmt.Errorf("session.participant_id is required")
	}
	switch c.Session.Role {
	case "customer", "manufacturer":
		// valid
	default:
		return fmt.Errorf("session.role must be one of: customer, manufacturer")
	}

	if c.Sync.ReconnectBase <= 0 {
		return fmt.Errorf("sync.reconnect_base must be positive")
	}
	if c.Sync.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("sync.reconnect_max_attempts must be positive")
	}
	if c.Sync.TypingExpiry < c.Sync.TypingIdle {
		return fmt.Errorf("sync.typing_expiry must not be shorter than sync.typing_idle")
	}
	if c.Sync.ReceiptDebounce <= 0 {
		return fmt.Errorf("sync.receipt_debounce must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Status.Enabled {
		if c.Status.ListenAddress == "" {
			return fmt.Errorf("status.listen_address is required when status is enabled")
		}
		host, _, err := net.SplitHostPort(c.Status.ListenAddress)
		if err != nil {
			return fmt.Errorf("status.listen_address is invalid: %w", err)
		}
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("status.listen_address should bind to a loopback address (e.g. 127.0.0.1)")
		}
	}

	return nil
}

// applyEnvOverrides applies FURNICHAT_ prefixed environment variables.
// Convention: FURNICHAT_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"FURNICHAT_GATEWAY_URL":            func(v string) { cfg.Gateway.URL = v },
		"FURNICHAT_GATEWAY_ORIGIN":         func(v string) { cfg.Gateway.Origin = v },
		"FURNICHAT_GATEWAY_AUTH_TOKEN":     func(v string) { cfg.Gateway.AuthToken = v },
		"FURNICHAT_GATEWAY_DIAL_TIMEOUT":   func(v string) { cfg.Gateway.DialTimeout = parseDuration(v, cfg.Gateway.DialTimeout) },
		"FURNICHAT_GATEWAY_WRITE_TIMEOUT":  func(v string) { cfg.Gateway.WriteTimeout = parseDuration(v, cfg.Gateway.WriteTimeout) },
		"FURNICHAT_GATEWAY_PING_INTERVAL":  func(v string) { cfg.Gateway.PingInterval = parseDuration(v, cfg.Gateway.PingInterval) },
		"FURNICHAT_CHAT_STORE_BASE_URL":    func(v string) { cfg.ChatStore.BaseURL = v },
		"FURNICHAT_SESSION_PARTICIPANT_ID": func(v string) { cfg.Session.ParticipantID = v },
		"FURNICHAT_SESSION_DISPLAY_NAME":   func(v string) { cfg.Session.DisplayName = v },
		"FURNICHAT_SESSION_ROLE":           func(v string) { cfg.Session.Role = v },
		"FURNICHAT_SYNC_RECONNECT_BASE": func(v string) {
			cfg.Sync.ReconnectBase = parseDuration(v, cfg.Sync.ReconnectBase)
		},
		"FURNICHAT_SYNC_RECONNECT_MAX_ATTEMPTS": func(v string) {
			cfg.Sync.ReconnectMaxAttempts = parseInt(v, cfg.Sync.ReconnectMaxAttempts)
		},
		"FURNICHAT_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"FURNICHAT_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"FURNICHAT_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"FURNICHAT_STATUS_ENABLED":        func(v string) { cfg.Status.Enabled = parseBool(v, cfg.Status.Enabled) },
		"FURNICHAT_STATUS_LISTEN_ADDRESS": func(v string) { cfg.Status.ListenAddress = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: gateway.url, chat_store.base_url, session identity,
// status.listen_address.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Logging.Level = newCfg.Logging.Level
	updated.Sync.TypingIdle = newCfg.Sync.TypingIdle
	updated.Sync.TypingExpiry = newCfg.Sync.TypingExpiry
	updated.Sync.ReceiptDebounce = newCfg.Sync.ReceiptDebounce
	updated.Sync.SendConfirmTimeout = newCfg.Sync.SendConfirmTimeout
	updated.Gateway.AuthToken = newCfg.Gateway.AuthToken
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Gateway.URL != new.Gateway.URL {
		warnings = append(warnings, "gateway.url requires restart")
	}
	if old.ChatStore.BaseURL != new.ChatStore.BaseURL {
		warnings = append(warnings, "chat_store.base_url requires restart")
	}
	if old.Session != new.Session {
		warnings = append(warnings, "session identity requires restart")
	}
	if old.Status.ListenAddress != new.Status.ListenAddress {
		warnings = append(warnings, "status.listen_address requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
