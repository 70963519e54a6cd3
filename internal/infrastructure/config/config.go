package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hublink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HubConfig contains the upstream hub connection settings.
//
// Durations are integer seconds in YAML, matching the rest of the file.
type HubConfig struct {
	// URL is the hub's WebSocket API endpoint, e.g. ws://homeassistant.local:8123/api/websocket.
	URL string `yaml:"url"`

	// RESTURL is the base URL of the hub's REST API.
	// If empty it is derived from URL (ws→http, wss→https, path dropped).
	RESTURL string `yaml:"rest_url"`

	// Token is the pre-shared long-lived access token.
	Token string `yaml:"token"`

	// PingInterval is the liveness heartbeat period. 0 disables the heartbeat.
	PingInterval int `yaml:"ping_interval"`

	// RetryDelay is the fixed spacing between reconnect attempts.
	RetryDelay int `yaml:"retry_delay"`

	// HandshakeTimeout bounds a single WebSocket dial.
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// RequestTimeout is the per-request response deadline.
	RequestTimeout int `yaml:"request_timeout"`

	// StaleAfter is the age at which the correlator sweep rejects a pending request.
	// Independent of RequestTimeout.
	StaleAfter int `yaml:"stale_after"`

	// SweepInterval is how often the correlator looks for stale requests.
	SweepInterval int `yaml:"sweep_interval"`

	// RunningPollInterval is how often get_config is polled until the hub reports RUNNING.
	RunningPollInterval int `yaml:"running_poll_interval"`

	// RunningRetryDelay is the delay after a failed get_config poll.
	RunningRetryDelay int `yaml:"running_retry_delay"`
}

// DatabaseConfig contains SQLite database settings for the state history store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds state_history. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the local event relay WebSocket.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUBLINK_SECTION_KEY
// For example: HUBLINK_HUB_TOKEN, HUBLINK_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			URL:                 "ws://localhost:8123/api/websocket",
			PingInterval:        30,
			RetryDelay:          1,
			HandshakeTimeout:    10,
			RequestTimeout:      10,
			StaleAfter:          120,
			SweepInterval:       10,
			RunningPollInterval: 3,
			RunningRetryDelay:   10,
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Path:          "./data/hublink.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HUBLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("HUBLINK_HUB_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("HUBLINK_HUB_TOKEN"); v != "" {
		cfg.Hub.Token = v
	}
	if v := os.Getenv("HUBLINK_HUB_PING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.PingInterval = n
		}
	}

	// Database
	if v := os.Getenv("HUBLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HUBLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HUBLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HUBLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HUBLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging. The level override is applied again by the logging package so
	// that it also wins over levels set programmatically.
	if v := os.Getenv("HUBLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.URL == "" {
		errs = append(errs, "hub.url is required")
	} else if u, err := url.Parse(c.Hub.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "hub.url must be a ws:// or wss:// URL")
	}
	if c.Hub.Token == "" {
		errs = append(errs, "hub.token is required (set HUBLINK_HUB_TOKEN environment variable)")
	}
	if c.Hub.PingInterval < 0 {
		errs = append(errs, "hub.ping_interval must not be negative")
	}
	if c.Hub.RetryDelay < 1 {
		errs = append(errs, "hub.retry_delay must be at least 1 second")
	}
	if c.Hub.RequestTimeout < 1 {
		errs = append(errs, "hub.request_timeout must be at least 1 second")
	}
	if c.Hub.StaleAfter < 1 {
		errs = append(errs, "hub.stale_after must be at least 1 second")
	}
	if c.Hub.SweepInterval < 1 {
		errs = append(errs, "hub.sweep_interval must be at least 1 second")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPingInterval returns the hub heartbeat period as a Duration.
func (h HubConfig) GetPingInterval() time.Duration {
	return time.Duration(h.PingInterval) * time.Second
}

// GetRetryDelay returns the reconnect spacing as a Duration.
func (h HubConfig) GetRetryDelay() time.Duration {
	return time.Duration(h.RetryDelay) * time.Second
}

// GetHandshakeTimeout returns the dial timeout as a Duration.
func (h HubConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(h.HandshakeTimeout) * time.Second
}

// GetRequestTimeout returns the per-request deadline as a Duration.
func (h HubConfig) GetRequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeout) * time.Second
}

// GetStaleAfter returns the correlator staleness threshold as a Duration.
func (h HubConfig) GetStaleAfter() time.Duration {
	return time.Duration(h.StaleAfter) * time.Second
}

// GetSweepInterval returns the correlator sweep period as a Duration.
func (h HubConfig) GetSweepInterval() time.Duration {
	return time.Duration(h.SweepInterval) * time.Second
}

// GetRunningPollInterval returns the hub-running poll period as a Duration.
func (h HubConfig) GetRunningPollInterval() time.Duration {
	return time.Duration(h.RunningPollInterval) * time.Second
}

// GetRunningRetryDelay returns the hub-running retry delay as a Duration.
func (h HubConfig) GetRunningRetryDelay() time.Duration {
	return time.Duration(h.RunningRetryDelay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetRetention returns the state history retention, zero for unlimited.
func (d DatabaseConfig) GetRetention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}
