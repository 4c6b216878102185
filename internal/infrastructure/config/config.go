package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for PDM Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Timing    TimingConfig    `yaml:"timing"`
	Layout    LayoutConfig    `yaml:"layout"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the module. ID is used in MQTT topics and as the
// InfluxDB "pdm" tag.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TimingConfig sets the periods of the two control passes.
type TimingConfig struct {
	// HardwarePeriod is the sample/protect/drive pass period. Default: 1ms
	HardwarePeriod time.Duration `yaml:"hardware_period"`

	// LogicPeriod is the operator slot pass period. Default: 2ms
	LogicPeriod time.Duration `yaml:"logic_period"`

	// LogicBudget is the pass duration above which an overrun is counted.
	// Zero means the logic period.
	LogicBudget time.Duration `yaml:"logic_budget"`

	// VerifyEvery runs the registry structure check every N hardware ticks.
	// Default: 1000
	VerifyEvery int `yaml:"verify_every"`
}

// LayoutConfig points at the channel layout applied at startup.
type LayoutConfig struct {
	Path string `yaml:"path"`
	// Mode is "replace" or "merge". Default: replace
	Mode string `yaml:"mode"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// TelemetryConfig controls the channel snapshot publisher.
type TelemetryConfig struct {
	// Interval between channel snapshots. Default: 100ms
	Interval time.Duration `yaml:"interval"`

	// MinInterval is the shortest accepted snapshot interval.
	// Snapshots read the whole registry, so faster rates steal CPU from the
	// control passes.
	MinInterval time.Duration `yaml:"-"`

	// Classes limits published channels to these classes. Empty means all.
	Classes []string `yaml:"classes"`

	// EventLog enables recording protection transitions to the database.
	EventLog bool `yaml:"event_log"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret leaves mutating
// API routes unauthenticated, which is only sensible on a bench.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PDM_SECTION_KEY
// For example: PDM_DATABASE_PATH, PDM_LAYOUT_PATH
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

// Default returns the built-in configuration with environment overrides
// applied, for running without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "pdm-001",
			Name: "PDM",
		},
		Timing: TimingConfig{
			HardwarePeriod: time.Millisecond,
			LogicPeriod:    2 * time.Millisecond,
			VerifyEvery:    1000,
		},
		Layout: LayoutConfig{
			Mode: "replace",
		},
		Database: DatabaseConfig{
			Path:        "./data/pdmcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pdmcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Telemetry: TelemetryConfig{
			Interval:    100 * time.Millisecond,
			MinInterval: 10 * time.Millisecond,
			EventLog:    true,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
			BatchSize:     500,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PDM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PDM_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	// Layout
	if v := os.Getenv("PDM_LAYOUT_PATH"); v != "" {
		cfg.Layout.Path = v
	}

	// Timing
	if v := os.Getenv("PDM_TIMING_HARDWARE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timing.HardwarePeriod = d
		}
	}
	if v := os.Getenv("PDM_TIMING_LOGIC_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timing.LogicPeriod = d
		}
	}

	// Database
	if v := os.Getenv("PDM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PDM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PDM_MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = p
		}
	}
	if v := os.Getenv("PDM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PDM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PDM_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PDM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PDM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Both passes count time in whole milliseconds.
	if c.Timing.HardwarePeriod < time.Millisecond || c.Timing.HardwarePeriod%time.Millisecond != 0 {
		errs = append(errs, "timing.hardware_period must be a whole number of milliseconds")
	}
	if c.Timing.LogicPeriod < time.Millisecond || c.Timing.LogicPeriod%time.Millisecond != 0 {
		errs = append(errs, "timing.logic_period must be a whole number of milliseconds")
	}
	if c.Timing.LogicBudget < 0 {
		errs = append(errs, "timing.logic_budget must not be negative")
	}
	if c.Timing.VerifyEvery < 0 {
		errs = append(errs, "timing.verify_every must not be negative")
	}

	switch c.Layout.Mode {
	case "", "replace", "merge":
	default:
		errs = append(errs, "layout.mode must be replace or merge")
	}

	if c.Telemetry.EventLog && c.Database.Path == "" {
		errs = append(errs, "database.path is required when telemetry.event_log is set")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Telemetry.Interval < c.Telemetry.MinInterval {
		errs = append(errs, fmt.Sprintf("telemetry.interval must be at least %s", c.Telemetry.MinInterval))
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// A forged token can switch loads on, so a configured secret must be strong.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
