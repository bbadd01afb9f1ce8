package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Moodo bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Moodo         MoodoConfig         `yaml:"moodo"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// MoodoConfig contains Moodo cloud account and endpoint settings.
type MoodoConfig struct {
	// Email and Password are the Moodo account credentials used for login
	// and for re-authentication when the session token expires.
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// RESTURL is the base URL of the Moodo REST API.
	RESTURL string `yaml:"rest_url"`

	// SocketURL is the base URL of the Moodo Socket.IO server used for
	// real-time box updates.
	SocketURL string `yaml:"socket_url"`

	// RequestTimeout is the per-request timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// PollInterval is how often the coordinator polls the cloud for box
	// state, in seconds. The stream delivers updates between polls.
	PollInterval int `yaml:"poll_interval"`

	// StreamEnabled controls whether the Socket.IO stream is opened.
	// Polling continues to work when disabled.
	StreamEnabled bool `yaml:"stream_enabled"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// HomeAssistantConfig contains MQTT discovery settings for Home Assistant.
type HomeAssistantConfig struct {
	// DiscoveryPrefix is the Home Assistant MQTT discovery prefix.
	// Default: "homeassistant".
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// BaseTopic is the prefix for the bridge's own state/command topics.
	// Default: "moodo".
	BaseTopic string `yaml:"base_topic"`

	// RetainDiscovery controls whether discovery configs are retained.
	RetainDiscovery bool `yaml:"retain_discovery"`

	// QoS is the quality of service level for state, availability, and
	// discovery publishes (0, 1, or 2).
	QoS int `yaml:"qos"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays is how long state history rows are kept before
	// being pruned. Zero disables pruning.
	HistoryRetentionDays int `yaml:"history_retention_days"`
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
// Environment variables follow the pattern: MOODO_BRIDGE_SECTION_KEY
// For example: MOODO_BRIDGE_MOODO_PASSWORD, MOODO_BRIDGE_MQTT_HOST
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
		Moodo: MoodoConfig{
			RESTURL:        "https://rest.moodo.co/api",
			SocketURL:      "https://ws.moodo.co:9090",
			RequestTimeout: 10,
			PollInterval:   30,
			StreamEnabled:  true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "moodo-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
			BaseTopic:       "moodo",
			RetainDiscovery: true,
			QoS:             1,
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
		Database: DatabaseConfig{
			Path:                 "./data/moodo-bridge.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MOODO_BRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Moodo account (credentials are the most common override - keeps them
	// out of the config file)
	if v := os.Getenv("MOODO_BRIDGE_MOODO_EMAIL"); v != "" {
		cfg.Moodo.Email = v
	}
	if v := os.Getenv("MOODO_BRIDGE_MOODO_PASSWORD"); v != "" {
		cfg.Moodo.Password = v
	}

	// MQTT
	if v := os.Getenv("MOODO_BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MOODO_BRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MOODO_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MOODO_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("MOODO_BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MOODO_BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Moodo account validation
	if c.Moodo.Email == "" {
		errs = append(errs, "moodo.email is required")
	}
	if c.Moodo.Password == "" {
		errs = append(errs, "moodo.password is required")
	}
	if c.Moodo.RESTURL == "" {
		errs = append(errs, "moodo.rest_url is required")
	}
	if c.Moodo.StreamEnabled && c.Moodo.SocketURL == "" {
		errs = append(errs, "moodo.socket_url is required when stream is enabled")
	}
	if c.Moodo.PollInterval <= 0 {
		errs = append(errs, "moodo.poll_interval must be positive")
	}
	if c.Moodo.RequestTimeout <= 0 {
		errs = append(errs, "moodo.request_timeout must be positive")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Home Assistant validation. Both prefixes must be a single topic
	// level: command routing splits topics on "/", and wildcards would
	// corrupt the subscription patterns.
	if c.HomeAssistant.DiscoveryPrefix == "" {
		errs = append(errs, "homeassistant.discovery_prefix is required")
	} else if strings.ContainsAny(c.HomeAssistant.DiscoveryPrefix, "/+#") {
		errs = append(errs, "homeassistant.discovery_prefix must not contain '/', '+', or '#'")
	}
	if c.HomeAssistant.BaseTopic == "" {
		errs = append(errs, "homeassistant.base_topic is required")
	} else if strings.ContainsAny(c.HomeAssistant.BaseTopic, "/+#") {
		errs = append(errs, "homeassistant.base_topic must not contain '/', '+', or '#'")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days must not be negative")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
