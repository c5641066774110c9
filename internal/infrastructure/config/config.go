package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
// Missing platform connection parameters are reported through it and are fatal at startup.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root configuration structure for the gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	RPC       RPCConfig       `yaml:"rpc"`
	State     StateConfig     `yaml:"state"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation the gateway runs at.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// GatewayConfig contains the platform MQTT session settings.
type GatewayConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	TLS            bool            `yaml:"tls"`
	AccessToken    string          `yaml:"access_token"`
	ClientID       string          `yaml:"client_id"`
	QoS            int             `yaml:"qos"`
	KeepAlive      int             `yaml:"keepalive"`
	ConnectTimeout int             `yaml:"connect_timeout"`
	AttributeSync  bool            `yaml:"attribute_sync"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
	Topics         TopicsConfig    `yaml:"topics"`
}

// ReconnectConfig bounds the exponential reconnect backoff, in milliseconds.
type ReconnectConfig struct {
	MinBackoffMS int `yaml:"min_backoff_ms"`
	MaxBackoffMS int `yaml:"max_backoff_ms"`
}

// TopicsConfig overrides the platform topic layout. Empty fields keep the defaults.
type TopicsConfig struct {
	Telemetry               string `yaml:"telemetry"`
	Attributes              string `yaml:"attributes"`
	RPCRequestPrefix        string `yaml:"rpc_request_prefix"`
	RPCResponsePrefix       string `yaml:"rpc_response_prefix"`
	AttributeRequestPrefix  string `yaml:"attribute_request_prefix"`
	AttributeResponsePrefix string `yaml:"attribute_response_prefix"`
}

// RPCConfig contains remote procedure call limits, in milliseconds.
type RPCConfig struct {
	TimeoutMS        int `yaml:"timeout_ms"`
	PendingTTLMS     int `yaml:"pending_ttl_ms"`
	ExpireIntervalMS int `yaml:"expire_interval_ms"`
}

// StateConfig selects and locates the persisted state backend.
type StateConfig struct {
	Backend        string `yaml:"backend"` // "file" or "bolt"
	Path           string `yaml:"path"`
	ResetOnCorrupt bool   `yaml:"reset_on_corrupt"`
}

// TelemetryConfig controls the periodic collect and publish loop.
type TelemetryConfig struct {
	Interval       int `yaml:"interval"`        // seconds
	CollectTimeout int `yaml:"collect_timeout"` // seconds
	AttributeEvery int `yaml:"attribute_every"` // ticks between attribute syncs, 0 disables
	MaxConcurrent  int `yaml:"max_concurrent"`
}

// DeviceConfig declares one local device. Type selects the driver.
type DeviceConfig struct {
	ID        string  `yaml:"id"`
	Type      string  `yaml:"type"`
	Path      string  `yaml:"path"`
	Metric    string  `yaml:"metric"`
	Scale     float64 `yaml:"scale"`
	Offset    float64 `yaml:"offset"`
	ActiveLow bool    `yaml:"active_low"`

	// Modbus RTU registers. Path is the serial port.
	SlaveID      uint8  `yaml:"slave_id"`
	Register     uint16 `yaml:"register"`
	RegisterType string `yaml:"register_type"` // holding (default) or input
	Signed       bool   `yaml:"signed"`
	BaudRate     int    `yaml:"baud_rate"`
	Parity       string `yaml:"parity"` // N, E or O
	TimeoutMS    int    `yaml:"timeout_ms"`

	// Derived flow rate: the level metric of Source is mapped through
	// Calibration.
	Source       string             `yaml:"source"`
	SourceMetric string             `yaml:"source_metric"`
	Calibration  []CalibrationPoint `yaml:"calibration"`
}

// CalibrationPoint is one measured level to flow rate pair.
type CalibrationPoint struct {
	Height   float64 `yaml:"height"`
	FlowRate float64 `yaml:"flow_rate"`
}

// DatabaseConfig contains SQLite audit database settings.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings for the local telemetry mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains diagnostics HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file log settings, used when Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails (wraps ErrInvalidConfig)
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

// defaultConfig returns a configuration with sensible defaults.
// The platform host and access token have no default and must be supplied.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Water Treatment Monitoring",
		},
		Gateway: GatewayConfig{
			Port:           1883,
			ClientID:       "wtm-gateway",
			QoS:            1,
			KeepAlive:      60,
			ConnectTimeout: 10,
			Reconnect: ReconnectConfig{
				MinBackoffMS: 1000,
				MaxBackoffMS: 60000,
			},
		},
		RPC: RPCConfig{
			TimeoutMS:        10000,
			PendingTTLMS:     30000,
			ExpireIntervalMS: 5000,
		},
		State: StateConfig{
			Backend: "file",
			Path:    "./data/state.json",
		},
		Telemetry: TelemetryConfig{
			Interval:       10,
			CollectTimeout: 5,
			AttributeEvery: 6,
			MaxConcurrent:  4,
		},
		Database: DatabaseConfig{
			Path:          "./data/audit.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/gateway.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WTM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WTM_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("WTM_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("WTM_GATEWAY_ACCESS_TOKEN"); v != "" {
		cfg.Gateway.AccessToken = v
	}

	if v := os.Getenv("WTM_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}

	if v := os.Getenv("WTM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("WTM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("WTM_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}

	if v := os.Getenv("WTM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.Host == "" {
		errs = append(errs, "gateway.host is required (set WTM_GATEWAY_HOST)")
	}
	if c.Gateway.AccessToken == "" {
		errs = append(errs, "gateway.access_token is required (set WTM_GATEWAY_ACCESS_TOKEN)")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.Gateway.QoS < 0 || c.Gateway.QoS > 2 {
		errs = append(errs, "gateway.qos must be 0, 1, or 2")
	}

	r := c.Gateway.Reconnect
	if r.MinBackoffMS <= 0 {
		errs = append(errs, "gateway.reconnect.min_backoff_ms must be positive")
	} else if r.MaxBackoffMS < r.MinBackoffMS {
		errs = append(errs, "gateway.reconnect.max_backoff_ms must not be below min_backoff_ms")
	}

	if c.RPC.TimeoutMS <= 0 {
		errs = append(errs, "rpc.timeout_ms must be positive")
	}
	if c.RPC.PendingTTLMS < c.RPC.TimeoutMS {
		errs = append(errs, "rpc.pending_ttl_ms must not be below rpc.timeout_ms")
	}

	switch c.State.Backend {
	case "file", "bolt":
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q must be \"file\" or \"bolt\"", c.State.Backend))
	}
	if c.State.Path == "" {
		errs = append(errs, "state.path is required")
	}

	if c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.Source != "" {
			if len(d.Calibration) < 2 {
				errs = append(errs, fmt.Sprintf("devices[%d].calibration needs at least two points", i))
			}
			continue
		}
		if d.Path == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].path is required", i))
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		const minJWTSecretLength = 32
		if len(c.Security.JWTSecret) < minJWTSecretLength {
			errs = append(errs, "security.jwt_secret must be at least 32 characters when the API is enabled (set WTM_JWT_SECRET)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// MinBackoff returns the first reconnect delay.
func (g GatewayConfig) MinBackoff() time.Duration {
	return time.Duration(g.Reconnect.MinBackoffMS) * time.Millisecond
}

// MaxBackoff returns the reconnect delay ceiling.
func (g GatewayConfig) MaxBackoff() time.Duration {
	return time.Duration(g.Reconnect.MaxBackoffMS) * time.Millisecond
}

// ConnectTimeoutDuration returns the bound on a single connect attempt.
func (g GatewayConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(g.ConnectTimeout) * time.Second
}

// Timeout returns the upper bound on one RPC handler invocation.
func (r RPCConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// PendingTTL returns the age after which a pending request is expired.
func (r RPCConfig) PendingTTL() time.Duration {
	return time.Duration(r.PendingTTLMS) * time.Millisecond
}

// ExpireInterval returns how often pending requests are swept.
func (r RPCConfig) ExpireInterval() time.Duration {
	return time.Duration(r.ExpireIntervalMS) * time.Millisecond
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
