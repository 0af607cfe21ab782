// Package config loads devicectl-core configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for devicectl-core.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Devices   DevicesConfig   `yaml:"devices"`
	Dongle    DongleConfig    `yaml:"dongle"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains device-manager event loop tuning.
type ServerConfig struct {
	// MaxPingIntervalMS is the ping deadman-switch bound in milliseconds.
	// 0 disables the ping timer.
	MaxPingIntervalMS int `yaml:"max_ping_interval_ms"`

	// ChannelBufferSize is the bounded channel depth used for the
	// communication-event and device-event channels.
	ChannelBufferSize int `yaml:"channel_buffer_size"`
}

// DevicesConfig holds the allow/deny address lists applied to newly
// discovered devices. An empty AllowList means allow all.
type DevicesConfig struct {
	AllowList []string `yaml:"allow_list"`
	DenyList  []string `yaml:"deny_list"`
}

// DongleConfig describes the HID dongle transport.
type DongleConfig struct {
	Enabled           bool          `yaml:"enabled"`
	VendorID          uint16        `yaml:"vendor_id"`
	ProductID         uint16        `yaml:"product_id"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// GatewayConfig contains the reference WebSocket gateway settings.
type GatewayConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// TelemetryConfig contains the optional MQTT and InfluxDB sinks.
type TelemetryConfig struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// MQTTConfig contains MQTT broker connection settings for lifecycle-event
// publication. Disabled by default.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// InfluxDBConfig contains InfluxDB connection settings for command metrics.
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

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// Order: defaults -> YAML file -> environment variables -> Validate.
// Environment variables follow the pattern DEVICECTL_SECTION_KEY.
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
		Server: ServerConfig{
			MaxPingIntervalMS: 0,
			ChannelBufferSize: 256,
		},
		Dongle: DongleConfig{
			ReadTimeout:       100 * time.Millisecond,
			ReconnectInterval: 5 * time.Second,
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           12345,
			Path:           "/devicectl",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVICECTL_SERVER_MAX_PING_INTERVAL_MS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Server.MaxPingIntervalMS = n
		}
	}
	if v := os.Getenv("DEVICECTL_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("DEVICECTL_GATEWAY_PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Gateway.Port = n
		}
	}
	if v := os.Getenv("DEVICECTL_TELEMETRY_INFLUXDB_TOKEN"); v != "" {
		cfg.Telemetry.InfluxDB.Token = v
	}
	if v := os.Getenv("DEVICECTL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.MaxPingIntervalMS < 0 {
		errs = append(errs, "server.max_ping_interval_ms must be >= 0")
	}
	if c.Server.ChannelBufferSize <= 0 {
		errs = append(errs, "server.channel_buffer_size must be > 0")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	if c.Dongle.Enabled && c.Dongle.VendorID == 0 {
		errs = append(errs, "dongle.vendor_id is required when dongle.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
