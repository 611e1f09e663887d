// Package config handles hairmqtt configuration loading.
//
// Settings come from three layers, later ones winning: built-in
// defaults, an optional YAML file, and environment variables. A .env
// file in the working directory is folded into the environment before
// the last layer is applied.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration errors reported by [Config.Validate] and [Config.ApplyEnv].
var (
	ErrMissingHost        = errors.New("mqtt host is not set (MQTT_HOST)")
	ErrMissingCredentials = errors.New("mqtt username and password must be set together (MQTT_USERNAME, MQTT_PASSWORD)")
	ErrInvalidPort        = errors.New("mqtt port must be between 1 and 65535 (MQTT_PORT)")
)

// Environment variables read by [Config.ApplyEnv].
const (
	EnvMQTTHost     = "MQTT_HOST"
	EnvMQTTPort     = "MQTT_PORT"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
	EnvTelemetryURL = "HAIRMQTT_TELEMETRY_URL"
	EnvLogLevel     = "HAIRMQTT_LOG_LEVEL"
)

// DefaultSearchPaths returns the config file search order:
// ./hairmqtt.yaml, ~/.config/hairmqtt/config.yaml, /etc/hairmqtt/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"hairmqtt.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hairmqtt", "config.yaml"))
	}

	paths = append(paths, "/etc/hairmqtt/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// An empty path and nil error means no file was found; the file is
// optional because the environment alone can configure the bridge.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds all hairmqtt configuration.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
}

// MQTTConfig defines the broker connection.
type MQTTConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Scheme selects the transport: ws and wss (WebSocket), mqtt/tcp,
	// or mqtts/ssl. Brokers fronted by Home Assistant add-ons usually
	// expose WebSocket on 1884.
	Scheme string `yaml:"scheme"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	DiscoveryPrefix string `yaml:"discovery_prefix"`
	KeepAliveSec    int    `yaml:"keepalive_sec"`
}

// BrokerURL returns the broker address as a URL string.
func (c MQTTConfig) BrokerURL() string {
	return c.Scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasCredentials reports whether a username and password are configured.
func (c MQTTConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// TelemetryConfig defines the telemetry relay connection.
type TelemetryConfig struct {
	URL string `yaml:"url"`

	// RateHz caps how often value snapshots are published. Zero
	// disables throttling.
	RateHz float64 `yaml:"rate_hz"`
}

// MetricsConfig defines the optional Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9464"; empty disables
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Port:            1884,
			Scheme:          "ws",
			DiscoveryPrefix: "homeassistant",
			KeepAliveSec:    30,
		},
		Telemetry: TelemetryConfig{
			URL:    "ws://127.0.0.1:8765/telemetry",
			RateHz: 2,
		},
		DataDir:   "data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file on top of [Default].
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process
// environment without overriding variables that are already set.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is
// usually [os.LookupEnv]; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMQTTHost); ok {
		c.MQTT.Host = v
	}
	if v, ok := lookup(EnvMQTTPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPort, v)
		}
		c.MQTT.Port = port
	}
	if v, ok := lookup(EnvMQTTUsername); ok {
		c.MQTT.Username = v
	}
	if v, ok := lookup(EnvMQTTPassword); ok {
		c.MQTT.Password = v
	}
	if v, ok := lookup(EnvTelemetryURL); ok {
		c.Telemetry.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MQTT.Host) == "" {
		return ErrMissingHost
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.MQTT.Port)
	}
	if (c.MQTT.Username == "") != (c.MQTT.Password == "") {
		return ErrMissingCredentials
	}
	switch c.MQTT.Scheme {
	case "ws", "wss", "mqtt", "tcp", "mqtts", "ssl":
	default:
		return fmt.Errorf("unsupported mqtt scheme %q (valid: ws, wss, mqtt, tcp, mqtts, ssl)", c.MQTT.Scheme)
	}
	if c.MQTT.DiscoveryPrefix == "" {
		return errors.New("mqtt discovery_prefix must not be empty")
	}
	if c.Telemetry.URL == "" {
		return fmt.Errorf("telemetry url is not set (%s)", EnvTelemetryURL)
	}
	if c.Telemetry.RateHz < 0 {
		return fmt.Errorf("telemetry rate_hz must not be negative, got %v", c.Telemetry.RateHz)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}
