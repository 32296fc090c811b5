// Package config provides configuration handling for the shared instance
// daemon.
package config

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/localif"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultSharedInstancePort is the TCP port a shared instance listens on
// unless configured otherwise.
const DefaultSharedInstancePort = 37428

// Config represents the complete daemon configuration.
type Config struct {
	// SharedInstance contains the local interface configuration.
	SharedInstance core.SharedInstanceConfig `json:"shared_instance" yaml:"sharedInstance"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the metrics configuration.
	Metrics core.MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (trace, debug, info, warn, error, critical
	// and their aliases).
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SharedInstance: core.SharedInstanceConfig{
			BindHost:              "127.0.0.1",
			Port:                  DefaultSharedInstancePort,
			Bitrate:               localif.DefaultBitrate,
			ForceBitrate:          false,
			ReconnectWaitSec:      int(localif.DefaultReconnectWait / time.Second),
			PanicOnInterfaceError: false,
			HeaderMinSize:         core.DefaultHeaderMinSize,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: core.MetricsConfig{
			Listen:   "",
			Interval: "",
			Format:   "text",
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return oops.Wrapf(err, "failed to open config file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return oops.Wrapf(err, "failed to read config file")
	}

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return oops.Wrapf(err, "failed to parse JSON config")
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return oops.Wrapf(err, "failed to parse YAML config")
		}
	default:
		return oops.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from MESHLINK_* environment variables.
// Unparseable numbers and booleans are ignored.
func LoadFromEnv(config *Config) {
	si := &config.SharedInstance
	if val := os.Getenv("MESHLINK_BIND_HOST"); val != "" {
		si.BindHost = val
	}
	envInt("MESHLINK_PORT", &si.Port)
	if val := os.Getenv("MESHLINK_BITRATE"); val != "" {
		if bps, err := strconv.ParseInt(val, 10, 64); err == nil {
			si.Bitrate = bps
		}
	}
	envBool("MESHLINK_FORCE_BITRATE", &si.ForceBitrate)
	envInt("MESHLINK_RECONNECT_WAIT", &si.ReconnectWaitSec)
	envBool("MESHLINK_PANIC_ON_INTERFACE_ERROR", &si.PanicOnInterfaceError)
	envInt("MESHLINK_HEADER_MIN_SIZE", &si.HeaderMinSize)

	// Logging config
	if val := os.Getenv("MESHLINK_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("MESHLINK_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("MESHLINK_LOG_FILE"); val != "" {
		config.Logging.File = val
	}
	envInt("MESHLINK_LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("MESHLINK_LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("MESHLINK_LOG_MAX_AGE", &config.Logging.MaxAge)

	// Metrics config
	if val := os.Getenv("MESHLINK_METRICS_LISTEN"); val != "" {
		config.Metrics.Listen = val
	}
	if val := os.Getenv("MESHLINK_METRICS_INTERVAL"); val != "" {
		config.Metrics.Interval = val
	}
	if val := os.Getenv("MESHLINK_METRICS_FORMAT"); val != "" {
		config.Metrics.Format = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch val {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	si := c.SharedInstance
	if net.ParseIP(si.BindHost) == nil && si.BindHost != "localhost" {
		return oops.Errorf("invalid shared instance bind host: %s", si.BindHost)
	}
	if si.Port < 0 || si.Port > 65535 {
		return oops.Errorf("invalid shared instance port: %d", si.Port)
	}
	if si.Bitrate <= 0 {
		return oops.Errorf("invalid bitrate: %d", si.Bitrate)
	}
	if si.ReconnectWaitSec <= 0 {
		return oops.Errorf("invalid reconnect wait: %d", si.ReconnectWaitSec)
	}
	if si.HeaderMinSize < 0 || si.HeaderMinSize >= localif.HardwareMTU {
		return oops.Errorf("invalid header minimum size: %d", si.HeaderMinSize)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return oops.Wrapf(err, "invalid logging level")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return oops.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Metrics.Interval != "" {
		if d, err := time.ParseDuration(c.Metrics.Interval); err != nil || d <= 0 {
			return oops.Errorf("invalid metrics interval: %s", c.Metrics.Interval)
		}
	}
	switch c.Metrics.Format {
	case "", "text", "json":
	default:
		return oops.Errorf("invalid metrics format: %s", c.Metrics.Format)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	if c.Logging.Format == "json" {
		logging.SetFormatter(&logrus.JSONFormatter{})
	}

	// Enable file logging if configured
	if c.Logging.File != "" {
		dir, filename := filepath.Split(c.Logging.File)
		if dir == "" {
			dir = "."
		}
		err := logging.EnableFileLogging(
			dir,
			filename,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return oops.Wrapf(err, "failed to enable file logging")
		}
	}

	return nil
}

// ReconnectWait returns the interval between reconnect attempts.
func (c *Config) ReconnectWait() time.Duration {
	if c.SharedInstance.ReconnectWaitSec <= 0 {
		return localif.DefaultReconnectWait
	}
	return time.Duration(c.SharedInstance.ReconnectWaitSec) * time.Second
}

// MetricsInterval returns the metrics dump period, or zero if disabled.
func (c *Config) MetricsInterval() time.Duration {
	d, err := time.ParseDuration(c.Metrics.Interval)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// InterfaceOptions returns the local interface options for this
// configuration.
func (c *Config) InterfaceOptions() []localif.Option {
	return []localif.Option{
		localif.WithBitrate(c.SharedInstance.Bitrate),
		localif.WithForceBitrate(c.SharedInstance.ForceBitrate),
		localif.WithReconnectWait(c.ReconnectWait()),
	}
}

// ApplyTransport copies the transport-level settings onto t.
func (c *Config) ApplyTransport(t *core.Transport) {
	t.PanicOnInterfaceError = c.SharedInstance.PanicOnInterfaceError
	t.HeaderMinSize = c.SharedInstance.HeaderMinSize
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return oops.Wrapf(err, "failed to marshal config to JSON")
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return oops.Wrapf(err, "failed to marshal config to YAML")
		}
	default:
		return oops.Errorf("unsupported config file format: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return oops.Wrapf(err, "failed to create directory")
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return oops.Wrapf(err, "failed to write config file")
	}

	return nil
}
