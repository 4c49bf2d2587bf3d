// Package config provides configuration handling for the capture interceptor.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TUNSNOOP_"

// Config represents the complete interceptor configuration.
type Config struct {
	// Interceptor configures the virtual interface and host routing.
	Interceptor core.InterceptorConfig `json:"interceptor" yaml:"interceptor"`

	// Capture configures the capture loop.
	Capture core.CaptureConfig `json:"capture" yaml:"capture"`

	// Sniffer configures application-layer recognition.
	Sniffer core.SnifferConfig `json:"sniffer" yaml:"sniffer"`

	// Output configures where packet summaries are written.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Status configures metrics reporting and the status endpoint.
	Status StatusConfig `json:"status" yaml:"status"`
}

// OutputConfig controls packet summary output.
type OutputConfig struct {
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`

	// File receives summaries; stdout when empty.
	File string `json:"file" yaml:"file"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// StatusConfig controls the metrics reporter and the HTTP status endpoint.
type StatusConfig struct {
	// Listen is the status endpoint address (e.g., "127.0.0.1:9180").
	// Empty disables the endpoint.
	Listen string `json:"listen" yaml:"listen"`

	// MetricsInterval is the reporter period in seconds. Zero disables it.
	MetricsInterval int `json:"metricsInterval" yaml:"metricsInterval"`

	// MetricsFormat is "text" or "json".
	MetricsFormat string `json:"metricsFormat" yaml:"metricsFormat"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Interceptor: core.InterceptorConfig{
			TUNName:           "tunsnoop0",
			TUNDescription:    "tunsnoop capture tunnel",
			TUNIP:             "10.0.0.1",
			TUNMask:           "255.255.255.0",
			TUNMTU:            1500,
			PhysicalInterface: "Ethernet",
			RouteMetric:       1,
			CommandTimeoutMs:  15000,
		},
		Capture: core.CaptureConfig{
			RingBytes:      0x200000,
			RetryBackoffMs: 200,
			TCPCopyCap:     4096,
			UDPCopyCap:     2048,
			PreviewBytes:   128,
		},
		Sniffer: core.SnifferConfig{
			HTTPPorts:  []uint16{80, 8080, 8000, 8008, 8888},
			DNSPorts:   []uint16{53},
			MaxInspect: 4096,
			MaxHeaders: 64,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Status: StatusConfig{
			MetricsFormat: "text",
		},
	}
}

// Load builds a configuration from the defaults, the file at path (when
// non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv applies TUNSNOOP_* overrides. Malformed numbers are errors.
func LoadFromEnv(config *Config) error {
	ic := &config.Interceptor
	str := map[string]*string{
		"TUN_NAME":           &ic.TUNName,
		"TUN_DESCRIPTION":    &ic.TUNDescription,
		"TUN_IP":             &ic.TUNIP,
		"TUN_MASK":           &ic.TUNMask,
		"PHYSICAL_INTERFACE": &ic.PhysicalInterface,
		"PCAP_FILE":          &config.Capture.PCAPFile,
		"OUTPUT_FORMAT":      &config.Output.Format,
		"OUTPUT_FILE":        &config.Output.File,
		"LOG_LEVEL":          &config.Logging.Level,
		"LOG_FILE":           &config.Logging.File,
		"STATUS_LISTEN":      &config.Status.Listen,
		"METRICS_FORMAT":     &config.Status.MetricsFormat,
	}
	for key, dst := range str {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			*dst = val
		}
	}

	ints := map[string]*int{
		"TUN_MTU":            &ic.TUNMTU,
		"ROUTE_METRIC":       &ic.RouteMetric,
		"COMMAND_TIMEOUT_MS": &ic.CommandTimeoutMs,
		"RING_BYTES":         &config.Capture.RingBytes,
		"OBSERVER_QUEUE":     &config.Capture.ObserverQueue,
		"METRICS_INTERVAL":   &config.Status.MetricsInterval,
	}
	for key, dst := range ints {
		val := os.Getenv(EnvPrefix + key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if val := os.Getenv(EnvPrefix + "READ_ONLY"); val != "" {
		ic.ReadOnly = truthy(val)
	}
	return nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	ic := c.Interceptor
	if ic.TUNName == "" {
		return fmt.Errorf("TUN name cannot be empty")
	}
	if ip := net.ParseIP(ic.TUNIP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid TUN IPv4 address: %s", ic.TUNIP)
	}
	if err := validateMask(ic.TUNMask); err != nil {
		return err
	}
	if ic.TUNMTU < 576 || ic.TUNMTU > 65535 {
		return fmt.Errorf("invalid TUN MTU: %d", ic.TUNMTU)
	}
	if !ic.ReadOnly && ic.PhysicalInterface == "" {
		return fmt.Errorf("physical interface cannot be empty")
	}
	if ic.RouteMetric < 1 || ic.RouteMetric > 9999 {
		return fmt.Errorf("invalid route metric: %d (must be 1-9999)", ic.RouteMetric)
	}
	if ic.CommandTimeoutMs < 0 {
		return fmt.Errorf("invalid command timeout: %dms", ic.CommandTimeoutMs)
	}

	cc := c.Capture
	for name, v := range map[string]int{
		"ring bytes":     cc.RingBytes,
		"retry backoff":  cc.RetryBackoffMs,
		"TCP copy cap":   cc.TCPCopyCap,
		"UDP copy cap":   cc.UDPCopyCap,
		"preview bytes":  cc.PreviewBytes,
		"observer queue": cc.ObserverQueue,
	} {
		if v < 0 {
			return fmt.Errorf("invalid %s: %d", name, v)
		}
	}

	for _, p := range append(append([]uint16{}, c.Sniffer.HTTPPorts...), c.Sniffer.DNSPorts...) {
		if p == 0 {
			return fmt.Errorf("sniffer port cannot be 0")
		}
	}

	if err := validateFormat("output", c.Output.Format); err != nil {
		return err
	}
	if err := validateFormat("metrics", c.Status.MetricsFormat); err != nil {
		return err
	}
	if c.Status.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Status.Listen); err != nil {
			return fmt.Errorf("invalid status listen address %q: %w", c.Status.Listen, err)
		}
	}
	if c.Status.MetricsInterval < 0 {
		return fmt.Errorf("invalid metrics interval: %d", c.Status.MetricsInterval)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

func validateMask(mask string) error {
	ip := net.ParseIP(mask)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid TUN mask: %s", mask)
	}
	if _, bits := net.IPMask(ip.To4()).Size(); bits == 0 {
		return fmt.Errorf("non-contiguous TUN mask: %s", mask)
	}
	return nil
}

func validateFormat(what, f string) error {
	switch f {
	case "", "text", "json":
		return nil
	}
	return fmt.Errorf("invalid %s format: %s (must be text or json)", what, f)
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	core.SetDebugMode(level == logging.DebugLevel)

	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
