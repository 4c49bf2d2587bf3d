package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/tunsnoop/pkg/logging"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tunsnoop0", cfg.Interceptor.TUNName)
	assert.Equal(t, "Ethernet", cfg.Interceptor.PhysicalInterface)
	assert.Equal(t, 0x200000, cfg.Capture.RingBytes)
	assert.Equal(t, 128, cfg.Capture.PreviewBytes)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunsnoop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interceptor:
  tunName: snoop1
  physicalInterface: Wi-Fi
  routeMetric: 5
capture:
  pcapFile: /tmp/out.pcap
sniffer:
  httpPorts: [80, 3000]
logging:
  level: debug
`), 0644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFromFile(path, cfg))
	assert.Equal(t, "snoop1", cfg.Interceptor.TUNName)
	assert.Equal(t, "Wi-Fi", cfg.Interceptor.PhysicalInterface)
	assert.Equal(t, 5, cfg.Interceptor.RouteMetric)
	assert.Equal(t, "10.0.0.1", cfg.Interceptor.TUNIP, "unset keys keep their defaults")
	assert.Equal(t, "/tmp/out.pcap", cfg.Capture.PCAPFile)
	assert.Equal(t, []uint16{80, 3000}, cfg.Sniffer.HTTPPorts)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	assert.Error(t, LoadFromFile(filepath.Join(dir, "missing.yaml"), DefaultConfig()))

	txt := filepath.Join(dir, "cfg.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0644))
	assert.ErrorContains(t, LoadFromFile(txt, DefaultConfig()), "unsupported")

	bad := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	assert.ErrorContains(t, LoadFromFile(bad, DefaultConfig()), "JSON")
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	for _, name := range []string{"cfg.json", "cfg.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Interceptor.ReadOnly = true
			cfg.Status.Listen = "127.0.0.1:9180"
			require.NoError(t, cfg.SaveToFile(path))

			loaded := &Config{}
			require.NoError(t, LoadFromFile(path, loaded))
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TUNSNOOP_TUN_NAME", "envtun")
	t.Setenv("TUNSNOOP_ROUTE_METRIC", "9")
	t.Setenv("TUNSNOOP_READ_ONLY", "yes")
	t.Setenv("TUNSNOOP_STATUS_LISTEN", ":9180")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "envtun", cfg.Interceptor.TUNName)
	assert.Equal(t, 9, cfg.Interceptor.RouteMetric)
	assert.True(t, cfg.Interceptor.ReadOnly)
	assert.Equal(t, ":9180", cfg.Status.Listen)
}

func TestLoadFromEnv_BadNumber(t *testing.T) {
	t.Setenv("TUNSNOOP_TUN_MTU", "big")
	assert.ErrorContains(t, LoadFromEnv(DefaultConfig()), "TUNSNOOP_TUN_MTU")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interceptor:\n  tunMask: 255.0.255.0\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "non-contiguous")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty name", func(c *Config) { c.Interceptor.TUNName = "" }, "TUN name"},
		{"ipv6 address", func(c *Config) { c.Interceptor.TUNIP = "fd00::1" }, "IPv4"},
		{"bad mask", func(c *Config) { c.Interceptor.TUNMask = "255.255.255" }, "mask"},
		{"small mtu", func(c *Config) { c.Interceptor.TUNMTU = 100 }, "MTU"},
		{"no physical", func(c *Config) { c.Interceptor.PhysicalInterface = "" }, "physical"},
		{"metric", func(c *Config) { c.Interceptor.RouteMetric = 0 }, "metric"},
		{"negative cap", func(c *Config) { c.Capture.TCPCopyCap = -1 }, "TCP copy cap"},
		{"zero port", func(c *Config) { c.Sniffer.DNSPorts = []uint16{0} }, "port"},
		{"output format", func(c *Config) { c.Output.Format = "xml" }, "output format"},
		{"listen", func(c *Config) { c.Status.Listen = "9180" }, "listen"},
		{"level", func(c *Config) { c.Logging.Level = "verbose" }, "logging level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	cfg := DefaultConfig()
	cfg.Interceptor.ReadOnly = true
	cfg.Interceptor.PhysicalInterface = ""
	assert.NoError(t, cfg.Validate(), "read-only mode needs no physical adapter")
}

func TestApplyLogging(t *testing.T) {
	prev := logging.GetLevel()
	defer logging.SetLevel(prev)

	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	require.NoError(t, cfg.ApplyLogging())
	assert.Equal(t, logging.WarnLevel, logging.GetLevel())
}
