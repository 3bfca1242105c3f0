package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// --- Defaults ---

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, Validate(cfg))
	assert.Equal(t, 16, cfg.Runtime.Workers)
	assert.Equal(t, "4MiB", cfg.Transfers.BlockSize)
	assert.Equal(t, 4, cfg.Transfers.ParallelDownloads)
	assert.Equal(t, 64, cfg.Transfers.ParallelUploads)
	assert.Equal(t, "auto", cfg.Logging.Format)
}

// --- Load ---

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[runtime]
workers = 8

[transfers]
block_size = "8MiB"
bandwidth_limit = "5MB/s"

[network]
base_url = "http://localhost:8080"
max_retries = 2

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Runtime.Workers)
	assert.Equal(t, "8MiB", cfg.Transfers.BlockSize)
	assert.Equal(t, "5MB/s", cfg.Transfers.BandwidthLimit)
	assert.Equal(t, "http://localhost:8080", cfg.Network.BaseURL)
	assert.Equal(t, 2, cfg.Network.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, 64, cfg.Transfers.ParallelUploads)
	assert.Equal(t, defaultFlushBatch, cfg.Observability.FlushBatch)
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
block_sise = "8MiB"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"transfers.block_sise"`)
	assert.Contains(t, err.Error(), `did you mean "transfers.block_size"`)
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, `
[loging]
level = "debug"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loging")
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `[runtime`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[runtime]
workers = 0

[logging]
level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Runtime, cfg.Runtime)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

// --- Resolve ---

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
level = "warn"

[network]
base_url = "https://file.example"
`)

	workers := 3

	cfg, err := Resolve(
		EnvOverrides{ConfigPath: path, LogLevel: "error", BaseURL: "https://env.example"},
		Overrides{BaseURL: "https://flag.example", Workers: &workers},
	)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level, "env beats file")
	assert.Equal(t, "https://flag.example", cfg.Network.BaseURL, "explicit beats env")
	assert.Equal(t, 3, cfg.Runtime.Workers)
}

func TestResolve_InvalidOverride(t *testing.T) {
	_, err := Resolve(
		EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")},
		Overrides{BaseURL: "not a url"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/x.toml")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvBaseURL, "http://127.0.0.1:1")

	env := ReadEnvOverrides()
	assert.Equal(t, "/tmp/x.toml", env.ConfigPath)
	assert.Equal(t, "debug", env.LogLevel)
	assert.Equal(t, "http://127.0.0.1:1", env.BaseURL)
}

// --- Decode ---

func TestDecode(t *testing.T) {
	cfg, err := Decode(`
[transfers]
parallel_downloads = 2
`)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Transfers.ParallelDownloads)

	_, err = Decode(`[transfers]
parallel_downloads = 0`)
	assert.Error(t, err)
}

// --- Validate ---

func TestValidate_Table(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"tiny block", func(c *Config) { c.Transfers.BlockSize = "1KiB" }, "block_size"},
		{"bad block", func(c *Config) { c.Transfers.BlockSize = "lots" }, "block_size"},
		{"bad bandwidth", func(c *Config) { c.Transfers.BandwidthLimit = "fast" }, "bandwidth_limit"},
		{"no downloads", func(c *Config) { c.Transfers.ParallelDownloads = 0 }, "parallel_downloads"},
		{"no uploads", func(c *Config) { c.Transfers.ParallelUploads = 0 }, "parallel_uploads"},
		{"relative url", func(c *Config) { c.Network.BaseURL = "/api" }, "base_url"},
		{"empty app version", func(c *Config) { c.Network.AppVersion = "" }, "app_version"},
		{"short connect", func(c *Config) { c.Network.ConnectTimeout = "10ms" }, "connect_timeout"},
		{"bad data timeout", func(c *Config) { c.Network.DataTimeout = "later" }, "data_timeout"},
		{"retries", func(c *Config) { c.Network.MaxRetries = -1 }, "max_retries"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
		{"flush batch", func(c *Config) { c.Observability.FlushBatch = 0 }, "flush_batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

// --- RenderEffective ---

func TestRenderEffective(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderEffective(DefaultConfig(), &buf))

	out := buf.String()
	for _, section := range []string{"[runtime]", "[transfers]", "[network]", "[logging]", "[observability]"} {
		assert.Contains(t, out, section)
	}

	assert.Contains(t, out, `block_size         = "4MiB"`)
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	if DefaultConfigDir() == "" {
		t.Skip("no home directory")
	}

	assert.Equal(t, "config.toml", filepath.Base(DefaultConfigPath()))
	assert.Equal(t, "session.json", filepath.Base(DefaultStatePath()))
}

func TestKnownKeys_FollowStruct(t *testing.T) {
	assert.Equal(t, []string{"logging", "network", "observability", "runtime", "transfers"}, knownSections)
	assert.Contains(t, knownKeys, "transfers.block_size")
	assert.Contains(t, knownKeys, "observability.flush_batch")
	assert.NotContains(t, knownKeys, "transfers.")
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "", 3},
		{"level", "level", 0},
		{"loging", "logging", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, editDistance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}
