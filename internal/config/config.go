// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the drive SDK runtime. It supports a
// four-layer override chain (defaults -> config file -> environment ->
// explicit overrides).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Runtime       RuntimeConfig       `toml:"runtime"`
	Transfers     TransfersConfig     `toml:"transfers"`
	Network       NetworkConfig       `toml:"network"`
	Logging       LoggingConfig       `toml:"logging"`
	Observability ObservabilityConfig `toml:"observability"`
}

// RuntimeConfig sizes the asynchronous operation runtime.
type RuntimeConfig struct {
	// Workers bounds how many asynchronous operations execute at once.
	Workers int `toml:"workers"`
}

// TransfersConfig controls block size, admission slots and bandwidth.
type TransfersConfig struct {
	BlockSize         string `toml:"block_size"`
	BandwidthLimit    string `toml:"bandwidth_limit"`
	ParallelDownloads int    `toml:"parallel_downloads"`
	ParallelUploads   int    `toml:"parallel_uploads"`
}

// NetworkConfig controls the storage service HTTP client.
type NetworkConfig struct {
	BaseURL        string `toml:"base_url"`
	AppVersion     string `toml:"app_version"`
	UserAgent      string `toml:"user_agent"`
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	MaxRetries     int    `toml:"max_retries"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ObservabilityConfig controls the metrics outbox.
type ObservabilityConfig struct {
	DBPath     string `toml:"db_path"`
	FlushBatch int    `toml:"flush_batch"`
}

// Overrides holds explicitly supplied values that win over the file and the
// environment. Empty strings and nil pointers mean "not specified".
type Overrides struct {
	ConfigPath string
	LogLevel   string
	BaseURL    string
	Workers    *int
}
