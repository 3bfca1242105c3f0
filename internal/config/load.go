package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads the TOML file at path over the defaults. Unknown keys and
// invalid values are both fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg, err := decode(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// Decode parses an inline TOML document over the defaults, as passed by a
// host at initialization.
func Decode(doc string) (*Config, error) {
	cfg, err := decode(doc)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

func decode(doc string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.Decode(doc, cfg)
	if err != nil {
		return nil, err
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that an empty path or a missing file yields
// the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return cfg, err
}

// Resolve layers the configuration: defaults, then the file, then the
// environment, then explicit overrides. The result is validated again after
// the last layer.
func Resolve(env EnvOverrides, ov Overrides) (*Config, error) {
	path := firstNonEmpty(ov.ConfigPath, env.ConfigPath, DefaultConfigPath())

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	cfg.Logging.Level = firstNonEmpty(ov.LogLevel, env.LogLevel, cfg.Logging.Level)
	cfg.Network.BaseURL = firstNonEmpty(ov.BaseURL, env.BaseURL, cfg.Network.BaseURL)

	if ov.Workers != nil {
		cfg.Runtime.Workers = *ov.Workers
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
