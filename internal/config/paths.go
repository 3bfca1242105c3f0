package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "drivesdk"
	configFileName = "config.toml"
	stateFileName  = "session.json"
)

// xdgDir names an XDG base directory and its fallback under $HOME.
type xdgDir struct {
	env      string
	fallback []string
}

var (
	xdgConfig = xdgDir{env: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	xdgData   = xdgDir{env: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// appDir resolves the application directory for d. macOS keeps config and
// data together under Application Support; Linux honours the XDG variable.
// Returns "" when the home directory is unknown.
func appDir(d xdgDir) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if runtime.GOOS == "linux" {
		if base := os.Getenv(d.env); base != "" {
			return filepath.Join(base, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, d.fallback...), appName)...)
}

// DefaultConfigDir is where config.toml lives when no path is given.
func DefaultConfigDir() string { return appDir(xdgConfig) }

// DefaultDataDir holds the observability outbox and the CLI session state.
func DefaultDataDir() string { return appDir(xdgData) }

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// DefaultConfigPath is the fallback when neither DRIVESDK_CONFIG nor an
// explicit path is set.
func DefaultConfigPath() string { return inDir(DefaultConfigDir(), configFileName) }

// DefaultStatePath is where the CLI persists the exported session.
func DefaultStatePath() string { return inDir(DefaultDataDir(), stateFileName) }
