package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "DRIVESDK_CONFIG"
	EnvLogLevel = "DRIVESDK_LOG_LEVEL"
	EnvBaseURL  = "DRIVESDK_BASE_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DRIVESDK_CONFIG: override config file path
	LogLevel   string // DRIVESDK_LOG_LEVEL: override [logging] level
	BaseURL    string // DRIVESDK_BASE_URL: override [network] base_url
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
		BaseURL:    os.Getenv(EnvBaseURL),
	}
}
