package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultWorkers           = 16
	defaultBlockSize         = "4MiB"
	defaultBandwidthLimit    = "0"
	defaultParallelDownloads = 4
	defaultParallelUploads   = 64
	defaultBaseURL           = "https://drive-api.proton.me"
	defaultAppVersion        = "external-drive-drivesdk-go@dev"
	defaultUserAgent         = "drivesdk-go"
	defaultConnectTimeout    = "10s"
	defaultDataTimeout       = "60s"
	defaultMaxRetries        = 5
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultFlushBatch        = 100
	observabilityDBName      = "observability.db"
)

// DefaultConfig returns a Config populated with all default values. It is the
// starting point for TOML decoding, so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Workers: defaultWorkers,
		},
		Transfers: TransfersConfig{
			BlockSize:         defaultBlockSize,
			BandwidthLimit:    defaultBandwidthLimit,
			ParallelDownloads: defaultParallelDownloads,
			ParallelUploads:   defaultParallelUploads,
		},
		Network: NetworkConfig{
			BaseURL:        defaultBaseURL,
			AppVersion:     defaultAppVersion,
			UserAgent:      defaultUserAgent,
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			MaxRetries:     defaultMaxRetries,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Observability: ObservabilityConfig{
			DBPath:     defaultObservabilityDBPath(),
			FlushBatch: defaultFlushBatch,
		},
	}
}

func defaultObservabilityDBPath() string {
	return inDir(DefaultDataDir(), observabilityDBName)
}
