package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minWorkers           = 1
	maxWorkers           = 256
	minBlockBytes        = 64 * kibibyte
	maxBlockBytes        = 64 * mebibyte
	minParallelDownloads = 1
	maxParallelDownloads = 64
	minParallelUploads   = 1
	maxParallelUploads   = 1024
	maxRetriesLimit      = 20
	minConnectTimeout    = 1 * time.Second
	minDataTimeout       = 5 * time.Second
	minFlushBatch        = 1
	maxFlushBatch        = 10000
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRuntime(&cfg.Runtime)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateObservability(&cfg.Observability)...)

	return errors.Join(errs...)
}

func validateRuntime(r *RuntimeConfig) []error {
	if r.Workers < minWorkers || r.Workers > maxWorkers {
		return []error{fmt.Errorf("workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, r.Workers)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	block, err := ParseSize(t.BlockSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("block_size: %w", err))
	case block < minBlockBytes || block > maxBlockBytes:
		errs = append(errs, fmt.Errorf("block_size: must be between 64KiB and 64MiB, got %s", t.BlockSize))
	}

	if err := validateBandwidthLimit(t.BandwidthLimit); err != nil {
		errs = append(errs, err)
	}

	if t.ParallelDownloads < minParallelDownloads || t.ParallelDownloads > maxParallelDownloads {
		errs = append(errs, fmt.Errorf("parallel_downloads: must be between %d and %d, got %d",
			minParallelDownloads, maxParallelDownloads, t.ParallelDownloads))
	}

	if t.ParallelUploads < minParallelUploads || t.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, t.ParallelUploads))
	}

	return errs
}

// validateBandwidthLimit accepts "0", a size, or a size followed by "/s".
func validateBandwidthLimit(s string) error {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "/s")
	if _, err := ParseSize(trimmed); err != nil {
		return fmt.Errorf("bandwidth_limit: %w", err)
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	u, err := url.Parse(n.BaseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url: must be an absolute http(s) URL, got %q", n.BaseURL))
	}

	if n.AppVersion == "" {
		errs = append(errs, errors.New("app_version: must not be empty"))
	}

	errs = append(errs, validateMinDuration("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateMinDuration("data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d",
			maxRetriesLimit, n.MaxRetries))
	}

	return errs
}

func validateMinDuration(field, value string, minimum time.Duration) []error {
	d, err := ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, value)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("format: must be one of auto, text, json; got %q", l.Format))
	}

	return errs
}

func validateObservability(o *ObservabilityConfig) []error {
	if o.FlushBatch < minFlushBatch || o.FlushBatch > maxFlushBatch {
		return []error{fmt.Errorf("flush_batch: must be between %d and %d, got %d",
			minFlushBatch, maxFlushBatch, o.FlushBatch)}
	}

	return nil
}
