package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary to w. This powers the "config show" command.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	ew.printf("[runtime]\n")
	ew.printf("  workers            = %d\n\n", cfg.Runtime.Workers)

	ew.printf("[transfers]\n")
	ew.printf("  block_size         = %q\n", cfg.Transfers.BlockSize)
	ew.printf("  bandwidth_limit    = %q\n", cfg.Transfers.BandwidthLimit)
	ew.printf("  parallel_downloads = %d\n", cfg.Transfers.ParallelDownloads)
	ew.printf("  parallel_uploads   = %d\n\n", cfg.Transfers.ParallelUploads)

	ew.printf("[network]\n")
	ew.printf("  base_url           = %q\n", cfg.Network.BaseURL)
	ew.printf("  app_version        = %q\n", cfg.Network.AppVersion)
	ew.printf("  user_agent         = %q\n", cfg.Network.UserAgent)
	ew.printf("  connect_timeout    = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  data_timeout       = %q\n", cfg.Network.DataTimeout)
	ew.printf("  max_retries        = %d\n\n", cfg.Network.MaxRetries)

	ew.printf("[logging]\n")
	ew.printf("  level              = %q\n", cfg.Logging.Level)
	ew.printf("  format             = %q\n\n", cfg.Logging.Format)

	ew.printf("[observability]\n")
	ew.printf("  db_path            = %q\n", cfg.Observability.DBPath)
	ew.printf("  flush_batch        = %d\n", cfg.Observability.FlushBatch)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
