package drive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/drivesdk-go/internal/config"
)

// BandwidthLimiter throttles block payloads for every transfer of a client,
// so concurrent readers and writers share one budget. The nil limiter
// imposes no limit.
type BandwidthLimiter struct {
	bucket *rate.Limiter
}

// NewBandwidthLimiter builds a limiter from a transfers.bandwidth_limit value
// such as "5MB/s" or "512KiB". An empty or zero limit yields nil.
func NewBandwidthLimiter(limit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	perSecond, err := parseBandwidthRate(limit)
	if err != nil {
		return nil, fmt.Errorf("drive: bandwidth limit: %w", err)
	}

	if perSecond == 0 {
		return nil, nil //nolint:nilnil // nil means unlimited
	}

	// Burst covers two seconds of traffic.
	burst := int(perSecond) * 2

	if logger != nil {
		logger.Info("drive: bandwidth limited",
			slog.Int64("bytes_per_sec", perSecond),
			slog.Int("burst", burst),
		)
	}

	return &BandwidthLimiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}, nil
}

// parseBandwidthRate accepts a size with an optional "/s" suffix.
func parseBandwidthRate(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)

	if strings.HasSuffix(strings.ToLower(trimmed), "/s") {
		trimmed = trimmed[:len(trimmed)-2]
	}

	n, err := config.ParseSize(trimmed)
	if err != nil {
		return 0, fmt.Errorf("rate %q: %w", s, err)
	}

	return n, nil
}

// Wait blocks until n more bytes fit in the budget or ctx ends. Requests
// larger than the burst are admitted in burst-sized slices.
func (bl *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	if bl == nil {
		return nil
	}

	for step := bl.bucket.Burst(); n > 0; n -= step {
		if err := bl.bucket.WaitN(ctx, min(n, step)); err != nil {
			return err
		}
	}

	return nil
}
