package drive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivesdk-go/internal/logging"
)

func TestParseBandwidthRate(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: "1024", want: 1024},
		{in: "5MB", want: 5_000_000},
		{in: "5MB/s", want: 5_000_000},
		{in: "100KB/S", want: 100_000},
		{in: "10MiB/s", want: 10 << 20},
		{in: "abc", wantErr: true},
		{in: "-1MB/s", wantErr: true},
		{in: "fast/s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBandwidthRate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewBandwidthLimiter(t *testing.T) {
	for _, limit := range []string{"", "0", "0/s"} {
		bl, err := NewBandwidthLimiter(limit, logging.Discard())
		require.NoError(t, err)
		assert.Nil(t, bl, "limit %q", limit)
	}

	_, err := NewBandwidthLimiter("garbage", logging.Discard())
	assert.ErrorContains(t, err, "bandwidth limit")

	bl, err := NewBandwidthLimiter("1MB/s", nil)
	require.NoError(t, err)
	assert.NotNil(t, bl)
}

func TestBandwidthLimiter_Nil(t *testing.T) {
	var bl *BandwidthLimiter
	assert.NoError(t, bl.Wait(t.Context(), 1<<30))
}

func TestBandwidthLimiter_Throttles(t *testing.T) {
	bl, err := NewBandwidthLimiter("1KB/s", logging.Discard())
	require.NoError(t, err)

	// The first 2000 bytes are the burst; the next 1000 take a second.
	start := time.Now()
	require.NoError(t, bl.Wait(t.Context(), 2000))
	require.NoError(t, bl.Wait(t.Context(), 500))
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestBandwidthLimiter_SlicesLargeRequests(t *testing.T) {
	bl, err := NewBandwidthLimiter("1MB/s", logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, bl.Wait(ctx, 3_000_000))
}

func TestBandwidthLimiter_Cancelled(t *testing.T) {
	bl, err := NewBandwidthLimiter("1KB/s", logging.Discard())
	require.NoError(t, err)
	require.NoError(t, bl.Wait(t.Context(), 2000))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.Error(t, bl.Wait(ctx, 1000))
}
