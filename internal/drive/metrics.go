package drive

import (
	"context"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Transfer directions and outcomes reported to a MetricsRecorder.
const (
	TransferUpload   = "upload"
	TransferDownload = "download"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// TransferEvent describes one finished upload or download.
type TransferEvent struct {
	Direction string
	Outcome   string
	Bytes     int64
	// ErrorKind is the taxonomy kind of a failure; empty on success.
	ErrorKind string
}

// MetricsRecorder receives transfer events. Implementations must not block.
type MetricsRecorder interface {
	RecordTransfer(ctx context.Context, ev TransferEvent)
}

func (c *Client) recordTransfer(ctx context.Context, direction string, bytes int64, err error) {
	if c.metrics == nil {
		return
	}

	ev := TransferEvent{Direction: direction, Outcome: OutcomeSuccess, Bytes: bytes}
	if err != nil {
		ev.Outcome = OutcomeFailure
		ev.ErrorKind = sdkerr.Classify(err).String()
	}

	c.metrics.RecordTransfer(context.WithoutCancel(ctx), ev)
}
