package boundary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/drivesdk-go/internal/cancel"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/logging"
	"github.com/tonimelisma/drivesdk-go/internal/observability"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

type observabilityRequest struct {
	DBPath     string `json:"db_path,omitempty"`
	FlushBatch int    `json:"flush_batch,omitempty"`
}

type flushResult struct {
	Sent int `json:"sent"`
}

// --- Observability service ---

// ObservabilityServiceStartNew opens the metrics outbox for a session. The
// request may override the configured database path and batch size.
func (r *Runtime) ObservabilityServiceStartNew(sessionHandle handle.Handle, request []byte) (handle.Handle, error) {
	sess, err := handle.Get[*session.Session](r.handles, sessionHandle, handle.KindSession)
	if err != nil {
		return 0, err
	}

	req := observabilityRequest{
		DBPath:     r.cfg.Observability.DBPath,
		FlushBatch: r.cfg.Observability.FlushBatch,
	}
	if err := decodeOptional(request, &req); err != nil {
		return 0, err
	}

	opts := observability.Options{
		DBPath:     req.DBPath,
		FlushBatch: req.FlushBatch,
		Logger:     r.logger.With(slog.String(logging.CategoryKey, "observability")),
	}

	if sender, ok := r.backend.Service(sess).(observability.Sender); ok {
		opts.Sender = sender
	}

	svc, err := observability.Start(context.Background(), opts)
	if err != nil {
		return 0, err
	}

	return r.handles.Create(handle.KindObservability, svc)
}

// ObservabilityServiceFlush ships the outbox to the service.
func (r *Runtime) ObservabilityServiceFlush(h handle.Handle, cb Callback) error {
	svc, release, err := handle.Pin[*observability.Service](r.handles, h, handle.KindObservability)
	if err != nil {
		return err
	}

	return r.submit("observability_service_flush", cb, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		sent, err := svc.Flush(ctx)
		if err != nil {
			return nil, err
		}

		return encode(flushResult{Sent: sent})
	}, release)
}

// ObservabilityServiceFree closes the outbox. Unflushed metrics stay on disk.
func (r *Runtime) ObservabilityServiceFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindObservability)
}

// --- Logger provider ---

// LoggerProviderCreate registers a log sink. Each event reaches sink as JSON
// on the goroutine that logged it. level names the minimum level; empty
// selects info.
func (r *Runtime) LoggerProviderCreate(sink func(event []byte), level string) (handle.Handle, error) {
	if sink == nil {
		return 0, fmt.Errorf("boundary: log sink is required: %w", sdkerr.ErrArgument)
	}

	p := logging.NewProvider(func(ev logging.Event) {
		if data, err := encode(ev); err == nil {
			sink(data)
		}
	}, logging.ParseLevel(level))

	return r.handles.Create(handle.KindLoggerProvider, p)
}

// LoggerProviderFree silences and releases the provider. Loggers already
// handed out stop forwarding.
func (r *Runtime) LoggerProviderFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindLoggerProvider)
}

// --- Cancellation ---

// CancellationTokenSourceCreate allocates an uncancelled token source.
func (r *Runtime) CancellationTokenSourceCreate() cancel.Token {
	return r.tokens.Create()
}

// CancellationTokenSourceCancel cancels every operation attached to t.
// Cancelling twice succeeds.
func (r *Runtime) CancellationTokenSourceCancel(t cancel.Token) error {
	return r.tokens.Cancel(t)
}

// CancellationTokenSourceFree releases the caller's reference to t.
func (r *Runtime) CancellationTokenSourceFree(t cancel.Token) error {
	return r.tokens.Free(t)
}
