// Package boundary is the entry-point table of the SDK runtime. Every exported
// Runtime method corresponds to one function of the C-ABI surface: it takes
// plain integers and JSON byte views, and either returns synchronously or
// completes through a Callback. cmd/libdrivesdk is a thin cgo layer over it.
//
// Handle and cancellation-token errors are always reported synchronously,
// before any asynchronous work is scheduled. Asynchronous operations pin the
// handles they use for their whole duration, so a concurrent free only takes
// effect once they complete.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/drivesdk-go/internal/cancel"
	"github.com/tonimelisma/drivesdk-go/internal/config"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

// shutdownTimeout bounds how long Close waits for in-flight operations.
const shutdownTimeout = 30 * time.Second

// Status is the synchronous result code of an entry point.
type Status int32

// Status codes. Values are part of the boundary contract.
const (
	StatusOK              Status = 0
	StatusInvalidArgument Status = 1
	StatusNotFound        Status = 2
	StatusInvalidState    Status = 3
	StatusTypeMismatch    Status = 4
	StatusFailure         Status = -1
)

// StatusOf maps a synchronous error onto its status code. Errors without a
// dedicated code yield StatusFailure; the caller then reads the error record.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}

	switch sdkerr.Classify(err) {
	case sdkerr.KindArgument:
		return StatusInvalidArgument
	case sdkerr.KindHandleNotFound:
		return StatusNotFound
	case sdkerr.KindInvalidState:
		return StatusInvalidState
	case sdkerr.KindHandleTypeMismatch:
		return StatusTypeMismatch
	default:
		return StatusFailure
	}
}

// Callback is the completion record of an asynchronous entry point. Payloads
// are JSON. Exactly one of OnSuccess or OnFailure is called, once; OnProgress
// may be nil. Cancellation selects the token the operation observes; zero
// means none.
type Callback struct {
	OnSuccess    func(payload []byte)
	OnFailure    func(record []byte)
	OnProgress   func(payload []byte)
	Cancellation cancel.Token
}

// Options configure a Runtime.
type Options struct {
	// Config supplies runtime, transfer and observability settings. Nil
	// selects the defaults.
	Config  *config.Config
	Backend Backend
	// Cipher is the crypto collaborator. Nil selects drive.PlainCipher.
	Cipher drive.Cipher
	Logger *slog.Logger
}

// Runtime owns the handle table, the cancellation table and the worker pool.
// All methods are safe for concurrent use.
type Runtime struct {
	cfg     *config.Config
	backend Backend
	cipher  drive.Cipher
	logger  *slog.Logger

	handles    *handle.Registry
	tokens     *cancel.Registry
	dispatcher *dispatch.Dispatcher

	blockSize int64
	limiter   *drive.BandwidthLimiter

	stop    context.CancelFunc
	closing <-chan struct{}
}

// New creates a runtime. Settings are validated up front so a bad
// configuration fails here rather than on the first transfer.
func New(opts Options) (*Runtime, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("boundary: backend is required: %w", sdkerr.ErrArgument)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cipher := opts.Cipher
	if cipher == nil {
		cipher = drive.PlainCipher{}
	}

	blockSize, err := config.ParseSize(cfg.Transfers.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("boundary: block size: %w: %w", sdkerr.ErrArgument, err)
	}

	limiter, err := drive.NewBandwidthLimiter(cfg.Transfers.BandwidthLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("boundary: %w: %w", sdkerr.ErrArgument, err)
	}

	base, stop := context.WithCancel(context.Background())

	r := &Runtime{
		cfg:        cfg,
		backend:    opts.Backend,
		cipher:     cipher,
		logger:     logger,
		handles:    handle.NewRegistry(logger),
		tokens:     cancel.NewRegistry(base, logger),
		dispatcher: dispatch.New(cfg.Runtime.Workers, logger),
		blockSize:  blockSize,
		limiter:    limiter,
		stop:       stop,
		closing:    base.Done(),
	}

	logger.Debug("boundary runtime started",
		slog.Int("workers", cfg.Runtime.Workers),
		slog.Int64("block_size", blockSize),
	)

	return r, nil
}

// Close cancels every outstanding operation, waits for their terminal
// callbacks and closes all live handles.
func (r *Runtime) Close() error {
	r.stop()

	ctx, cancelWait := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelWait()

	err := r.dispatcher.Close(ctx)

	r.handles.Close()

	succeeded, failed := r.dispatcher.Stats()
	r.logger.Debug("boundary runtime closed",
		slog.Int64("succeeded", succeeded),
		slog.Int64("failed", failed),
	)

	return err
}

// --- Async plumbing ---

// handleResult is the success payload of handle-yielding operations.
type handleResult struct {
	Handle handle.Handle `json:"handle"`
}

// emptyResult is the success payload of operations with nothing to return.
var emptyResult = []byte("{}")

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("boundary: encoding result: %w", err)
	}

	return data, nil
}

func validCallback(cb Callback) error {
	if cb.OnSuccess == nil || cb.OnFailure == nil {
		return fmt.Errorf("boundary: success and failure callbacks are required: %w", sdkerr.ErrArgument)
	}

	return nil
}

// submit attaches the callback's token and schedules work. cleanups run after
// work and before the terminal callback; they are also run when submit fails.
func (r *Runtime) submit(name string, cb Callback, work dispatch.Work[[]byte], cleanups ...func()) error {
	if err := validCallback(cb); err != nil {
		runAll(cleanups)
		return err
	}

	ctx, detach, err := r.tokens.Attach(cb.Cancellation)
	if err != nil {
		runAll(cleanups)
		return err
	}

	callbacks := dispatch.Callbacks[[]byte]{
		OnSuccess: cb.OnSuccess,
		OnFailure: func(rec sdkerr.Record) { cb.OnFailure(rec.Marshal()) },
	}

	if cb.OnProgress != nil {
		callbacks.OnProgress = func(p dispatch.Progress) {
			if data, err := json.Marshal(p); err == nil {
				cb.OnProgress(data)
			}
		}
	}

	_, err = dispatch.Submit(r.dispatcher, ctx, name, callbacks, work, append(cleanups, detach)...)

	return err
}

// submitHandle schedules work that produces a resource. The handle is only
// allocated once the operation has succeeded, so a cancelled or failed
// operation never leaves an orphaned handle; its resource is closed before
// the failure callback runs.
func submitHandle[T interface{ Close() error }](
	r *Runtime, name string, kind handle.Kind, cb Callback,
	work func(ctx context.Context) (T, error), cleanups ...func(),
) error {
	var (
		made    T
		created bool
	)

	if err := validCallback(cb); err != nil {
		runAll(cleanups)
		return err
	}

	wrapped := Callback{
		Cancellation: cb.Cancellation,
		OnSuccess: func([]byte) {
			h, err := r.handles.Create(kind, made)
			if err != nil {
				made.Close()
				cb.OnFailure(sdkerr.ToRecord(err).Marshal())

				return
			}

			data, _ := encode(handleResult{Handle: h})
			cb.OnSuccess(data)
		},
		OnFailure: func(rec []byte) {
			if created {
				made.Close()
			}

			cb.OnFailure(rec)
		},
	}

	return r.submit(name, wrapped, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		res, err := work(ctx)
		if err != nil {
			return nil, err
		}

		made, created = res, true

		return emptyResult, nil
	}, cleanups...)
}

func runAll(fns []func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

// decode parses a request payload strictly. Empty payloads are rejected.
func decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("boundary: empty request: %w", sdkerr.ErrArgument)
	}

	return session.DecodeStrict(data, v)
}

// decodeOptional parses an optional request payload; empty leaves v as is.
func decodeOptional(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	return session.DecodeStrict(data, v)
}

// ErrorRecord renders err as the JSON record a caller receives alongside
// StatusFailure.
func ErrorRecord(err error) []byte {
	if err == nil {
		return nil
	}

	return sdkerr.ToRecord(err).Marshal()
}
