// Command libdrivesdk builds the C shared library that exposes the drive
// runtime to foreign callers:
//
//	go build -buildmode=c-shared -o libdrivesdk.so ./cmd/libdrivesdk
//
// Every entry point returns an int32 status (0 OK, 1 invalid argument,
// 2 not found, 3 invalid state, 4 type mismatch, -1 failure). When a
// drivesdk_buffer pointer for the error is supplied and the status is not OK,
// it receives the JSON error record. Asynchronous entry points report their
// outcome through exactly one of the callback's success or failure functions.
// Payload pointers handed to callbacks are only valid during the callback.
package main

/*
#include "drivesdk.h"
*/
import "C"

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/cancel"
	"github.com/tonimelisma/drivesdk-go/internal/config"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/logging"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

func main() {}

var (
	mu      sync.RWMutex
	current *boundary.Runtime
)

// active returns the initialized runtime.
func active() (*boundary.Runtime, error) {
	mu.RLock()
	defer mu.RUnlock()

	if current == nil {
		return nil, fmt.Errorf("libdrivesdk: runtime not initialized: %w", sdkerr.ErrInvalidState)
	}

	return current, nil
}

// loadConfig decodes an inline TOML document, or resolves the usual chain
// (file, then environment) when none is given.
func loadConfig(doc []byte) (*config.Config, error) {
	if len(doc) == 0 {
		return config.Resolve(config.ReadEnvOverrides(), config.Overrides{})
	}

	cfg, err := config.Decode(string(doc))
	if err != nil {
		return nil, fmt.Errorf("libdrivesdk: %w: %w", sdkerr.ErrArgument, err)
	}

	return cfg, nil
}

//export drivesdk_init
func drivesdk_init(configTOML C.drivesdk_view, outErr *C.drivesdk_buffer) C.int32_t {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return status(fmt.Errorf("libdrivesdk: runtime already initialized: %w", sdkerr.ErrInvalidState), outErr)
	}

	cfg, err := loadConfig(viewBytes(configTOML))
	if err != nil {
		return status(err, outErr)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	backend, err := boundary.NewHTTPBackend(cfg, logger)
	if err != nil {
		return status(err, outErr)
	}

	rt, err := boundary.New(boundary.Options{Config: cfg, Backend: backend, Logger: logger})
	if err != nil {
		return status(err, outErr)
	}

	current = rt

	return status(nil, outErr)
}

//export drivesdk_shutdown
func drivesdk_shutdown(outErr *C.drivesdk_buffer) C.int32_t {
	mu.Lock()
	rt := current
	current = nil
	mu.Unlock()

	if rt == nil {
		return status(fmt.Errorf("libdrivesdk: runtime not initialized: %w", sdkerr.ErrInvalidState), outErr)
	}

	err := rt.Close()

	// Writes a host never acknowledged were abandoned by Close.
	dropCompletions()

	return status(err, outErr)
}

//export drivesdk_buffer_free
func drivesdk_buffer_free(buf *C.drivesdk_buffer) {
	if buf == nil || buf.data == nil {
		return
	}

	C.free(unsafe.Pointer(buf.data))
	buf.data = nil
	buf.len = 0
}

// --- Marshalling helpers ---

func viewBytes(v C.drivesdk_view) []byte {
	if v.data == nil || v.len == 0 {
		return nil
	}

	return C.GoBytes(unsafe.Pointer(v.data), C.int(v.len))
}

func fill(out *C.drivesdk_buffer, data []byte) {
	if out == nil {
		return
	}

	if len(data) == 0 {
		out.data, out.len = nil, 0
		return
	}

	out.data = (*C.uint8_t)(C.CBytes(data))
	out.len = C.size_t(len(data))
}

func status(err error, outErr *C.drivesdk_buffer) C.int32_t {
	if err != nil {
		fill(outErr, boundary.ErrorRecord(err))
	}

	return C.int32_t(boundary.StatusOf(err))
}

// deliver hands payload to a C callback. The copy is freed when fn returns.
func deliver(fn C.drivesdk_payload_fn, state unsafe.Pointer, payload []byte) {
	var data *C.uint8_t

	if len(payload) > 0 {
		buf := C.CBytes(payload)
		defer C.free(buf)

		data = (*C.uint8_t)(buf)
	}

	C.drivesdk_call_payload(fn, state, data, C.size_t(len(payload)))
}

func payloadFunc(fn C.drivesdk_payload_fn, state unsafe.Pointer) func([]byte) {
	if fn == nil {
		return nil
	}

	return func(p []byte) { deliver(fn, state, p) }
}

func toCallback(cb *C.drivesdk_callback) boundary.Callback {
	if cb == nil {
		return boundary.Callback{}
	}

	return boundary.Callback{
		OnSuccess:    payloadFunc(cb.on_success, cb.state),
		OnFailure:    payloadFunc(cb.on_failure, cb.state),
		OnProgress:   payloadFunc(cb.on_progress, cb.state),
		Cancellation: cancel.Token(cb.cancellation_token),
	}
}

func toSessionOptions(opts *C.drivesdk_session_options) boundary.SessionOptions {
	if opts == nil {
		return boundary.SessionOptions{}
	}

	return boundary.SessionOptions{
		LoggerProvider:    handle.Handle(opts.logger_provider),
		OnTokensRefreshed: payloadFunc(opts.on_tokens_refreshed, opts.state),
	}
}

// call runs fn against the active runtime and converts the result to a status.
func call(outErr *C.drivesdk_buffer, fn func(rt *boundary.Runtime) error) C.int32_t {
	rt, err := active()
	if err != nil {
		return status(err, outErr)
	}

	return status(fn(rt), outErr)
}

// callHandle is call for entry points that yield a handle.
func callHandle(
	out *C.int64_t, outErr *C.drivesdk_buffer, fn func(rt *boundary.Runtime) (handle.Handle, error),
) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		if out == nil {
			return fmt.Errorf("libdrivesdk: handle out-parameter is required: %w", sdkerr.ErrArgument)
		}

		h, err := fn(rt)
		if err != nil {
			return err
		}

		*out = C.int64_t(h)

		return nil
	})
}

// callBytes is call for entry points that yield a payload.
func callBytes(
	out *C.drivesdk_buffer, outErr *C.drivesdk_buffer, fn func(rt *boundary.Runtime) ([]byte, error),
) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		if out == nil {
			return fmt.Errorf("libdrivesdk: output buffer is required: %w", sdkerr.ErrArgument)
		}

		data, err := fn(rt)
		if err != nil {
			return err
		}

		fill(out, data)

		return nil
	})
}
