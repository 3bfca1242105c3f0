package main

/*
#include "drivesdk.h"
*/
import "C"

import (
	"unsafe"

	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/cancel"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
)

// --- Cancellation ---

//export cancellation_token_source_create
func cancellation_token_source_create(out *C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return callHandle(out, outErr, func(rt *boundary.Runtime) (handle.Handle, error) {
		return handle.Handle(rt.CancellationTokenSourceCreate()), nil
	})
}

//export cancellation_token_source_cancel
func cancellation_token_source_cancel(token C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.CancellationTokenSourceCancel(cancel.Token(token))
	})
}

//export cancellation_token_source_free
func cancellation_token_source_free(token C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.CancellationTokenSourceFree(cancel.Token(token))
	})
}

// --- Logger provider ---

//export logger_provider_create
func logger_provider_create(
	state unsafe.Pointer, sink C.drivesdk_payload_fn, level C.drivesdk_view, out *C.int64_t, outErr *C.drivesdk_buffer,
) C.int32_t {
	fn := payloadFunc(sink, state)
	name := string(viewBytes(level))

	return callHandle(out, outErr, func(rt *boundary.Runtime) (handle.Handle, error) {
		return rt.LoggerProviderCreate(fn, name)
	})
}

//export logger_provider_free
func logger_provider_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.LoggerProviderFree(handle.Handle(h))
	})
}

// --- Observability ---

//export observability_service_start_new
func observability_service_start_new(
	sessionHandle C.int64_t, request C.drivesdk_view, out *C.int64_t, outErr *C.drivesdk_buffer,
) C.int32_t {
	req := viewBytes(request)

	return callHandle(out, outErr, func(rt *boundary.Runtime) (handle.Handle, error) {
		return rt.ObservabilityServiceStartNew(handle.Handle(sessionHandle), req)
	})
}

//export observability_service_flush
func observability_service_flush(h C.int64_t, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.ObservabilityServiceFlush(handle.Handle(h), toCallback(cb))
	})
}

//export observability_service_free
func observability_service_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.ObservabilityServiceFree(handle.Handle(h))
	})
}
