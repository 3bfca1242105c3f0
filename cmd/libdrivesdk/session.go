package main

/*
#include "drivesdk.h"
*/
import "C"

import (
	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
)

//export session_begin
func session_begin(
	request C.drivesdk_view, opts *C.drivesdk_session_options, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	req := viewBytes(request)

	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.SessionBegin(req, toSessionOptions(opts), toCallback(cb))
	})
}

//export session_resume
func session_resume(
	state C.drivesdk_view, opts *C.drivesdk_session_options, out *C.int64_t, outErr *C.drivesdk_buffer,
) C.int32_t {
	data := viewBytes(state)

	return callHandle(out, outErr, func(rt *boundary.Runtime) (handle.Handle, error) {
		return rt.SessionResume(data, toSessionOptions(opts))
	})
}

//export session_renew
func session_renew(
	old C.int64_t, request C.drivesdk_view, opts *C.drivesdk_session_options, out *C.int64_t, outErr *C.drivesdk_buffer,
) C.int32_t {
	req := viewBytes(request)

	return callHandle(out, outErr, func(rt *boundary.Runtime) (handle.Handle, error) {
		return rt.SessionRenew(handle.Handle(old), req, toSessionOptions(opts))
	})
}

//export session_end
func session_end(h C.int64_t, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.SessionEnd(handle.Handle(h), toCallback(cb))
	})
}

//export session_free
func session_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.SessionFree(handle.Handle(h))
	})
}

//export session_add_user_key
func session_add_user_key(h C.int64_t, request C.drivesdk_view, outErr *C.drivesdk_buffer) C.int32_t {
	req := viewBytes(request)

	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.SessionAddUserKey(handle.Handle(h), req)
	})
}

//export session_add_armored_locked_user_key
func session_add_armored_locked_user_key(h C.int64_t, request C.drivesdk_view, outErr *C.drivesdk_buffer) C.int32_t {
	req := viewBytes(request)

	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.SessionAddArmoredLockedUserKey(handle.Handle(h), req)
	})
}

//export session_export
func session_export(h C.int64_t, out *C.drivesdk_buffer, outErr *C.drivesdk_buffer) C.int32_t {
	return callBytes(out, outErr, func(rt *boundary.Runtime) ([]byte, error) {
		return rt.SessionExport(handle.Handle(h))
	})
}

//export session_info
func session_info(h C.int64_t, out *C.drivesdk_buffer, outErr *C.drivesdk_buffer) C.int32_t {
	return callBytes(out, outErr, func(rt *boundary.Runtime) ([]byte, error) {
		return rt.SessionInfo(handle.Handle(h))
	})
}
