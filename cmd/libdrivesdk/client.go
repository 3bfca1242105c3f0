package main

/*
#include "drivesdk.h"
*/
import "C"

import (
	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
)

//export drive_client_create
func drive_client_create(
	sessionHandle C.int64_t, request C.drivesdk_view, out *C.int64_t, outErr *C.drivesdk_buffer,
) C.int32_t {
	req := viewBytes(request)

	return callHandle(out, outErr, func(rt *boundary.Runtime) (handle.Handle, error) {
		return rt.DriveClientCreate(handle.Handle(sessionHandle), req)
	})
}

//export drive_client_free
func drive_client_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.DriveClientFree(handle.Handle(h))
	})
}

//export drive_client_register_node_keys
func drive_client_register_node_keys(h C.int64_t, request C.drivesdk_view, outErr *C.drivesdk_buffer) C.int32_t {
	req := viewBytes(request)

	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.DriveClientRegisterNodeKeys(handle.Handle(h), req)
	})
}

//export drive_client_register_share_key
func drive_client_register_share_key(h C.int64_t, request C.drivesdk_view, outErr *C.drivesdk_buffer) C.int32_t {
	req := viewBytes(request)

	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.DriveClientRegisterShareKey(handle.Handle(h), req)
	})
}

//export drive_client_get_volumes
func drive_client_get_volumes(h C.int64_t, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.DriveClientGetVolumes(handle.Handle(h), toCallback(cb))
	})
}

// asyncRequest adapts the common (handle, request, callback) entry point shape.
func asyncRequest(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
	fn func(rt *boundary.Runtime, h handle.Handle, req []byte, cb boundary.Callback) error,
) C.int32_t {
	req := viewBytes(request)

	return call(outErr, func(rt *boundary.Runtime) error {
		return fn(rt, handle.Handle(h), req, toCallback(cb))
	})
}

//export drive_client_get_share
func drive_client_get_share(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).DriveClientGetShare)
}

//export drive_client_create_file
func drive_client_create_file(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).DriveClientCreateFile)
}

//export drive_client_decrypt_armored_name
func drive_client_decrypt_armored_name(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).DriveClientDecryptArmoredName)
}

//export drive_client_open_revision_for_reading
func drive_client_open_revision_for_reading(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).DriveClientOpenRevisionForReading)
}

//export drive_client_open_revision_for_writing
func drive_client_open_revision_for_writing(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).DriveClientOpenRevisionForWriting)
}
