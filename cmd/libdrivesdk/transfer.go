package main

/*
#include "drivesdk.h"
*/
import "C"

import (
	"fmt"
	"sync"

	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

//export downloader_create
func downloader_create(clientHandle C.int64_t, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.DownloaderCreate(handle.Handle(clientHandle), toCallback(cb))
	})
}

//export downloader_download_file
func downloader_download_file(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).DownloaderDownloadFile)
}

//export downloader_free
func downloader_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.DownloaderFree(handle.Handle(h))
	})
}

//export uploader_create
func uploader_create(
	clientHandle C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(clientHandle, request, cb, outErr, (*boundary.Runtime).UploaderCreate)
}

//export uploader_upload_file
func uploader_upload_file(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).UploaderUploadFile)
}

//export uploader_upload_revision
func uploader_upload_revision(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).UploaderUploadRevision)
}

//export uploader_free
func uploader_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.UploaderFree(handle.Handle(h))
	})
}

// --- External sinks ---

// completions tracks chunk acknowledgements owed by caller sinks.
var completions = struct {
	sync.Mutex
	next    int64
	pending map[int64]func([]byte)
}{pending: make(map[int64]func([]byte))}

func addCompletion(fn func([]byte)) int64 {
	completions.Lock()
	defer completions.Unlock()

	completions.next++
	completions.pending[completions.next] = fn

	return completions.next
}

func takeCompletion(id int64) (func([]byte), bool) {
	completions.Lock()
	defer completions.Unlock()

	fn, ok := completions.pending[id]
	delete(completions.pending, id)

	return fn, ok
}

// dropCompletions forgets every outstanding acknowledgement. Later calls to
// revision_reader_sink_complete for them answer NotFound.
func dropCompletions() int {
	completions.Lock()
	defer completions.Unlock()

	n := len(completions.pending)
	clear(completions.pending)

	return n
}

func toSink(s *C.drivesdk_sink) boundary.SinkFunc {
	if s == nil || s.write == nil {
		return nil
	}

	write, state := s.write, s.state

	return func(chunk []byte, complete func([]byte)) {
		id := addCompletion(complete)

		var data *C.uint8_t

		if len(chunk) > 0 {
			buf := C.CBytes(chunk)
			defer C.free(buf)

			data = (*C.uint8_t)(buf)
		}

		C.drivesdk_call_sink(write, state, data, C.size_t(len(chunk)), C.int64_t(id))
	}
}

//export revision_reader_sink_complete
func revision_reader_sink_complete(completion C.int64_t, failure C.drivesdk_view) C.int32_t {
	fn, ok := takeCompletion(int64(completion))
	if !ok {
		return status(fmt.Errorf("libdrivesdk: unknown sink completion %d: %w", int64(completion), sdkerr.ErrNotFound), nil)
	}

	fn(viewBytes(failure))

	return status(nil, nil)
}

//export revision_reader_read
func revision_reader_read(
	h C.int64_t, sink *C.drivesdk_sink, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	fn := toSink(sink)

	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.RevisionReaderRead(handle.Handle(h), fn, toCallback(cb))
	})
}

//export revision_reader_read_to_path
func revision_reader_read_to_path(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).RevisionReaderReadToPath)
}

//export revision_reader_free
func revision_reader_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.RevisionReaderFree(handle.Handle(h))
	})
}

//export revision_writer_write_to_path
func revision_writer_write_to_path(
	h C.int64_t, request C.drivesdk_view, cb *C.drivesdk_callback, outErr *C.drivesdk_buffer,
) C.int32_t {
	return asyncRequest(h, request, cb, outErr, (*boundary.Runtime).RevisionWriterWriteToPath)
}

//export revision_writer_free
func revision_writer_free(h C.int64_t, outErr *C.drivesdk_buffer) C.int32_t {
	return call(outErr, func(rt *boundary.Runtime) error {
		return rt.RevisionWriterFree(handle.Handle(h))
	})
}
