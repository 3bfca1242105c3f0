package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

type uploaderRequest struct {
	Size    int64 `json:"size"`
	Samples int64 `json:"samples,omitempty"`
}

type readToPathRequest struct {
	Path string `json:"path"`
}

type writeToPathRequest struct {
	Path             string    `json:"path"`
	ModificationTime time.Time `json:"modification_time,omitzero"`
}

// --- Downloader ---

// DownloaderCreate waits for a download slot on the client and answers with
// a downloader handle.
func (r *Runtime) DownloaderCreate(clientHandle handle.Handle, cb Callback) error {
	client, release, err := r.pinClient(clientHandle)
	if err != nil {
		return err
	}

	return submitHandle(r, "downloader_create", handle.KindDownloader, cb, client.NewDownloader, release)
}

// DownloaderDownloadFile downloads one revision to a local path, reporting
// progress per block.
func (r *Runtime) DownloaderDownloadFile(h handle.Handle, request []byte, cb Callback) error {
	d, release, err := handle.Pin[*drive.Downloader](r.handles, h, handle.KindDownloader)
	if err != nil {
		return err
	}

	var req drive.DownloadRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("downloader_download_file", cb, func(ctx context.Context, progress dispatch.ProgressFunc) ([]byte, error) {
		res, err := d.DownloadFile(ctx, req, progress)
		if err != nil {
			return nil, err
		}

		return encode(res)
	}, release)
}

// DownloaderFree releases the downloader and its slot.
func (r *Runtime) DownloaderFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindDownloader)
}

// --- Uploader ---

// UploaderCreate waits for enough upload slots for a file of the requested
// size and answers with an uploader handle.
func (r *Runtime) UploaderCreate(clientHandle handle.Handle, request []byte, cb Callback) error {
	client, release, err := r.pinClient(clientHandle)
	if err != nil {
		return err
	}

	var req uploaderRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return submitHandle(r, "uploader_create", handle.KindUploader, cb, func(ctx context.Context) (*drive.Uploader, error) {
		return client.NewUploader(ctx, req.Size, req.Samples)
	}, release)
}

// UploaderUploadFile creates a file and uploads a local file as its first
// revision.
func (r *Runtime) UploaderUploadFile(h handle.Handle, request []byte, cb Callback) error {
	u, release, err := handle.Pin[*drive.Uploader](r.handles, h, handle.KindUploader)
	if err != nil {
		return err
	}

	var req drive.UploadRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("uploader_upload_file", cb, func(ctx context.Context, progress dispatch.ProgressFunc) ([]byte, error) {
		res, err := u.UploadFile(ctx, req, progress)
		if err != nil {
			return nil, err
		}

		return encode(res)
	}, release)
}

// UploaderUploadRevision uploads a local file as a new revision of an
// existing node.
func (r *Runtime) UploaderUploadRevision(h handle.Handle, request []byte, cb Callback) error {
	u, release, err := handle.Pin[*drive.Uploader](r.handles, h, handle.KindUploader)
	if err != nil {
		return err
	}

	var req drive.RevisionUploadRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("uploader_upload_revision", cb, func(ctx context.Context, progress dispatch.ProgressFunc) ([]byte, error) {
		res, err := u.UploadRevision(ctx, req, progress)
		if err != nil {
			return nil, err
		}

		return encode(res)
	}, release)
}

// UploaderFree releases the uploader and its slots.
func (r *Runtime) UploaderFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindUploader)
}

// --- Revision reader ---

// SinkFunc is the caller's asynchronous write capability. The core hands it
// one chunk at a time and waits for complete before handing the next. A nil
// failure record acknowledges the chunk; a non-nil one aborts the read with
// that error.
type SinkFunc func(chunk []byte, complete func(failure []byte))

// externalSink adapts a SinkFunc to drive.Sink. A chunk stays outstanding
// until the caller completes it; Write waits for that even after ctx is
// cancelled, so the read keeps its reader busy and a later read cannot
// overlap it. Runtime shutdown abandons unacknowledged chunks.
type externalSink struct {
	write   SinkFunc
	closing <-chan struct{}
}

func (s externalSink) Write(ctx context.Context, p []byte) error {
	done := make(chan error, 1)

	var once sync.Once

	s.write(p, func(failure []byte) {
		once.Do(func() { done <- sinkError(failure) })
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case <-done:
	case <-s.closing:
	}

	return ctx.Err()
}

func sinkError(failure []byte) error {
	if len(failure) == 0 {
		return nil
	}

	var rec sdkerr.Record
	if err := json.Unmarshal(failure, &rec); err != nil || rec.Message == "" {
		return fmt.Errorf("boundary: sink write failed: %s: %w", failure, sdkerr.ErrTransientIO)
	}

	return fmt.Errorf("boundary: sink write failed: %w", rec)
}

// RevisionReaderRead streams the revision's plaintext to the caller's sink.
func (r *Runtime) RevisionReaderRead(h handle.Handle, sink SinkFunc, cb Callback) error {
	reader, release, err := handle.Pin[*drive.RevisionReader](r.handles, h, handle.KindRevisionReader)
	if err != nil {
		return err
	}

	if sink == nil {
		release()
		return fmt.Errorf("boundary: sink is required: %w", sdkerr.ErrArgument)
	}

	return r.submit("revision_reader_read", cb, func(ctx context.Context, progress dispatch.ProgressFunc) ([]byte, error) {
		res, err := reader.Read(ctx, externalSink{write: sink, closing: r.closing}, progress)
		if err != nil {
			return nil, err
		}

		return encode(res)
	}, release)
}

// RevisionReaderReadToPath writes the revision's plaintext to a local path.
func (r *Runtime) RevisionReaderReadToPath(h handle.Handle, request []byte, cb Callback) error {
	reader, release, err := handle.Pin[*drive.RevisionReader](r.handles, h, handle.KindRevisionReader)
	if err != nil {
		return err
	}

	var req readToPathRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("revision_reader_read_to_path", cb, func(ctx context.Context, progress dispatch.ProgressFunc) ([]byte, error) {
		res, err := reader.ReadToPath(ctx, req.Path, progress)
		if err != nil {
			return nil, err
		}

		return encode(res)
	}, release)
}

// RevisionReaderFree releases the reader.
func (r *Runtime) RevisionReaderFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindRevisionReader)
}

// --- Revision writer ---

// RevisionWriterWriteToPath uploads the content found at a local path into
// the writer's draft and commits it with the given modification time.
func (r *Runtime) RevisionWriterWriteToPath(h handle.Handle, request []byte, cb Callback) error {
	w, release, err := handle.Pin[*drive.RevisionWriter](r.handles, h, handle.KindRevisionWriter)
	if err != nil {
		return err
	}

	var req writeToPathRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("revision_writer_write_to_path", cb, func(ctx context.Context, progress dispatch.ProgressFunc) ([]byte, error) {
		res, err := w.WriteFromPath(ctx, req.Path, req.ModificationTime, progress)
		if err != nil {
			return nil, err
		}

		return encode(res)
	}, release)
}

// RevisionWriterFree releases the writer.
func (r *Runtime) RevisionWriterFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindRevisionWriter)
}
