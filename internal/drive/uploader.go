package drive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Uploader is the resource behind an uploader handle. It holds a weighted
// share of its client's revision-creation slots until closed.
type Uploader struct {
	client  *Client
	weight  int64
	release sync.Once
}

// uploadWeight is the number of slots an upload of size bytes with the
// given number of thumbnail or sample blocks occupies.
func (c *Client) uploadWeight(size, samples int64) int64 {
	blocks := (size + c.blockSize - 1) / c.blockSize
	return min(max(blocks+samples, 1), c.uploadCapacity)
}

// NewUploader waits until enough upload slots are free for a file of size
// bytes plus samples extra blocks. Slots are granted in request order.
func (c *Client) NewUploader(ctx context.Context, size, samples int64) (*Uploader, error) {
	if size < 0 || samples < 0 {
		return nil, fmt.Errorf("drive: upload size and sample count must be non-negative: %w", sdkerr.ErrArgument)
	}

	if err := c.begin(ctx, "creating uploader"); err != nil {
		return nil, err
	}

	weight := c.uploadWeight(size, samples)
	if err := c.uploadSlots.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("drive: waiting for %d upload slots: %w", weight, err)
	}

	c.logger.Debug("uploader created", slog.Int64("slots", weight))

	return &Uploader{client: c, weight: weight}, nil
}

// UploadRequest creates a new file from a local path. An empty MediaType is
// detected from the content; a zero ModificationTime uses the file's own.
type UploadRequest struct {
	ShareID          string    `json:"share_id"`
	VolumeID         string    `json:"volume_id"`
	ParentNodeID     string    `json:"parent_node_id"`
	Name             string    `json:"name,omitempty"`
	MediaType        string    `json:"media_type,omitempty"`
	SourcePath       string    `json:"source_path"`
	ModificationTime time.Time `json:"modification_time,omitzero"`
	OperationID      string    `json:"operation_id,omitempty"`
}

// RevisionUploadRequest uploads a local path as a new revision of an
// existing file.
type RevisionUploadRequest struct {
	ShareID          string    `json:"share_id"`
	VolumeID         string    `json:"volume_id"`
	NodeID           string    `json:"node_id"`
	SourcePath       string    `json:"source_path"`
	ModificationTime time.Time `json:"modification_time,omitzero"`
	OperationID      string    `json:"operation_id,omitempty"`
}

// UploadResult reports a committed upload.
type UploadResult struct {
	NodeID           string    `json:"node_id"`
	RevisionID       string    `json:"revision_id"`
	OperationID      string    `json:"operation_id"`
	Name             string    `json:"name,omitempty"`
	MediaType        string    `json:"media_type,omitempty"`
	Size             int64     `json:"size"`
	ModificationTime time.Time `json:"modification_time"`
}

// UploadFile creates a file under req.ParentNodeID and uploads the content
// of req.SourcePath as its first revision. A context that is already done
// fails before anything is created on the service.
func (u *Uploader) UploadFile(ctx context.Context, req UploadRequest, progress dispatch.ProgressFunc) (*UploadResult, error) {
	c := u.client

	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}

	ctx = api.WithOperationID(ctx, req.OperationID)
	logger := c.logger.With(slog.String("operation_id", req.OperationID))

	res, err := u.uploadFile(ctx, req, progress)
	if err != nil {
		c.recordTransfer(ctx, TransferUpload, 0, err)
		logger.Warn("upload failed", slog.String("path", req.SourcePath), slog.String("error", err.Error()))

		return nil, err
	}

	c.recordTransfer(ctx, TransferUpload, res.Size, nil)
	logger.Info("upload complete",
		slog.String("node_id", res.NodeID),
		slog.String("revision_id", res.RevisionID),
		slog.Int64("size", res.Size),
	)

	return res, nil
}

func (u *Uploader) uploadFile(ctx context.Context, req UploadRequest, progress dispatch.ProgressFunc) (*UploadResult, error) {
	c := u.client

	if req.SourcePath == "" {
		return nil, fmt.Errorf("drive: empty source path: %w", sdkerr.ErrArgument)
	}

	if err := c.begin(ctx, "uploading file"); err != nil {
		return nil, err
	}

	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("drive: stat %s: %w", req.SourcePath, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("drive: %s is a directory: %w", req.SourcePath, sdkerr.ErrArgument)
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(req.SourcePath)
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = detectMediaType(req.SourcePath)
	}

	file, err := c.CreateFile(ctx, CreateFileRequest{
		ShareID:      req.ShareID,
		VolumeID:     req.VolumeID,
		ParentNodeID: req.ParentNodeID,
		Name:         name,
		MediaType:    mediaType,
	})
	if err != nil {
		return nil, err
	}

	writer, err := c.OpenRevisionForWriting(ctx, RevisionRef{
		ShareID:    req.ShareID,
		VolumeID:   req.VolumeID,
		NodeID:     file.NodeID,
		RevisionID: file.RevisionID,
	})
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	res, err := writer.WriteFromPath(ctx, req.SourcePath, req.ModificationTime, progress)
	if err != nil {
		writer.abandon(ctx, err)
		return nil, err
	}

	return &UploadResult{
		NodeID:           res.NodeID,
		RevisionID:       res.RevisionID,
		OperationID:      req.OperationID,
		Name:             file.Name,
		MediaType:        mediaType,
		Size:             res.Size,
		ModificationTime: res.ModificationTime,
	}, nil
}

// UploadRevision uploads req.SourcePath as a new revision of an existing
// file node.
func (u *Uploader) UploadRevision(
	ctx context.Context, req RevisionUploadRequest, progress dispatch.ProgressFunc,
) (*UploadResult, error) {
	c := u.client

	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}

	ctx = api.WithOperationID(ctx, req.OperationID)
	logger := c.logger.With(slog.String("operation_id", req.OperationID), slog.String("node_id", req.NodeID))

	res, err := u.uploadRevision(ctx, req, progress)
	if err != nil {
		c.recordTransfer(ctx, TransferUpload, 0, err)
		logger.Warn("revision upload failed", slog.String("error", err.Error()))

		return nil, err
	}

	c.recordTransfer(ctx, TransferUpload, res.Size, nil)
	logger.Info("revision upload complete", slog.String("revision_id", res.RevisionID), slog.Int64("size", res.Size))

	return res, nil
}

func (u *Uploader) uploadRevision(
	ctx context.Context, req RevisionUploadRequest, progress dispatch.ProgressFunc,
) (*UploadResult, error) {
	if req.SourcePath == "" {
		return nil, fmt.Errorf("drive: empty source path: %w", sdkerr.ErrArgument)
	}

	writer, err := u.client.OpenRevisionForWriting(ctx, RevisionRef{
		ShareID:  req.ShareID,
		VolumeID: req.VolumeID,
		NodeID:   req.NodeID,
	})
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	res, err := writer.WriteFromPath(ctx, req.SourcePath, req.ModificationTime, progress)
	if err != nil {
		writer.abandon(ctx, err)
		return nil, err
	}

	return &UploadResult{
		NodeID:           res.NodeID,
		RevisionID:       res.RevisionID,
		OperationID:      req.OperationID,
		Size:             res.Size,
		ModificationTime: res.ModificationTime,
	}, nil
}

// detectMediaType sniffs the file content. Unreadable files fall back to
// the generic binary type; the upload itself reports the read error.
func detectMediaType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}

	return mt.String()
}

// Close returns the uploader's slots. Safe to call more than once.
func (u *Uploader) Close() error {
	u.release.Do(func() { u.client.uploadSlots.Release(u.weight) })
	return nil
}
