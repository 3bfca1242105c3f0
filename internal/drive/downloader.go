package drive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Downloader is the resource behind a downloader handle. It holds one
// block-listing slot of its client until closed.
type Downloader struct {
	client  *Client
	release sync.Once
}

// NewDownloader waits for a free download slot. It fails with a
// cancellation error if ctx ends first.
func (c *Client) NewDownloader(ctx context.Context) (*Downloader, error) {
	if err := c.begin(ctx, "creating downloader"); err != nil {
		return nil, err
	}

	if err := c.downloadSlots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("drive: waiting for download slot: %w", err)
	}

	return &Downloader{client: c}, nil
}

// DownloadRequest selects a revision and a local destination. An empty
// RevisionID downloads the active revision; an empty OperationID is
// generated.
type DownloadRequest struct {
	ShareID     string `json:"share_id"`
	VolumeID    string `json:"volume_id"`
	NodeID      string `json:"node_id"`
	RevisionID  string `json:"revision_id,omitempty"`
	TargetPath  string `json:"target_path"`
	OperationID string `json:"operation_id,omitempty"`
}

// DownloadResult reports a completed download.
type DownloadResult struct {
	Node         api.Node           `json:"node"`
	OperationID  string             `json:"operation_id"`
	Size         int64              `json:"size"`
	Verification VerificationStatus `json:"verification_status"`
}

// DownloadFile downloads a file revision to req.TargetPath.
func (d *Downloader) DownloadFile(ctx context.Context, req DownloadRequest, progress dispatch.ProgressFunc) (*DownloadResult, error) {
	c := d.client

	if req.TargetPath == "" {
		return nil, fmt.Errorf("drive: empty target path: %w", sdkerr.ErrArgument)
	}

	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}

	ctx = api.WithOperationID(ctx, req.OperationID)

	logger := c.logger.With(
		slog.String("operation_id", req.OperationID),
		slog.String("node_id", req.NodeID),
	)
	logger.Debug("download starting", slog.String("target", req.TargetPath))

	res, err := d.download(ctx, req, progress)
	if err != nil {
		c.recordTransfer(ctx, TransferDownload, 0, err)
		logger.Warn("download failed", slog.String("error", err.Error()))

		return nil, err
	}

	c.recordTransfer(ctx, TransferDownload, res.Size, nil)
	logger.Info("download complete",
		slog.Int64("size", res.Size),
		slog.String("verification", res.Verification.String()),
	)

	return res, nil
}

func (d *Downloader) download(ctx context.Context, req DownloadRequest, progress dispatch.ProgressFunc) (*DownloadResult, error) {
	c := d.client

	ref := RevisionRef{ShareID: req.ShareID, VolumeID: req.VolumeID, NodeID: req.NodeID, RevisionID: req.RevisionID}
	if err := ref.validate(); err != nil {
		return nil, err
	}

	if err := c.begin(ctx, "downloading file"); err != nil {
		return nil, err
	}

	node, err := c.svc.GetNode(ctx, req.ShareID, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("drive: getting node %s: %w", req.NodeID, err)
	}

	if ref.RevisionID == "" {
		ref.RevisionID = node.ActiveRevisionID
		if ref.RevisionID == "" {
			return nil, fmt.Errorf("drive: node %s has no active revision: %w", req.NodeID, sdkerr.ErrNotFound)
		}
	}

	reader, err := c.OpenRevisionForReading(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	res, err := reader.ReadToPath(ctx, req.TargetPath, progress)
	if err != nil {
		return nil, err
	}

	return &DownloadResult{
		Node:         *node,
		OperationID:  req.OperationID,
		Size:         res.Size,
		Verification: res.Verification,
	}, nil
}

// Close returns the download slot. Safe to call more than once.
func (d *Downloader) Close() error {
	d.release.Do(func() { d.client.downloadSlots.Release(1) })
	return nil
}
