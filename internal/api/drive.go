package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type volumesResponse struct {
	Volumes []Volume `json:"volumes"`
}

type shareResponse struct {
	Share Share `json:"share"`
}

type nodeResponse struct {
	Node Node `json:"node"`
}

type fileResponse struct {
	File FileCreated `json:"file"`
}

type revisionResponse struct {
	Revision Revision `json:"revision"`
}

type blockUploadResponse struct {
	Targets []BlockUploadTarget `json:"targets"`
}

type metricsRequest struct {
	Metrics []Metric `json:"metrics"`
}

func filePath(shareID, nodeID string) string {
	return fmt.Sprintf("drive/shares/%s/files/%s", url.PathEscape(shareID), url.PathEscape(nodeID))
}

func revisionPath(shareID, nodeID, revisionID string) string {
	return filePath(shareID, nodeID) + "/revisions/" + url.PathEscape(revisionID)
}

// ListVolumes returns the user's volumes.
func (c *Client) ListVolumes(ctx context.Context) ([]Volume, error) {
	var resp volumesResponse
	if err := c.doJSON(ctx, http.MethodGet, "drive/volumes", nil, &resp); err != nil {
		return nil, err
	}

	return resp.Volumes, nil
}

// GetShare returns a share with its armored key.
func (c *Client) GetShare(ctx context.Context, shareID string) (*Share, error) {
	var resp shareResponse
	if err := c.doJSON(ctx, http.MethodGet, "drive/shares/"+url.PathEscape(shareID), nil, &resp); err != nil {
		return nil, err
	}

	return &resp.Share, nil
}

// GetNode returns a node's metadata.
func (c *Client) GetNode(ctx context.Context, shareID, nodeID string) (*Node, error) {
	var resp nodeResponse
	if err := c.doJSON(ctx, http.MethodGet, filePath(shareID, nodeID), nil, &resp); err != nil {
		return nil, err
	}

	return &resp.Node, nil
}

// CreateFile creates a file node and its first draft revision.
func (c *Client) CreateFile(ctx context.Context, shareID string, req CreateFileRequest) (*FileCreated, error) {
	var resp fileResponse

	path := "drive/shares/" + url.PathEscape(shareID) + "/files"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	return &resp.File, nil
}

// CreateRevision opens a new draft revision on an existing file.
func (c *Client) CreateRevision(ctx context.Context, shareID, nodeID string) (*Revision, error) {
	var resp revisionResponse
	if err := c.doJSON(ctx, http.MethodPost, filePath(shareID, nodeID)+"/revisions", struct{}{}, &resp); err != nil {
		return nil, err
	}

	return &resp.Revision, nil
}

// GetRevision returns a revision with its block list.
func (c *Client) GetRevision(ctx context.Context, shareID, nodeID, revisionID string) (*Revision, error) {
	var resp revisionResponse
	if err := c.doJSON(ctx, http.MethodGet, revisionPath(shareID, nodeID, revisionID), nil, &resp); err != nil {
		return nil, err
	}

	return &resp.Revision, nil
}

// CommitRevision seals a draft revision, making it the active one.
func (c *Client) CommitRevision(
	ctx context.Context, shareID, nodeID, revisionID string, req CommitRevisionRequest,
) error {
	return c.doJSON(ctx, http.MethodPut, revisionPath(shareID, nodeID, revisionID), req, nil)
}

// DeleteRevision removes a draft revision.
func (c *Client) DeleteRevision(ctx context.Context, shareID, nodeID, revisionID string) error {
	return c.doJSON(ctx, http.MethodDelete, revisionPath(shareID, nodeID, revisionID), nil, nil)
}

// RequestBlockUpload returns one upload target per requested block.
func (c *Client) RequestBlockUpload(ctx context.Context, req BlockUploadRequest) ([]BlockUploadTarget, error) {
	var resp blockUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "drive/blocks", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Targets) != len(req.Blocks) {
		return nil, fmt.Errorf("api: requested %d block targets, got %d", len(req.Blocks), len(resp.Targets))
	}

	return resp.Targets, nil
}

// UploadBlock stores the content of one block.
func (c *Client) UploadBlock(ctx context.Context, blockID string, data []byte) error {
	_, err := c.doRaw(ctx, http.MethodPut, "drive/blocks/"+url.PathEscape(blockID), data)
	return err
}

// DownloadBlock fetches the content of one block.
func (c *Client) DownloadBlock(ctx context.Context, blockID string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "drive/blocks/"+url.PathEscape(blockID), nil)
}

// SendMetrics ships a batch of observability data points.
func (c *Client) SendMetrics(ctx context.Context, metrics []Metric) error {
	return c.doJSON(ctx, http.MethodPost, "data/v1/metrics", metricsRequest{Metrics: metrics}, nil)
}
