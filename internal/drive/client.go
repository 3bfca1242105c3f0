// Package drive is the session-scoped facade for node and revision
// operations: file creation, name decryption, and chunked revision transfer
// through readers, writers, downloaders and uploaders.
//
// Every operation re-checks that the bound session is still authenticated,
// honours ctx at each chunk boundary, and reports failures already
// classified. Nothing here retries; the Service implementation owns that.
package drive

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

// Defaults applied when Options leave a field zero.
const (
	defaultBlockSize         = 4 << 20
	defaultParallelDownloads = 4
	defaultParallelUploads   = 64
)

// Service is the subset of the storage service the drive client uses.
// *api.Client implements it.
type Service interface {
	ListVolumes(ctx context.Context) ([]api.Volume, error)
	GetShare(ctx context.Context, shareID string) (*api.Share, error)
	GetNode(ctx context.Context, shareID, nodeID string) (*api.Node, error)
	CreateFile(ctx context.Context, shareID string, req api.CreateFileRequest) (*api.FileCreated, error)
	CreateRevision(ctx context.Context, shareID, nodeID string) (*api.Revision, error)
	GetRevision(ctx context.Context, shareID, nodeID, revisionID string) (*api.Revision, error)
	CommitRevision(ctx context.Context, shareID, nodeID, revisionID string, req api.CommitRevisionRequest) error
	DeleteRevision(ctx context.Context, shareID, nodeID, revisionID string) error
	RequestBlockUpload(ctx context.Context, req api.BlockUploadRequest) ([]api.BlockUploadTarget, error)
	UploadBlock(ctx context.Context, blockID string, data []byte) error
	DownloadBlock(ctx context.Context, blockID string) ([]byte, error)
}

var _ Service = (*api.Client)(nil)

// Options configure a Client.
type Options struct {
	BlockSize int64
	// ParallelDownloads is the number of downloaders that may exist at once
	// and the block prefetch window of each read.
	ParallelDownloads int
	// ParallelUploads is the number of revision-creation block slots shared
	// by the client's uploaders.
	ParallelUploads int
	Limiter         *BandwidthLimiter
	Metrics         MetricsRecorder
	// SigningKeyID selects the session key manifests are signed with. Empty
	// selects the first registered key.
	SigningKeyID string
	Logger       *slog.Logger
}

// Client is the resource behind a drive client handle. It holds a reference
// to its session for authorization and keys, but no session state.
type Client struct {
	session      *session.Session
	svc          Service
	cipher       Cipher
	logger       *slog.Logger
	blockSize    int64
	readWindow   int
	signingKeyID string
	limiter      *BandwidthLimiter
	metrics      MetricsRecorder
	secrets      *secretCache

	downloadSlots  *semaphore.Weighted
	uploadSlots    *semaphore.Weighted
	uploadCapacity int64
}

// NewClient binds a drive client to an authenticated session.
func NewClient(sess *session.Session, svc Service, cipher Cipher, opts Options) (*Client, error) {
	if sess == nil || svc == nil || cipher == nil {
		return nil, fmt.Errorf("drive: session, service and cipher are required: %w", sdkerr.ErrArgument)
	}

	if err := sess.RequireAuthenticated(); err != nil {
		return nil, fmt.Errorf("drive: creating client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	downloads := opts.ParallelDownloads
	if downloads <= 0 {
		downloads = defaultParallelDownloads
	}

	uploads := opts.ParallelUploads
	if uploads <= 0 {
		uploads = defaultParallelUploads
	}

	c := &Client{
		session:        sess,
		svc:            svc,
		cipher:         cipher,
		logger:         logger.With(slog.String("session_id", sess.ID())),
		blockSize:      blockSize,
		readWindow:     downloads,
		signingKeyID:   opts.SigningKeyID,
		limiter:        opts.Limiter,
		metrics:        opts.Metrics,
		secrets:        newSecretCache(),
		downloadSlots:  semaphore.NewWeighted(int64(downloads)),
		uploadSlots:    semaphore.NewWeighted(int64(uploads)),
		uploadCapacity: int64(uploads),
	}

	c.logger.Debug("drive client created",
		slog.Int64("block_size", blockSize),
		slog.Int("parallel_downloads", downloads),
		slog.Int("parallel_uploads", uploads),
	)

	return c, nil
}

// authorize fails once the bound session has ended.
func (c *Client) authorize() error {
	if err := c.session.RequireAuthenticated(); err != nil {
		return fmt.Errorf("drive: %w", err)
	}

	return nil
}

// begin is the common preamble of every operation.
func (c *Client) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("drive: %s: %w", op, err)
	}

	return c.authorize()
}

// RegisterNodeKeys caches secrets for a node, replacing earlier ones.
func (c *Client) RegisterNodeKeys(ref NodeRef, keys NodeKeys) error {
	if err := c.authorize(); err != nil {
		return err
	}

	if err := c.secrets.putNode(ref, keys); err != nil {
		return err
	}

	c.logger.Debug("node keys registered", slog.String("volume_id", ref.VolumeID), slog.String("node_id", ref.NodeID))

	return nil
}

// RegisterShareKey caches the key of a share, replacing an earlier one.
func (c *Client) RegisterShareKey(shareID string, key []byte) error {
	if err := c.authorize(); err != nil {
		return err
	}

	if err := c.secrets.putShare(shareID, key); err != nil {
		return err
	}

	c.logger.Debug("share key registered", slog.String("share_id", shareID))

	return nil
}

// GetVolumes lists the user's volumes.
func (c *Client) GetVolumes(ctx context.Context) ([]api.Volume, error) {
	if err := c.begin(ctx, "listing volumes"); err != nil {
		return nil, err
	}

	vols, err := c.svc.ListVolumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: listing volumes: %w", err)
	}

	return vols, nil
}

// Share describes a share. KeyRegistered reports whether its key is cached
// on the client.
type Share struct {
	ShareID       string `json:"share_id"`
	VolumeID      string `json:"volume_id"`
	RootNodeID    string `json:"root_node_id"`
	CreatorEmail  string `json:"creator_email,omitempty"`
	KeyRegistered bool   `json:"key_registered"`
}

// GetShare fetches a share and, when the service returns its locked key,
// unlocks and caches it.
func (c *Client) GetShare(ctx context.Context, shareID string) (*Share, error) {
	if shareID == "" {
		return nil, fmt.Errorf("drive: empty share id: %w", sdkerr.ErrArgument)
	}

	if err := c.begin(ctx, "getting share"); err != nil {
		return nil, err
	}

	s, err := c.svc.GetShare(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("drive: getting share %s: %w", shareID, err)
	}

	if s.ArmoredKey != "" {
		key, err := c.cipher.UnlockKey([]byte(s.ArmoredKey), []byte(s.ArmoredPassphrase))
		if err != nil {
			return nil, fmt.Errorf("drive: unlocking key of share %s: %w", shareID, err)
		}

		err = c.secrets.putShare(shareID, key)
		clear(key)

		if err != nil {
			return nil, err
		}
	}

	_, registered := c.secrets.share(shareID)

	return &Share{
		ShareID:       s.ShareID,
		VolumeID:      s.VolumeID,
		RootNodeID:    s.RootNodeID,
		CreatorEmail:  s.CreatorEmail,
		KeyRegistered: registered,
	}, nil
}

// CreateFileRequest names a new file under a parent folder.
type CreateFileRequest struct {
	ShareID      string `json:"share_id"`
	VolumeID     string `json:"volume_id"`
	ParentNodeID string `json:"parent_node_id"`
	Name         string `json:"name"`
	MediaType    string `json:"media_type,omitempty"`
}

// FileNode is a created file with its first draft revision.
type FileNode struct {
	ShareID      string `json:"share_id"`
	VolumeID     string `json:"volume_id"`
	NodeID       string `json:"node_id"`
	ParentNodeID string `json:"parent_node_id"`
	RevisionID   string `json:"revision_id"`
	Name         string `json:"name"`
	MediaType    string `json:"media_type,omitempty"`
}

// CreateFile creates a file node with an empty draft revision. The name is
// NFC-normalized before it is encrypted and hashed.
func (c *Client) CreateFile(ctx context.Context, req CreateFileRequest) (*FileNode, error) {
	if req.ShareID == "" || req.VolumeID == "" || req.ParentNodeID == "" {
		return nil, fmt.Errorf("drive: create file needs share, volume and parent ids: %w", sdkerr.ErrArgument)
	}

	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, err
	}

	if err := c.begin(ctx, "creating file"); err != nil {
		return nil, err
	}

	parent := NodeRef{VolumeID: req.VolumeID, NodeID: req.ParentNodeID}

	nameKey, err := c.secrets.nameKey(req.ShareID, parent)
	if err != nil {
		return nil, err
	}

	hashKey, err := c.secrets.hashKey(req.ShareID, parent)
	if err != nil {
		return nil, err
	}

	armored, err := c.cipher.EncryptName(name, nameKey)
	if err != nil {
		return nil, fmt.Errorf("drive: encrypting name: %w", err)
	}

	created, err := c.svc.CreateFile(ctx, req.ShareID, api.CreateFileRequest{
		ParentNodeID: req.ParentNodeID,
		Name:         armored,
		NameHash:     c.cipher.NameHash(name, hashKey),
		MediaType:    req.MediaType,
	})
	if err != nil {
		return nil, fmt.Errorf("drive: creating file under %s: %w", req.ParentNodeID, err)
	}

	c.logger.Info("file created",
		slog.String("share_id", req.ShareID),
		slog.String("node_id", created.NodeID),
		slog.String("revision_id", created.RevisionID),
	)

	return &FileNode{
		ShareID:      req.ShareID,
		VolumeID:     req.VolumeID,
		NodeID:       created.NodeID,
		ParentNodeID: req.ParentNodeID,
		RevisionID:   created.RevisionID,
		Name:         name,
		MediaType:    req.MediaType,
	}, nil
}

// NameRequest identifies an armored name and the folder it lives in.
type NameRequest struct {
	ShareID      string `json:"share_id"`
	VolumeID     string `json:"volume_id"`
	ParentNodeID string `json:"parent_node_id"`
	ArmoredName  string `json:"armored_name"`
}

// DecryptArmoredName decrypts a node name with the parent's key and returns
// it NFC-normalized.
func (c *Client) DecryptArmoredName(ctx context.Context, req NameRequest) (string, error) {
	if req.ArmoredName == "" {
		return "", fmt.Errorf("drive: empty armored name: %w", sdkerr.ErrArgument)
	}

	if err := c.begin(ctx, "decrypting name"); err != nil {
		return "", err
	}

	key, err := c.secrets.nameKey(req.ShareID, NodeRef{VolumeID: req.VolumeID, NodeID: req.ParentNodeID})
	if err != nil {
		return "", err
	}

	name, err := c.cipher.DecryptName(req.ArmoredName, key)
	if err != nil {
		return "", fmt.Errorf("drive: decrypting name: %w", err)
	}

	return normalizeName(name)
}

// signingKey picks the session key manifests are signed with.
func (c *Client) signingKey() (string, []byte, bool) {
	keys := c.session.Keys()

	id := c.signingKeyID
	if id == "" {
		ids := keys.IDs()
		if len(ids) == 0 {
			return "", nil, false
		}

		id = ids[0]
	}

	k, ok := keys.Get(id)
	if !ok {
		return "", nil, false
	}

	return k.ID, k.Data, true
}

// Close releases the client. It never contacts the service.
func (c *Client) Close() error {
	c.logger.Debug("drive client closed")
	return nil
}
