// Package testutil provides shared test doubles for packages that talk to
// the storage service: an in-memory drive service with call counting,
// per-method error injection and hooks on block transfer.
package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// FakeDrive is an in-memory storage service. Content blocks are stored as
// given; digests are SHA-256 of the stored bytes.
type FakeDrive struct {
	mu      sync.Mutex
	nextID  int
	volumes []api.Volume
	shares  map[string]api.Share
	nodes   map[string]api.Node
	revs    map[string]api.Revision
	blocks  map[string][]byte
	pending map[string]bool
	calls   map[string]int
	errs    map[string]error
	deleted []string
	commits []api.CommitRevisionRequest
	metrics []api.Metric

	// OnDownloadBlock runs before a block is served. A non-nil error fails
	// the download.
	OnDownloadBlock func(ctx context.Context, blockID string) error
	// OnUploadBlock runs before a block is stored.
	OnUploadBlock func(ctx context.Context, blockID string) error
}

// NewFakeDrive returns an empty service.
func NewFakeDrive() *FakeDrive {
	return &FakeDrive{
		shares:  make(map[string]api.Share),
		nodes:   make(map[string]api.Node),
		revs:    make(map[string]api.Revision),
		blocks:  make(map[string][]byte),
		pending: make(map[string]bool),
		calls:   make(map[string]int),
		errs:    make(map[string]error),
	}
}

// --- Seeding ---

// AddVolume registers a volume.
func (f *FakeDrive) AddVolume(v api.Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.volumes = append(f.volumes, v)
}

// AddShare registers a share.
func (f *FakeDrive) AddShare(s api.Share) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shares[s.ShareID] = s
}

// AddNode registers a node.
func (f *FakeDrive) AddNode(n api.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodes[n.NodeID] = n
}

// SeedRevision stores chunks as the active revision of nodeID. sign, when
// non-nil, receives the manifest (block digests in order) and returns the
// signature and signer key id.
func (f *FakeDrive) SeedRevision(
	nodeID string, chunks [][]byte, mtime time.Time, sign func(manifest []byte) ([]byte, string),
) api.Revision {
	f.mu.Lock()
	defer f.mu.Unlock()

	rev := api.Revision{
		RevisionID:       f.id("rev"),
		NodeID:           nodeID,
		State:            api.RevisionActive,
		ModificationTime: mtime,
	}

	var manifest bytes.Buffer

	for i, chunk := range chunks {
		id := f.id("blk")
		f.blocks[id] = slices.Clone(chunk)
		hash := Digest(chunk)
		manifest.Write(hash)

		rev.Blocks = append(rev.Blocks, api.Block{Index: i + 1, BlockID: id, Size: int64(len(chunk)), Hash: hash})
		rev.Size += int64(len(chunk))
	}

	if sign != nil {
		rev.ManifestSignature, rev.SignatureEmail = sign(manifest.Bytes())
	}

	f.revs[rev.RevisionID] = rev

	n := f.nodes[nodeID]
	n.NodeID = nodeID
	n.ActiveRevisionID = rev.RevisionID
	n.Size = rev.Size
	f.nodes[nodeID] = n

	return rev
}

// Digest is the digest the fake expects for stored block bytes.
func Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// FailOn makes every later call to method fail with err. A nil err clears it.
func (f *FakeDrive) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.errs, method)
		return
	}

	f.errs[method] = err
}

// --- Inspection ---

// Calls returns how often method was called.
func (f *FakeDrive) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[method]
}

// Node returns the stored node.
func (f *FakeDrive) Node(nodeID string) (api.Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[nodeID]

	return n, ok
}

// Revision returns the stored revision.
func (f *FakeDrive) Revision(revisionID string) (api.Revision, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.revs[revisionID]

	return r, ok
}

// Content reassembles the stored bytes of a revision.
func (f *FakeDrive) Content(revisionID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf bytes.Buffer
	for _, b := range f.revs[revisionID].Blocks {
		buf.Write(f.blocks[b.BlockID])
	}

	return buf.Bytes()
}

// DeletedRevisions lists revisions removed through DeleteRevision.
func (f *FakeDrive) DeletedRevisions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.deleted)
}

// Commits lists the commit requests received.
func (f *FakeDrive) Commits() []api.CommitRevisionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.commits)
}

// Metrics lists the metrics received through SendMetrics.
func (f *FakeDrive) Metrics() []api.Metric {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.metrics)
}

// --- Service ---

// hit counts a call and returns the injected error, if any. Callers hold mu.
func (f *FakeDrive) hit(ctx context.Context, method string) error {
	f.calls[method]++

	if err := ctx.Err(); err != nil {
		return err
	}

	return f.errs[method]
}

func (f *FakeDrive) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func notFound(what, id string) error {
	return fmt.Errorf("fake: %s %s: %w", what, id, sdkerr.ErrNotFound)
}

// ListVolumes returns the seeded volumes.
func (f *FakeDrive) ListVolumes(ctx context.Context) ([]api.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "ListVolumes"); err != nil {
		return nil, err
	}

	return slices.Clone(f.volumes), nil
}

// GetShare returns a seeded share.
func (f *FakeDrive) GetShare(ctx context.Context, shareID string) (*api.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "GetShare"); err != nil {
		return nil, err
	}

	s, ok := f.shares[shareID]
	if !ok {
		return nil, notFound("share", shareID)
	}

	return &s, nil
}

// GetNode returns a node.
func (f *FakeDrive) GetNode(ctx context.Context, _ string, nodeID string) (*api.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "GetNode"); err != nil {
		return nil, err
	}

	n, ok := f.nodes[nodeID]
	if !ok {
		return nil, notFound("node", nodeID)
	}

	return &n, nil
}

// CreateFile creates a node with an empty draft revision.
func (f *FakeDrive) CreateFile(ctx context.Context, _ string, req api.CreateFileRequest) (*api.FileCreated, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "CreateFile"); err != nil {
		return nil, err
	}

	for _, n := range f.nodes {
		if n.ParentNodeID == req.ParentNodeID && n.NameHash == req.NameHash {
			return nil, fmt.Errorf("fake: name exists under %s: %w", req.ParentNodeID, sdkerr.ErrArgument)
		}
	}

	node := api.Node{
		NodeID:       f.id("node"),
		ParentNodeID: req.ParentNodeID,
		Name:         req.Name,
		NameHash:     req.NameHash,
		MediaType:    req.MediaType,
	}
	rev := api.Revision{RevisionID: f.id("rev"), NodeID: node.NodeID, State: api.RevisionDraft}

	f.nodes[node.NodeID] = node
	f.revs[rev.RevisionID] = rev

	return &api.FileCreated{NodeID: node.NodeID, RevisionID: rev.RevisionID}, nil
}

// CreateRevision adds a draft revision to an existing node.
func (f *FakeDrive) CreateRevision(ctx context.Context, _ string, nodeID string) (*api.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "CreateRevision"); err != nil {
		return nil, err
	}

	if _, ok := f.nodes[nodeID]; !ok {
		return nil, notFound("node", nodeID)
	}

	rev := api.Revision{RevisionID: f.id("rev"), NodeID: nodeID, State: api.RevisionDraft}
	f.revs[rev.RevisionID] = rev

	return &rev, nil
}

// GetRevision returns a revision of nodeID.
func (f *FakeDrive) GetRevision(ctx context.Context, _ string, nodeID, revisionID string) (*api.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "GetRevision"); err != nil {
		return nil, err
	}

	r, ok := f.revs[revisionID]
	if !ok || r.NodeID != nodeID {
		return nil, notFound("revision", revisionID)
	}

	r.Blocks = slices.Clone(r.Blocks)

	return &r, nil
}

// CommitRevision activates a draft whose blocks have all been uploaded.
func (f *FakeDrive) CommitRevision(
	ctx context.Context, _ string, nodeID, revisionID string, req api.CommitRevisionRequest,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "CommitRevision"); err != nil {
		return err
	}

	r, ok := f.revs[revisionID]
	if !ok || r.NodeID != nodeID {
		return notFound("revision", revisionID)
	}

	if r.State != api.RevisionDraft {
		return fmt.Errorf("fake: revision %s is not a draft: %w", revisionID, sdkerr.ErrArgument)
	}

	for _, b := range req.Blocks {
		if _, ok := f.blocks[b.BlockID]; !ok {
			return fmt.Errorf("fake: block %s was never uploaded: %w", b.BlockID, sdkerr.ErrArgument)
		}
	}

	r.State = api.RevisionActive
	r.Size = req.Size
	r.ModificationTime = req.ModificationTime
	r.Blocks = slices.Clone(req.Blocks)
	r.ManifestSignature = slices.Clone(req.ManifestSignature)
	r.SignatureEmail = req.SignatureEmail
	f.revs[revisionID] = r
	f.commits = append(f.commits, req)

	n := f.nodes[nodeID]
	n.ActiveRevisionID = revisionID
	n.Size = req.Size
	n.ModificationTime = req.ModificationTime
	f.nodes[nodeID] = n

	return nil
}

// DeleteRevision removes a revision.
func (f *FakeDrive) DeleteRevision(ctx context.Context, _ string, _ string, revisionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "DeleteRevision"); err != nil {
		return err
	}

	if _, ok := f.revs[revisionID]; !ok {
		return notFound("revision", revisionID)
	}

	delete(f.revs, revisionID)
	f.deleted = append(f.deleted, revisionID)

	return nil
}

// RequestBlockUpload hands out one block id per requested block.
func (f *FakeDrive) RequestBlockUpload(ctx context.Context, req api.BlockUploadRequest) ([]api.BlockUploadTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "RequestBlockUpload"); err != nil {
		return nil, err
	}

	if r, ok := f.revs[req.RevisionID]; !ok || r.State != api.RevisionDraft {
		return nil, fmt.Errorf("fake: revision %s is not an open draft: %w", req.RevisionID, sdkerr.ErrArgument)
	}

	targets := make([]api.BlockUploadTarget, 0, len(req.Blocks))
	for _, b := range req.Blocks {
		id := f.id("blk")
		f.pending[id] = true
		targets = append(targets, api.BlockUploadTarget{Index: b.Index, BlockID: id})
	}

	return targets, nil
}

// UploadBlock stores a requested block.
func (f *FakeDrive) UploadBlock(ctx context.Context, blockID string, data []byte) error {
	if hook := f.OnUploadBlock; hook != nil {
		if err := hook(ctx, blockID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "UploadBlock"); err != nil {
		return err
	}

	if !f.pending[blockID] {
		return notFound("block upload slot", blockID)
	}

	delete(f.pending, blockID)
	f.blocks[blockID] = slices.Clone(data)

	return nil
}

// DownloadBlock returns a stored block.
func (f *FakeDrive) DownloadBlock(ctx context.Context, blockID string) ([]byte, error) {
	if hook := f.OnDownloadBlock; hook != nil {
		if err := hook(ctx, blockID); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "DownloadBlock"); err != nil {
		return nil, err
	}

	data, ok := f.blocks[blockID]
	if !ok {
		return nil, notFound("block", blockID)
	}

	return slices.Clone(data), nil
}

// CorruptBlock overwrites the stored bytes of a block without touching its
// recorded digest.
func (f *FakeDrive) CorruptBlock(blockID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blocks[blockID] = slices.Clone(data)
}

// SendMetrics records a metrics batch.
func (f *FakeDrive) SendMetrics(ctx context.Context, metrics []api.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.hit(ctx, "SendMetrics"); err != nil {
		return err
	}

	f.metrics = append(f.metrics, metrics...)

	return nil
}
