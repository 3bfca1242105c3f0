package drive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// RevisionRef identifies a revision of a file. An empty RevisionID selects
// the node's active revision when reading, or a new draft when writing.
type RevisionRef struct {
	ShareID    string `json:"share_id"`
	VolumeID   string `json:"volume_id"`
	NodeID     string `json:"node_id"`
	RevisionID string `json:"revision_id,omitempty"`
}

func (r RevisionRef) node() NodeRef {
	return NodeRef{VolumeID: r.VolumeID, NodeID: r.NodeID}
}

func (r RevisionRef) validate() error {
	if r.ShareID == "" || r.VolumeID == "" || r.NodeID == "" {
		return fmt.Errorf("drive: revision reference needs share, volume and node ids: %w", sdkerr.ErrArgument)
	}

	return nil
}

// Sink is a caller-supplied destination for revision content. The reader
// never issues overlapping writes; a Write error fails the read.
type Sink interface {
	Write(ctx context.Context, p []byte) error
}

// ReadResult summarizes a completed read.
type ReadResult struct {
	Size         int64              `json:"size"`
	Verification VerificationStatus `json:"verification_status"`
}

// RevisionReader is the resource behind a revision reader handle. It is
// bound to one client and one revision. Reads on one reader do not overlap.
type RevisionReader struct {
	client     *Client
	ref        RevisionRef
	revision   *api.Revision
	contentKey []byte
	logger     *slog.Logger

	busy   atomic.Bool
	closed atomic.Bool
}

// OpenRevisionForReading fetches a revision's block list. An empty
// RevisionID opens the node's active revision.
func (c *Client) OpenRevisionForReading(ctx context.Context, ref RevisionRef) (*RevisionReader, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}

	if err := c.begin(ctx, "opening revision"); err != nil {
		return nil, err
	}

	key, err := c.secrets.contentKey(ref.ShareID, ref.node())
	if err != nil {
		return nil, err
	}

	if ref.RevisionID == "" {
		node, err := c.svc.GetNode(ctx, ref.ShareID, ref.NodeID)
		if err != nil {
			return nil, fmt.Errorf("drive: getting node %s: %w", ref.NodeID, err)
		}

		if node.ActiveRevisionID == "" {
			return nil, fmt.Errorf("drive: node %s has no active revision: %w", ref.NodeID, sdkerr.ErrNotFound)
		}

		ref.RevisionID = node.ActiveRevisionID
	}

	rev, err := c.svc.GetRevision(ctx, ref.ShareID, ref.NodeID, ref.RevisionID)
	if err != nil {
		return nil, fmt.Errorf("drive: getting revision %s: %w", ref.RevisionID, err)
	}

	if rev.State == api.RevisionDraft {
		return nil, fmt.Errorf("drive: revision %s is a draft: %w", ref.RevisionID, sdkerr.ErrInvalidState)
	}

	rev.Blocks = slices.Clone(rev.Blocks)
	slices.SortFunc(rev.Blocks, func(a, b api.Block) int { return a.Index - b.Index })

	return &RevisionReader{
		client:     c,
		ref:        ref,
		revision:   rev,
		contentKey: key,
		logger: c.logger.With(
			slog.String("node_id", ref.NodeID),
			slog.String("revision_id", ref.RevisionID),
		),
	}, nil
}

// Revision returns the revision metadata the reader was opened on.
func (r *RevisionReader) Revision() api.Revision {
	return *r.revision
}

func (r *RevisionReader) totalSize() int64 {
	if r.revision.Size > 0 {
		return r.revision.Size
	}

	var total int64
	for _, b := range r.revision.Blocks {
		total += b.Size
	}

	return total
}

// Read streams the revision into sink block by block, reporting progress
// after each block. Blocks are prefetched in bounded windows; sink writes
// happen in order from a single goroutine.
func (r *RevisionReader) Read(ctx context.Context, sink Sink, progress dispatch.ProgressFunc) (ReadResult, error) {
	if sink == nil {
		return ReadResult{}, fmt.Errorf("drive: nil sink: %w", sdkerr.ErrArgument)
	}

	if r.closed.Load() {
		return ReadResult{}, fmt.Errorf("drive: reader is closed: %w", sdkerr.ErrInvalidState)
	}

	if !r.busy.CompareAndSwap(false, true) {
		return ReadResult{}, fmt.Errorf("drive: a read is already in progress: %w", sdkerr.ErrInvalidState)
	}
	defer r.busy.Store(false)

	sink = &serialSink{sink: sink}

	blocks := r.revision.Blocks
	total := r.totalSize()
	window := max(r.client.readWindow, 1)

	var done int64

	for start := 0; start < len(blocks); start += window {
		if err := r.client.begin(ctx, "reading revision"); err != nil {
			return ReadResult{Size: done}, err
		}

		batch := blocks[start:min(start+window, len(blocks))]

		plain, err := r.fetch(ctx, batch)
		if err != nil {
			return ReadResult{Size: done}, err
		}

		for i, data := range plain {
			if err := ctx.Err(); err != nil {
				return ReadResult{Size: done}, fmt.Errorf("drive: reading revision: %w", err)
			}

			if err := r.client.limiter.Wait(ctx, len(data)); err != nil {
				return ReadResult{Size: done}, fmt.Errorf("drive: reading revision: %w", err)
			}

			if err := sink.Write(ctx, data); err != nil {
				return ReadResult{Size: done}, fmt.Errorf("drive: writing block %d: %w", batch[i].Index, err)
			}

			done += int64(len(data))

			if progress != nil {
				progress(dispatch.Progress{Completed: done, Total: max(total, done)})
			}
		}
	}

	status := r.verify()
	if status == VerificationFailed {
		return ReadResult{Size: done, Verification: status},
			fmt.Errorf("drive: manifest signature of revision %s does not verify: %w", r.ref.RevisionID, sdkerr.ErrIntegrity)
	}

	r.logger.Debug("revision read",
		slog.Int64("bytes", done),
		slog.Int("blocks", len(blocks)),
		slog.String("verification", status.String()),
	)

	return ReadResult{Size: done, Verification: status}, nil
}

// fetch downloads, checks and decrypts a batch of blocks concurrently.
func (r *RevisionReader) fetch(ctx context.Context, batch []api.Block) ([][]byte, error) {
	out := make([][]byte, len(batch))
	g, gctx := errgroup.WithContext(ctx)

	for i, b := range batch {
		g.Go(func() error {
			data, err := r.client.svc.DownloadBlock(gctx, b.BlockID)
			if err != nil {
				return fmt.Errorf("drive: downloading block %d: %w", b.Index, err)
			}

			if len(b.Hash) > 0 && !bytes.Equal(r.client.cipher.Digest(data), b.Hash) {
				return fmt.Errorf("drive: block %d hash mismatch: %w", b.Index, sdkerr.ErrIntegrity)
			}

			plain, err := r.client.cipher.DecryptBlock(data, r.contentKey)
			if err != nil {
				return fmt.Errorf("drive: decrypting block %d: %w", b.Index, err)
			}

			out[i] = plain

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// A cancelled parent surfaces as cancellation, not as whichever block
		// happened to fail first.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("drive: reading revision: %w", ctxErr)
		}

		return nil, err
	}

	return out, nil
}

// verify checks the manifest signature against the signer's key as currently
// registered on the session.
func (r *RevisionReader) verify() VerificationStatus {
	var key []byte

	if signer := r.revision.SignatureEmail; signer != "" {
		if k, ok := r.client.session.Keys().Get(signer); ok {
			key = k.Data
		}
	}

	return r.client.cipher.VerifyManifest(manifestOf(r.revision.Blocks), r.revision.ManifestSignature, key)
}

// manifestOf is the signed summary of a revision: its block hashes in order.
func manifestOf(blocks []api.Block) []byte {
	var buf bytes.Buffer
	for _, b := range blocks {
		buf.Write(b.Hash)
	}

	return buf.Bytes()
}

// ReadToPath writes the revision to path via path.partial, then applies the
// revision's modification time and renames into place. On failure the
// partial file is closed and removed before returning.
func (r *RevisionReader) ReadToPath(ctx context.Context, path string, progress dispatch.ProgressFunc) (ReadResult, error) {
	if path == "" {
		return ReadResult{}, fmt.Errorf("drive: empty target path: %w", sdkerr.ErrArgument)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return ReadResult{}, fmt.Errorf("drive: creating parent dir for %s: %w", path, err)
	}

	partial := path + ".partial"

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:mnd // owner-only file perms
	if err != nil {
		return ReadResult{}, fmt.Errorf("drive: creating %s: %w", partial, err)
	}

	discard := func() {
		f.Close()
		os.Remove(partial)
	}

	res, err := r.Read(ctx, fileSink{f: f}, progress)
	if err != nil {
		discard()
		return res, err
	}

	if err := f.Sync(); err != nil {
		discard()
		return res, fmt.Errorf("drive: syncing %s: %w", partial, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(partial)
		return res, fmt.Errorf("drive: closing %s: %w", partial, err)
	}

	if mtime := r.revision.ModificationTime; !mtime.IsZero() {
		if err := os.Chtimes(partial, mtime, mtime); err != nil {
			r.logger.Warn("failed to set mtime on partial",
				slog.String("target", path),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return res, fmt.Errorf("drive: renaming partial to %s: %w", path, err)
	}

	return res, nil
}

// Close marks the reader unusable. It is called when its handle is freed.
func (r *RevisionReader) Close() error {
	r.closed.Store(true)
	return nil
}

// serialSink guarantees one outstanding write at a time even if a caller
// shares the sink between readers.
type serialSink struct {
	mu   sync.Mutex
	sink Sink
}

func (s *serialSink) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sink.Write(ctx, p)
}

type fileSink struct {
	f *os.File
}

func (s fileSink) Write(_ context.Context, p []byte) error {
	_, err := s.f.Write(p)
	return err
}
