package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// discardTimeout bounds the best-effort draft deletion after a failed write.
const discardTimeout = 30 * time.Second

// Writer states.
const (
	writerOpen int32 = iota
	writerBusy
	writerDone
)

// WriteResult describes a committed revision.
type WriteResult struct {
	NodeID           string    `json:"node_id"`
	RevisionID       string    `json:"revision_id"`
	Size             int64     `json:"size"`
	ModificationTime time.Time `json:"modification_time"`
}

// RevisionWriter is the resource behind a revision writer handle. A writer
// commits at most one revision; after a write finishes, successfully or
// not, it is spent.
type RevisionWriter struct {
	client     *Client
	ref        RevisionRef
	contentKey []byte
	logger     *slog.Logger
	state      atomic.Int32
}

// OpenRevisionForWriting prepares a draft revision for upload. An empty
// RevisionID creates a new draft on the node.
func (c *Client) OpenRevisionForWriting(ctx context.Context, ref RevisionRef) (*RevisionWriter, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}

	if err := c.begin(ctx, "opening revision for writing"); err != nil {
		return nil, err
	}

	key, err := c.secrets.contentKey(ref.ShareID, ref.node())
	if err != nil {
		return nil, err
	}

	if ref.RevisionID == "" {
		rev, err := c.svc.CreateRevision(ctx, ref.ShareID, ref.NodeID)
		if err != nil {
			return nil, fmt.Errorf("drive: creating revision on %s: %w", ref.NodeID, err)
		}

		ref.RevisionID = rev.RevisionID
	}

	return &RevisionWriter{
		client:     c,
		ref:        ref,
		contentKey: key,
		logger: c.logger.With(
			slog.String("node_id", ref.NodeID),
			slog.String("revision_id", ref.RevisionID),
		),
	}, nil
}

// Ref returns the revision the writer targets.
func (w *RevisionWriter) Ref() RevisionRef {
	return w.ref
}

// WriteFromPath uploads the file at path as the revision content. A zero
// mtime selects the file's own modification time. The source file is closed
// before WriteFromPath returns.
func (w *RevisionWriter) WriteFromPath(
	ctx context.Context, path string, mtime time.Time, progress dispatch.ProgressFunc,
) (*WriteResult, error) {
	if path == "" {
		return nil, fmt.Errorf("drive: empty source path: %w", sdkerr.ErrArgument)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("drive: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("drive: stat %s: %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("drive: %s is a directory: %w", path, sdkerr.ErrArgument)
	}

	if mtime.IsZero() {
		mtime = info.ModTime()
	}

	return w.Write(ctx, f, info.Size(), mtime, progress)
}

// Write uploads size bytes from r in block-sized chunks, reporting progress
// after each block, then commits the revision. On any failure the draft is
// deleted before returning.
func (w *RevisionWriter) Write(
	ctx context.Context, r io.Reader, size int64, mtime time.Time, progress dispatch.ProgressFunc,
) (*WriteResult, error) {
	if r == nil || size < 0 {
		return nil, fmt.Errorf("drive: write needs a reader and a non-negative size: %w", sdkerr.ErrArgument)
	}

	if !w.state.CompareAndSwap(writerOpen, writerBusy) {
		return nil, fmt.Errorf("drive: revision writer already used: %w", sdkerr.ErrInvalidState)
	}
	defer w.state.Store(writerDone)

	res, err := w.write(ctx, r, size, mtime, progress)
	if err != nil {
		w.discardDraft(ctx, err)
		return nil, err
	}

	w.logger.Info("revision committed",
		slog.Int64("size", res.Size),
		slog.Time("mtime", res.ModificationTime),
	)

	return res, nil
}

func (w *RevisionWriter) write(
	ctx context.Context, r io.Reader, size int64, mtime time.Time, progress dispatch.ProgressFunc,
) (*WriteResult, error) {
	c := w.client

	signerID, signingKey, ok := c.signingKey()
	if !ok {
		return nil, fmt.Errorf("drive: no user key registered for signing: %w", sdkerr.ErrInvalidState)
	}

	src := io.LimitReader(r, size)
	buf := make([]byte, c.blockSize)

	var (
		blocks []api.Block
		done   int64
	)

	for index := 1; done < size; index++ {
		if err := c.begin(ctx, "writing revision"); err != nil {
			return nil, err
		}

		n, err := io.ReadFull(src, buf)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}

			return nil, fmt.Errorf("drive: reading source after %d of %d bytes: %w", done, size, err)
		}

		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("drive: reading source: %w", err)
		}

		if err := c.limiter.Wait(ctx, n); err != nil {
			return nil, fmt.Errorf("drive: throttling upload: %w", err)
		}

		block, err := w.uploadBlock(ctx, index, buf[:n])
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, block)
		done += int64(n)

		if progress != nil {
			progress(dispatch.Progress{Completed: done, Total: size})
		}
	}

	signature, err := c.cipher.SignManifest(manifestOf(blocks), signingKey)
	if err != nil {
		return nil, fmt.Errorf("drive: signing manifest: %w", err)
	}

	if err := c.begin(ctx, "committing revision"); err != nil {
		return nil, err
	}

	mtime = mtime.UTC().Truncate(time.Second)

	err = c.svc.CommitRevision(ctx, w.ref.ShareID, w.ref.NodeID, w.ref.RevisionID, api.CommitRevisionRequest{
		ManifestSignature: signature,
		SignatureEmail:    signerID,
		Size:              done,
		ModificationTime:  mtime,
		Blocks:            blocks,
	})
	if err != nil {
		return nil, fmt.Errorf("drive: committing revision %s: %w", w.ref.RevisionID, err)
	}

	return &WriteResult{
		NodeID:           w.ref.NodeID,
		RevisionID:       w.ref.RevisionID,
		Size:             done,
		ModificationTime: mtime,
	}, nil
}

// uploadBlock encrypts one chunk, reserves a block slot on the service and
// uploads the ciphertext.
func (w *RevisionWriter) uploadBlock(ctx context.Context, index int, plain []byte) (api.Block, error) {
	c := w.client

	data, err := c.cipher.EncryptBlock(plain, w.contentKey)
	if err != nil {
		return api.Block{}, fmt.Errorf("drive: encrypting block %d: %w", index, err)
	}

	block := api.Block{Index: index, Size: int64(len(data)), Hash: c.cipher.Digest(data)}

	targets, err := c.svc.RequestBlockUpload(ctx, api.BlockUploadRequest{
		ShareID:    w.ref.ShareID,
		NodeID:     w.ref.NodeID,
		RevisionID: w.ref.RevisionID,
		Blocks:     []api.Block{block},
	})
	if err != nil {
		return api.Block{}, fmt.Errorf("drive: requesting upload of block %d: %w", index, err)
	}

	block.BlockID = targets[0].BlockID

	if err := c.svc.UploadBlock(ctx, block.BlockID, data); err != nil {
		return api.Block{}, fmt.Errorf("drive: uploading block %d: %w", index, err)
	}

	return block, nil
}

// discardDraft deletes the draft revision after a failed write. It runs even
// when ctx is cancelled; its own failure is only logged.
func (w *RevisionWriter) discardDraft(ctx context.Context, cause error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	w.logger.Warn("revision write failed, deleting draft", slog.String("error", cause.Error()))

	if err := w.client.svc.DeleteRevision(dctx, w.ref.ShareID, w.ref.NodeID, w.ref.RevisionID); err != nil {
		w.logger.Warn("failed to delete draft revision", slog.String("error", err.Error()))
	}
}

// abandon deletes the draft of a writer that failed before any content was
// written, such as an unreadable source. A writer that did start writing
// has already discarded its draft.
func (w *RevisionWriter) abandon(ctx context.Context, cause error) {
	if w.state.CompareAndSwap(writerOpen, writerDone) {
		w.discardDraft(ctx, cause)
	}
}

// Close marks the writer spent. It is called when its handle is freed.
func (w *RevisionWriter) Close() error {
	w.state.Store(writerDone)
	return nil
}
