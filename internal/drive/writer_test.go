package drive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/logging"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/testutil"
)

// newDraft creates a file node with an open draft and returns a writer on it.
func newDraft(t *testing.T, c *Client) *RevisionWriter {
	t.Helper()

	file, err := c.CreateFile(t.Context(), CreateFileRequest{
		ShareID: testShare, VolumeID: testVolume, ParentNodeID: testRoot, Name: "draft.bin",
	})
	require.NoError(t, err)

	w, err := c.OpenRevisionForWriting(t.Context(), RevisionRef{
		ShareID: testShare, VolumeID: testVolume, NodeID: file.NodeID, RevisionID: file.RevisionID,
	})
	require.NoError(t, err)

	return w
}

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	return path
}

// --- Write ---

func TestWriteFromPath_RoundTrip(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	content := tenChunks()
	path := writeTemp(t, content)
	mtime := time.Date(2023, 7, 4, 9, 30, 15, 500, time.FixedZone("x", 3600))

	var progress progressLog

	res, err := w.WriteFromPath(t.Context(), path, mtime, progress.record)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), res.Size)
	assert.True(t, res.ModificationTime.Equal(mtime.Truncate(time.Second)))
	assert.Equal(t, time.UTC, res.ModificationTime.Location())

	events := progress.all()
	require.Len(t, events, 10)
	assert.EqualValues(t, len(content), events[9].Completed)

	assert.Equal(t, content, fake.Content(res.RevisionID))

	commits := fake.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, testSigner, commits[0].SignatureEmail)
	assert.Len(t, commits[0].Blocks, 10)

	// Reading back verifies the manifest signature.
	var sink bufferSink

	read, err := openReader(t, c, w.Ref().NodeID, "").Read(t.Context(), &sink, nil)
	require.NoError(t, err)
	assert.Equal(t, VerificationOk, read.Verification)
	assert.Equal(t, content, sink.buf.Bytes())
}

func TestWriteFromPath_DefaultsToFileMtime(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	path := writeTemp(t, []byte("x"))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	res, err := w.WriteFromPath(t.Context(), path, time.Time{}, nil)
	require.NoError(t, err)
	assert.True(t, res.ModificationTime.Equal(mtime))
}

func TestWrite_EmptyContent(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	res, err := w.Write(t.Context(), bytes.NewReader(nil), 0, time.Now(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Size)

	rev, ok := fake.Revision(res.RevisionID)
	require.True(t, ok)
	assert.Equal(t, api.RevisionActive, rev.State)
	assert.Empty(t, rev.Blocks)
}

func TestWrite_SingleUse(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	_, err := w.Write(t.Context(), bytes.NewReader([]byte("a")), 1, time.Now(), nil)
	require.NoError(t, err)

	_, err = w.Write(t.Context(), bytes.NewReader([]byte("b")), 1, time.Now(), nil)
	assert.ErrorIs(t, err, sdkerr.ErrInvalidState)
}

func TestWrite_ShortSource(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	_, err := w.Write(t.Context(), bytes.NewReader([]byte("short")), 100, time.Now(), nil)
	require.Error(t, err)
	assert.Equal(t, []string{w.Ref().RevisionID}, fake.DeletedRevisions())
}

func TestWrite_InvalidArguments(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	_, err := w.Write(t.Context(), nil, 1, time.Now(), nil)
	assert.ErrorIs(t, err, sdkerr.ErrArgument)

	_, err = w.Write(t.Context(), bytes.NewReader(nil), -1, time.Now(), nil)
	assert.ErrorIs(t, err, sdkerr.ErrArgument)

	_, err = w.WriteFromPath(t.Context(), "", time.Time{}, nil)
	assert.ErrorIs(t, err, sdkerr.ErrArgument)

	_, err = w.WriteFromPath(t.Context(), t.TempDir(), time.Time{}, nil)
	assert.ErrorIs(t, err, sdkerr.ErrArgument)

	_, err = w.WriteFromPath(t.Context(), filepath.Join(t.TempDir(), "missing"), time.Time{}, nil)
	assert.Error(t, err)

	assert.Empty(t, fake.DeletedRevisions(), "argument errors never touch the draft")

	// The writer is still usable after a source it could not open.
	path := filepath.Join(t.TempDir(), "later.txt")
	require.NoError(t, os.WriteFile(path, []byte("later"), 0o600))

	res, err := w.WriteFromPath(t.Context(), path, time.Time{}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Size)
}

func TestAbandon_DeletesUnusedDraftOnce(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	_, err := w.WriteFromPath(t.Context(), filepath.Join(t.TempDir(), "missing"), time.Time{}, nil)
	require.Error(t, err)

	w.abandon(t.Context(), err)
	w.abandon(t.Context(), err)
	assert.Equal(t, []string{w.Ref().RevisionID}, fake.DeletedRevisions())

	_, err = w.Write(t.Context(), bytes.NewReader([]byte("a")), 1, time.Now(), nil)
	assert.ErrorIs(t, err, sdkerr.ErrInvalidState, "an abandoned writer is spent")
}

func TestAbandon_AfterFailedWriteIsNoop(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	_, err := w.Write(t.Context(), bytes.NewReader([]byte("short")), 100, time.Now(), nil)
	require.Error(t, err)

	w.abandon(t.Context(), err)
	assert.Len(t, fake.DeletedRevisions(), 1, "the failed write already discarded the draft")
}

// --- Cleanup on failure ---

func TestWrite_UploadFailureDeletesDraft(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	fake.FailOn("UploadBlock", sdkerr.Errorf(sdkerr.KindTransientIO, "connection reset"))

	_, err := w.Write(t.Context(), bytes.NewReader(tenChunks()), 10*testBlockSize, time.Now(), nil)
	require.ErrorIs(t, err, sdkerr.ErrTransientIO)

	assert.Equal(t, []string{w.Ref().RevisionID}, fake.DeletedRevisions())
	assert.Zero(t, fake.Calls("CommitRevision"))
}

func TestWrite_CancelMidwayDeletesDraft(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	uploads := 0
	fake.OnUploadBlock = func(context.Context, string) error {
		uploads++
		if uploads == 3 {
			cancel()
		}

		return nil
	}

	var progress progressLog

	_, err := w.Write(ctx, bytes.NewReader(tenChunks()), 10*testBlockSize, time.Now(), progress.record)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{w.Ref().RevisionID}, fake.DeletedRevisions(), "draft deleted despite cancelled ctx")
	assert.Zero(t, fake.Calls("CommitRevision"))
	assert.LessOrEqual(t, len(progress.all()), 3)
}

func TestWrite_NoSigningKey(t *testing.T) {
	fake := testutil.NewFakeDrive()
	sess := testSession(t)

	c, err := NewClient(sess, fake, PlainCipher{}, Options{BlockSize: testBlockSize, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, c.RegisterShareKey(testShare, testShareKey))

	w := newDraft(t, c)

	_, err = w.Write(t.Context(), bytes.NewReader([]byte("x")), 1, time.Now(), nil)
	require.ErrorIs(t, err, sdkerr.ErrInvalidState)
	assert.Len(t, fake.DeletedRevisions(), 1)
}

func TestWrite_SessionEndedMidway(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, sess := newTestClient(t, fake, Options{})
	w := newDraft(t, c)

	fake.OnUploadBlock = func(context.Context, string) error {
		return sess.End(context.Background())
	}

	_, err := w.Write(t.Context(), bytes.NewReader(tenChunks()), 10*testBlockSize, time.Now(), nil)
	require.ErrorIs(t, err, sdkerr.ErrInvalidState)
	assert.Equal(t, 1, fake.Calls("UploadBlock"))
}

// --- Open for writing ---

func TestOpenRevisionForWriting_CreatesDraft(t *testing.T) {
	fake := testutil.NewFakeDrive()
	c, _ := newTestClient(t, fake, Options{})

	first := seedFile(fake, "n1", []byte("v1"))

	w, err := c.OpenRevisionForWriting(t.Context(), RevisionRef{ShareID: testShare, VolumeID: testVolume, NodeID: "n1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RevisionID, w.Ref().RevisionID)
	assert.Equal(t, 1, fake.Calls("CreateRevision"))

	res, err := w.Write(t.Context(), bytes.NewReader([]byte("v2")), 2, time.Now(), nil)
	require.NoError(t, err)

	node, _ := fake.Node("n1")
	assert.Equal(t, res.RevisionID, node.ActiveRevisionID)

	_, err = c.OpenRevisionForWriting(t.Context(), RevisionRef{ShareID: testShare, VolumeID: testVolume, NodeID: "missing"})
	assert.ErrorIs(t, err, sdkerr.ErrNotFound)
}
