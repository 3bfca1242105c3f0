package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivesdk-go/internal/cancel"
	"github.com/tonimelisma/drivesdk-go/internal/config"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/logging"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
	"github.com/tonimelisma/drivesdk-go/internal/testutil"
)

// --- Fixtures ---

const (
	testBlockSize = 16
	testShare     = "share-1"
	testVolume    = "vol-1"
	testRoot      = "root"
	testSigner    = "key-1"
	callbackWait  = 5 * time.Second
)

var (
	testShareKey   = []byte("share-key")
	testSigningKey = []byte("signing-key")
)

// fakeAuth is an in-memory authenticator.
type fakeAuth struct {
	mu          sync.Mutex
	authErr     error
	revokeCalls int
}

func (f *fakeAuth) Authenticate(_ context.Context, creds session.Credentials) (session.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authErr != nil {
		return session.Grant{}, f.authErr
	}

	return session.Grant{
		Info: session.Info{
			ID:       "sess-" + creds.Username,
			UserID:   "user-1",
			Scopes:   []string{"full", "drive"},
			Username: creds.Username,
		},
		Tokens: session.Tokens{AccessToken: "access", RefreshToken: "refresh"},
	}, nil
}

func (f *fakeAuth) Revoke(context.Context, string, session.Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.revokeCalls++

	return nil
}

func (f *fakeAuth) TokenSource(_ string, tokens session.Tokens, _ func(session.Tokens)) session.TokenSource {
	return staticSource(tokens.AccessToken)
}

func (f *fakeAuth) revokes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.revokeCalls
}

type staticSource string

func (s staticSource) Token() (string, error) { return string(s), nil }

// fakeBackend serves every session from one fake drive.
type fakeBackend struct {
	auth  *fakeAuth
	drive *testutil.FakeDrive
}

func (b *fakeBackend) Authenticator() session.Authenticator { return b.auth }

func (b *fakeBackend) Service(*session.Session) drive.Service { return b.drive }

func newTestRuntime(t *testing.T) (*Runtime, *fakeBackend) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Transfers.BlockSize = fmt.Sprint(testBlockSize)
	cfg.Runtime.Workers = 4
	cfg.Observability.DBPath = ""

	backend := &fakeBackend{auth: &fakeAuth{}, drive: testutil.NewFakeDrive()}

	rt, err := New(Options{Config: cfg, Backend: backend, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	return rt, backend
}

// recorder captures the callbacks of one asynchronous operation.
type recorder struct {
	mu           sync.Mutex
	progress     []dispatch.Progress
	lateProgress bool
	success      []byte
	failure      *sdkerr.Record
	terminal     int
	done         chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (rc *recorder) callback(token cancel.Token) Callback {
	return Callback{
		OnSuccess: func(payload []byte) { rc.finish(payload, nil) },
		OnFailure: func(record []byte) {
			var rec sdkerr.Record
			if err := json.Unmarshal(record, &rec); err != nil {
				rec.Message = "undecodable record: " + string(record)
			}

			rc.finish(nil, &rec)
		},
		OnProgress: func(payload []byte) {
			var p dispatch.Progress
			_ = json.Unmarshal(payload, &p)

			rc.mu.Lock()
			defer rc.mu.Unlock()

			if rc.terminal > 0 {
				rc.lateProgress = true
			}

			rc.progress = append(rc.progress, p)
		},
		Cancellation: token,
	}
}

func (rc *recorder) finish(payload []byte, rec *sdkerr.Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.terminal++
	if rc.terminal > 1 {
		return
	}

	rc.success, rc.failure = payload, rec
	close(rc.done)
}

func (rc *recorder) wait(t *testing.T) {
	t.Helper()

	select {
	case <-rc.done:
	case <-time.After(callbackWait):
		t.Fatal("no terminal callback")
	}
}

// succeeded waits and decodes the success payload into v.
func (rc *recorder) succeeded(t *testing.T, v any) {
	t.Helper()

	rc.wait(t)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	require.Nil(t, rc.failure, "unexpected failure: %+v", rc.failure)

	if v != nil {
		require.NoError(t, json.Unmarshal(rc.success, v))
	}
}

// failed waits and returns the failure record.
func (rc *recorder) failed(t *testing.T) sdkerr.Record {
	t.Helper()

	rc.wait(t)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	require.NotNil(t, rc.failure, "expected failure, got %s", rc.success)

	return *rc.failure
}

func (rc *recorder) handle(t *testing.T) handle.Handle {
	t.Helper()

	var res handleResult
	rc.succeeded(t, &res)
	require.NotZero(t, res.Handle)

	return res.Handle
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

// beginSession opens a session holding the signing key.
func beginSession(t *testing.T, rt *Runtime) handle.Handle {
	t.Helper()

	rc := newRecorder()
	require.NoError(t, rt.SessionBegin(mustJSON(t, beginRequest{Username: "alice", Password: "pw"}), SessionOptions{}, rc.callback(cancel.None)))

	h := rc.handle(t)
	require.NoError(t, rt.SessionAddUserKey(h, mustJSON(t, userKeyRequest{KeyID: testSigner, Key: testSigningKey})))

	return h
}

// newClient creates a drive client with the share key registered.
func newClient(t *testing.T, rt *Runtime, sess handle.Handle, request []byte) handle.Handle {
	t.Helper()

	h, err := rt.DriveClientCreate(sess, request)
	require.NoError(t, err)
	require.NoError(t, rt.DriveClientRegisterShareKey(h, mustJSON(t, shareKeyRequest{ShareID: testShare, Key: testShareKey})))

	return h
}

// --- StatusOf ---

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusOK},
		{"argument", sdkerr.ErrArgument, StatusInvalidArgument},
		{"unknown handle", fmt.Errorf("x: %w", sdkerr.ErrHandleNotFound), StatusNotFound},
		{"invalid state", sdkerr.ErrInvalidState, StatusInvalidState},
		{"type mismatch", sdkerr.ErrHandleTypeMismatch, StatusTypeMismatch},
		{"other", errors.New("boom"), StatusFailure},
		{"not found on service", sdkerr.ErrNotFound, StatusFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusOf(tc.err))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, sdkerr.ErrArgument)

	cfg := config.DefaultConfig()
	cfg.Transfers.BlockSize = "lots"

	_, err = New(Options{Config: cfg, Backend: &fakeBackend{}})
	assert.ErrorIs(t, err, sdkerr.ErrArgument)
}

// --- Handles ---

func TestHandles_FreeAndReuse(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	assert.Equal(t, StatusTypeMismatch, StatusOf(rt.DriveClientFree(sess)), "wrong kind leaves the handle alone")
	require.NoError(t, rt.SessionFree(sess))
	assert.Equal(t, StatusNotFound, StatusOf(rt.SessionFree(sess)), "double free")

	_, err := rt.SessionExport(sess)
	assert.Equal(t, StatusNotFound, StatusOf(err), "freed handle never resolves again")

	again := beginSession(t, rt)
	assert.NotEqual(t, sess, again)

	_, err = rt.SessionExport(sess)
	assert.Equal(t, StatusNotFound, StatusOf(err), "stale handle stays invalid after slot reuse")
}

func TestHandles_AsyncErrorsAreSynchronous(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	rc := newRecorder()
	assert.Equal(t, StatusNotFound, StatusOf(rt.SessionEnd(handle.Handle(999), rc.callback(cancel.None))))
	assert.Equal(t, StatusTypeMismatch, StatusOf(rt.DownloaderCreate(sess, rc.callback(cancel.None))))
	assert.Equal(t, StatusNotFound, StatusOf(rt.SessionEnd(sess, rc.callback(cancel.Token(12345)))), "unknown token")
	assert.Equal(t, StatusInvalidArgument, StatusOf(rt.SessionEnd(sess, Callback{})), "missing callbacks")

	rc.mu.Lock()
	assert.Zero(t, rc.terminal, "no callback for a rejected call")
	rc.mu.Unlock()

	// Every rejected call released its pin, so free reclaims immediately.
	require.NoError(t, rt.SessionFree(sess))
	assert.Zero(t, rt.handles.Len())
}

func TestPayloads_Malformed(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)
	client := newClient(t, rt, sess, nil)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"invalid JSON", []byte("{")},
		{"invalid UTF-8", []byte{'{', '"', 0xff, '"', ':', '1', '}'}},
		{"unknown field", []byte(`{"share_id":"s","bogus":1}`)},
		{"trailing data", []byte(`{"share_id":"s"}{}`)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rc := newRecorder()
			assert.Equal(t, StatusInvalidArgument, StatusOf(rt.DriveClientGetShare(client, tc.payload, rc.callback(cancel.None))))
		})
	}

	require.NoError(t, rt.DriveClientFree(client))
	require.NoError(t, rt.SessionFree(sess))
	assert.Zero(t, rt.handles.Len(), "rejected calls released their pins")
}

// --- Cancellation ---

func TestCancellationTokenSource(t *testing.T) {
	rt, _ := newTestRuntime(t)

	tok := rt.CancellationTokenSourceCreate()
	require.NoError(t, rt.CancellationTokenSourceCancel(tok))
	require.NoError(t, rt.CancellationTokenSourceCancel(tok), "cancel is idempotent")
	require.NoError(t, rt.CancellationTokenSourceFree(tok))

	assert.Equal(t, StatusNotFound, StatusOf(rt.CancellationTokenSourceCancel(tok)))
	assert.Equal(t, StatusNotFound, StatusOf(rt.CancellationTokenSourceFree(tok)))
}

func TestCancellation_HandleYieldingOperation(t *testing.T) {
	rt, backend := newTestRuntime(t)
	sess := beginSession(t, rt)
	client := newClient(t, rt, sess, nil)

	backend.drive.AddNode(nodeFixture("n1"))
	before := rt.handles.Len()

	tok := rt.CancellationTokenSourceCreate()
	require.NoError(t, rt.CancellationTokenSourceCancel(tok))

	rc := newRecorder()
	require.NoError(t, rt.DriveClientOpenRevisionForReading(client,
		mustJSON(t, drive.RevisionRef{ShareID: testShare, VolumeID: testVolume, NodeID: "n1"}), rc.callback(tok)))

	rec := rc.failed(t)
	assert.Equal(t, sdkerr.KindCancelled, rec.Code)
	assert.Equal(t, sdkerr.DomainCancellation, rec.Domain)
	assert.Equal(t, before, rt.handles.Len(), "no handle allocated for a cancelled open")

	require.NoError(t, rt.CancellationTokenSourceFree(tok))
}

// --- Logger provider ---

func TestLoggerProvider(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	var (
		mu     sync.Mutex
		events []logging.Event
	)

	provider, err := rt.LoggerProviderCreate(func(data []byte) {
		var ev logging.Event
		if json.Unmarshal(data, &ev) == nil {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}, "debug")
	require.NoError(t, err)

	client, err := rt.DriveClientCreate(sess, mustJSON(t, clientRequest{LoggerProvider: provider}))
	require.NoError(t, err)
	require.NoError(t, rt.DriveClientFree(client))

	mu.Lock()
	got := append([]logging.Event(nil), events...)
	mu.Unlock()

	require.NotEmpty(t, got)
	assert.Equal(t, "drive", got[0].Category)
	assert.Equal(t, logging.EventDebug, got[0].Level)

	require.NoError(t, rt.LoggerProviderFree(provider))

	_, err = rt.DriveClientCreate(sess, mustJSON(t, clientRequest{LoggerProvider: provider}))
	assert.Equal(t, StatusNotFound, StatusOf(err))

	_, err = rt.LoggerProviderCreate(nil, "")
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))
}

func TestClose_FailsLaterCalls(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	require.NoError(t, rt.Close())

	_, err := rt.SessionExport(sess)
	assert.Equal(t, StatusNotFound, StatusOf(err), "close reclaims every handle")

	rc := newRecorder()
	err = rt.SessionBegin(mustJSON(t, beginRequest{Username: "bob"}), SessionOptions{}, rc.callback(cancel.None))
	assert.Equal(t, StatusInvalidState, StatusOf(err))
}
