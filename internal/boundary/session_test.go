package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivesdk-go/internal/cancel"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

func TestSessionBegin_Failure(t *testing.T) {
	rt, backend := newTestRuntime(t)
	backend.auth.authErr = fmt.Errorf("bad password: %w", sdkerr.ErrAuth)

	rc := newRecorder()
	require.NoError(t, rt.SessionBegin(mustJSON(t, beginRequest{Username: "alice", Password: "x"}), SessionOptions{}, rc.callback(cancel.None)))

	rec := rc.failed(t)
	assert.Equal(t, sdkerr.KindAuth, rec.Code)
	assert.Zero(t, rt.handles.Len(), "failed begin allocates no handle")
}

func TestSessionBegin_InvalidUsername(t *testing.T) {
	rt, _ := newTestRuntime(t)

	rc := newRecorder()
	require.NoError(t, rt.SessionBegin(mustJSON(t, beginRequest{Password: "x"}), SessionOptions{}, rc.callback(cancel.None)))

	assert.Equal(t, sdkerr.KindArgument, rc.failed(t).Code)
}

func TestSession_ExportResumeRoundTrip(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	state, err := rt.SessionExport(sess)
	require.NoError(t, err)

	resumed, err := rt.SessionResume(state, SessionOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, sess, resumed)

	var original, restored sessionInfo

	data, err := rt.SessionInfo(sess)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &original))

	data, err = rt.SessionInfo(resumed)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, original, restored)
	assert.Equal(t, "authenticated", restored.State)
	assert.Equal(t, []string{testSigner}, restored.Keys)

	again, err := rt.SessionExport(resumed)
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(again))

	_, err = rt.SessionResume([]byte(`{"session_id":"s"}`), SessionOptions{})
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))
}

func TestSession_Renew(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	renewed, err := rt.SessionRenew(sess, mustJSON(t, session.RenewRequest{
		SessionID: "sess-2", AccessToken: "a2", RefreshToken: "r2", Scopes: session.Scopes{"drive"},
	}), SessionOptions{})
	require.NoError(t, err)

	var info sessionInfo

	data, err := rt.SessionInfo(renewed)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "sess-2", info.ID)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, []string{testSigner}, info.Keys, "keys carried over")

	_, err = rt.SessionExport(sess)
	require.NoError(t, err, "old session untouched")

	_, err = rt.SessionRenew(sess, []byte(`{"session_id":"x"}`), SessionOptions{})
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))
}

func TestSession_End(t *testing.T) {
	rt, backend := newTestRuntime(t)
	sess := beginSession(t, rt)

	for range 2 {
		rc := newRecorder()
		require.NoError(t, rt.SessionEnd(sess, rc.callback(cancel.None)))
		rc.succeeded(t, nil)
	}

	assert.Equal(t, 1, backend.auth.revokes(), "ending an ended session does not contact the service")

	_, err := rt.DriveClientCreate(sess, nil)
	assert.Equal(t, StatusInvalidState, StatusOf(err))

	err = rt.SessionAddUserKey(sess, mustJSON(t, userKeyRequest{KeyID: "k2", Key: []byte("x")}))
	assert.Equal(t, StatusInvalidState, StatusOf(err))

	require.NoError(t, rt.SessionFree(sess))
}

func TestSession_EndedMidTransferFailsNextChunk(t *testing.T) {
	rt, backend := newTestRuntime(t)
	sess := beginSession(t, rt)
	client := newClient(t, rt, sess, nil)
	seedNode(t, backend, "n1", tenChunks())

	reader := openReader(t, rt, client, "n1")

	live, err := handle.Get[*session.Session](rt.handles, sess, handle.KindSession)
	require.NoError(t, err)

	var once sync.Once

	sink := func(_ []byte, complete func([]byte)) {
		once.Do(func() {
			assert.NoError(t, live.End(context.Background()))
		})

		complete(nil)
	}

	rc := newRecorder()
	require.NoError(t, rt.RevisionReaderRead(reader, sink, rc.callback(cancel.None)))

	rec := rc.failed(t)
	assert.Equal(t, sdkerr.KindInvalidState, rec.Code)
}

func TestSession_AddKeys(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	locked := drive.LockPlainKey([]byte("user-key"), []byte("secret"))

	require.NoError(t, rt.SessionAddArmoredLockedUserKey(sess, mustJSON(t, lockedKeyRequest{
		KeyID: "k2", ArmoredKey: string(locked), Passphrase: "secret",
	})))

	err := rt.SessionAddArmoredLockedUserKey(sess, mustJSON(t, lockedKeyRequest{
		KeyID: "k3", ArmoredKey: string(locked), Passphrase: "wrong",
	}))
	assert.Error(t, err)

	err = rt.SessionAddUserKey(sess, mustJSON(t, userKeyRequest{KeyID: "", Key: []byte("x")}))
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))

	var info sessionInfo

	data, err := rt.SessionInfo(sess)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, []string{"k2", testSigner}, info.Keys)
}

func TestSession_ConcurrentKeyRegistration(t *testing.T) {
	rt, _ := newTestRuntime(t)
	sess := beginSession(t, rt)

	const n = 16

	var wg sync.WaitGroup

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			key := userKeyRequest{KeyID: fmt.Sprintf("extra-%02d", i), Key: []byte{byte(i + 1)}}
			assert.NoError(t, rt.SessionAddUserKey(sess, mustJSON(t, key)))
		}()
	}

	wg.Wait()

	var info sessionInfo

	data, err := rt.SessionInfo(sess)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Len(t, info.Keys, n+1)
}
