package session

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

	"github.com/tonimelisma/drivesdk-go/internal/logging"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// fakeAuth is an in-memory Authenticator.
type fakeAuth struct {
	mu          sync.Mutex
	authErr     error
	revokeErr   error
	authCalls   int
	revokeCalls int
	lastPass    []byte
	sources     []*fakeSource
}

func (f *fakeAuth) Authenticate(_ context.Context, creds Credentials) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authCalls++
	f.lastPass = creds.Password

	if f.authErr != nil {
		return Grant{}, f.authErr
	}

	return Grant{
		Info: Info{
			ID:           "sess-1",
			UserID:       "user-1",
			Scopes:       []string{"full", "drive"},
			PasswordMode: PasswordModeSingle,
		},
		Tokens: Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"},
	}, nil
}

func (f *fakeAuth) Revoke(_ context.Context, _ string, _ Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.revokeCalls++

	return f.revokeErr
}

func (f *fakeAuth) TokenSource(_ string, tokens Tokens, onChange func(Tokens)) TokenSource {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := &fakeSource{tokens: tokens, onChange: onChange}
	f.sources = append(f.sources, src)

	return src
}

func (f *fakeAuth) lastSource() *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sources[len(f.sources)-1]
}

// fakeSource refreshes on demand when expired is set.
type fakeSource struct {
	mu       sync.Mutex
	tokens   Tokens
	expired  bool
	refresh  int
	onChange func(Tokens)
}

func (s *fakeSource) Token() (string, error) {
	s.mu.Lock()

	if !s.expired {
		tok := s.tokens.AccessToken
		s.mu.Unlock()

		return tok, nil
	}

	s.refresh++
	s.expired = false
	s.tokens = Tokens{
		AccessToken:  fmt.Sprintf("access-r%d", s.refresh),
		RefreshToken: fmt.Sprintf("refresh-r%d", s.refresh),
	}
	tokens := s.tokens
	s.mu.Unlock()

	s.onChange(tokens)

	return tokens.AccessToken, nil
}

type fakeUnlocker struct{}

func (fakeUnlocker) UnlockKey(armored, passphrase []byte) ([]byte, error) {
	if string(passphrase) != "open sesame" {
		return nil, fmt.Errorf("wrong passphrase: %w", sdkerr.ErrAuth)
	}

	return append([]byte("unlocked:"), armored...), nil
}

func begin(t *testing.T, auth *fakeAuth, opts Options) *Session {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	s, err := Begin(t.Context(), auth, Credentials{Username: "alice", Password: []byte("hunter2")}, opts)
	require.NoError(t, err)

	return s
}

// --- Begin ---

func TestBegin_Success(t *testing.T) {
	auth := &fakeAuth{}
	s := begin(t, auth, Options{})

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "sess-1", s.ID())
	assert.Equal(t, "alice", s.Info().Username, "username falls back to the credentials")
	assert.Equal(t, []string{"full", "drive"}, s.Info().Scopes)
	assert.Equal(t, 0, s.Keys().Len())
	assert.Equal(t, make([]byte, 7), auth.lastPass, "password is wiped after begin")
}

func TestBegin_Failure(t *testing.T) {
	auth := &fakeAuth{authErr: fmt.Errorf("bad password: %w", sdkerr.ErrAuth)}

	s, err := Begin(t.Context(), auth, Credentials{Username: "alice", Password: []byte("x")}, Options{Logger: logging.Discard()})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, sdkerr.ErrAuth)
}

func TestBegin_InvalidArguments(t *testing.T) {
	tests := []struct {
		name  string
		auth  Authenticator
		creds Credentials
	}{
		{"nil authenticator", nil, Credentials{Username: "alice"}},
		{"empty username", &fakeAuth{}, Credentials{}},
		{"invalid utf8 username", &fakeAuth{}, Credentials{Username: "\xff\xfe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Begin(t.Context(), tt.auth, tt.creds, Options{})
			assert.ErrorIs(t, err, sdkerr.ErrArgument)
		})
	}
}

func TestBegin_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	auth := &fakeAuth{}
	_, err := Begin(ctx, auth, Credentials{Username: "alice"}, Options{Logger: logging.Discard()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, auth.authCalls)
}

// --- Resume / Export ---

func TestResume_RoundTrip(t *testing.T) {
	auth := &fakeAuth{}
	s := begin(t, auth, Options{})
	require.NoError(t, s.AddUserKey("k2", []byte("two")))
	require.NoError(t, s.AddUserKey("k1", []byte("one")))

	data, err := s.Export()
	require.NoError(t, err)

	resumed, err := Resume(data, auth, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, resumed.State())
	assert.Equal(t, s.Info(), resumed.Info())
	assert.Equal(t, s.Tokens(), resumed.Tokens())
	assert.Equal(t, []string{"k1", "k2"}, resumed.Keys().IDs())

	k, ok := resumed.Keys().Get("k2")
	require.True(t, ok)
	assert.Equal(t, []byte("two"), k.Data)

	again, err := resumed.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.Equal(t, 1, auth.authCalls, "resume never authenticates")
}

func TestResume_RoundTripKeepsExpiry(t *testing.T) {
	auth := &fakeAuth{}
	s := begin(t, auth, Options{})

	expiry := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	s.tokensRefreshed(Tokens{AccessToken: "access-2", RefreshToken: "refresh-2", Expiry: expiry})

	data, err := s.Export()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"expiry":"2030-01-01T12:00:00Z"`)

	resumed, err := Resume(data, auth, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, s.Tokens(), resumed.Tokens())
	assert.True(t, resumed.Tokens().Expiry.Equal(expiry))

	// Without an expiry the token is treated as unknown-lifetime, as before.
	bare, err := Resume([]byte(`{"session_id":"s","username":"u","access_token":"a","refresh_token":"r","scopes":[]}`),
		auth, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.True(t, bare.Tokens().Expiry.IsZero())
}

func TestResume_LegacyScopes(t *testing.T) {
	data := `{"session_id":"s","username":"u","access_token":"a","refresh_token":"r","scopes":"[full, drive ,]"}`

	s, err := Resume([]byte(data), &fakeAuth{}, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, []string{"full", "drive"}, s.Info().Scopes)
}

func TestResume_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing session id", `{"username":"u","access_token":"a","refresh_token":"r"}`},
		{"missing tokens", `{"session_id":"s","username":"u"}`},
		{"unknown field", `{"session_id":"s","username":"u","access_token":"a","refresh_token":"r","extra":1}`},
		{"trailing data", `{"session_id":"s","username":"u","access_token":"a","refresh_token":"r"} {}`},
		{"invalid utf8", "{\"session_id\":\"\xff\",\"username\":\"u\",\"access_token\":\"a\",\"refresh_token\":\"r\"}"},
		{"empty key", `{"session_id":"s","username":"u","access_token":"a","refresh_token":"r","keys":[{"id":"k","data":""}]}`},
		{"bad password mode", `{"session_id":"s","username":"u","access_token":"a","refresh_token":"r","password_mode":9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resume([]byte(tt.data), &fakeAuth{}, Options{Logger: logging.Discard()})
			assert.ErrorIs(t, err, sdkerr.ErrArgument)
		})
	}
}

func TestResume_MissingFieldsNamed(t *testing.T) {
	_, err := Resume([]byte(`{"username":"u"}`), &fakeAuth{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_id, access_token, refresh_token")
}

func TestExport_RequiresAuthenticated(t *testing.T) {
	auth := &fakeAuth{}
	s := begin(t, auth, Options{})
	require.NoError(t, s.End(t.Context()))

	_, err := s.Export()
	assert.ErrorIs(t, err, sdkerr.ErrInvalidState)
}

func TestExport_EncodesKeysAsBase64(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{})
	require.NoError(t, s.AddUserKey("k", []byte{0x00, 0xff}))

	data, err := s.Export()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	keys := raw["keys"].([]any)
	require.Len(t, keys, 1)
	assert.Equal(t, "AP8=", keys[0].(map[string]any)["data"])
}

// --- Renew ---

func TestRenew_CarriesIdentityAndKeys(t *testing.T) {
	auth := &fakeAuth{}
	old := begin(t, auth, Options{})
	require.NoError(t, old.AddUserKey("k1", []byte("one")))

	expiry := time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)

	renewed, err := Renew(old, RenewRequest{
		SessionID:    "sess-2",
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Expiry:       expiry,
		Scopes:       Scopes{"full"},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "sess-2", renewed.ID())
	assert.Equal(t, "alice", renewed.Info().Username)
	assert.Equal(t, "user-1", renewed.Info().UserID)
	assert.Equal(t, "access-2", renewed.Tokens().AccessToken)
	assert.True(t, renewed.Tokens().Expiry.Equal(expiry))
	assert.Equal(t, []string{"k1"}, renewed.Keys().IDs())

	// The old session is untouched and keeps working independently.
	assert.Equal(t, StateAuthenticated, old.State())
	assert.Equal(t, "sess-1", old.ID())
	require.NoError(t, old.AddUserKey("k2", []byte("two")))
	assert.Equal(t, []string{"k1"}, renewed.Keys().IDs())
}

func TestRenew_Errors(t *testing.T) {
	auth := &fakeAuth{}
	old := begin(t, auth, Options{})

	_, err := Renew(old, RenewRequest{SessionID: "s"}, Options{})
	require.ErrorIs(t, err, sdkerr.ErrArgument)

	require.NoError(t, old.End(t.Context()))

	_, err = Renew(old, RenewRequest{SessionID: "s", AccessToken: "a", RefreshToken: "r"}, Options{})
	assert.ErrorIs(t, err, sdkerr.ErrInvalidState)
}

// --- Keys ---

func TestAddUserKey_ReplacesById(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{})

	require.NoError(t, s.AddUserKey("k", []byte("v1")))
	before := s.Keys()
	require.NoError(t, s.AddUserKey("k", []byte("v2")))

	k, ok := s.Keys().Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), k.Data)
	assert.Equal(t, 1, s.Keys().Len())

	old, _ := before.Get("k")
	assert.Equal(t, []byte("v1"), old.Data, "earlier snapshots are immutable")
}

func TestAddUserKey_Validation(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{})

	assert.ErrorIs(t, s.AddUserKey("", []byte("x")), sdkerr.ErrArgument)
	assert.ErrorIs(t, s.AddUserKey("k", nil), sdkerr.ErrArgument)
	assert.ErrorIs(t, s.AddUserKey("\xff", []byte("x")), sdkerr.ErrArgument)
}

func TestAddUserKey_CopiesInput(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{})

	buf := []byte("secret")
	require.NoError(t, s.AddUserKey("k", buf))
	clear(buf)

	k, _ := s.Keys().Get("k")
	assert.Equal(t, []byte("secret"), k.Data)
}

func TestAddUserKey_ConcurrentWithReaders(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{})

	const writers = 16
	const perWriter = 25

	var wg sync.WaitGroup

	for w := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range perWriter {
				assert.NoError(t, s.AddUserKey(fmt.Sprintf("w%d-k%d", w, i), []byte{byte(i + 1)}))
			}
		}()
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)

		last := 0

		for {
			select {
			case <-stop:
				return
			default:
			}

			n := s.Keys().Len()
			assert.GreaterOrEqual(t, n, last, "key count never goes backwards")
			last = n
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	assert.Equal(t, writers*perWriter, s.Keys().Len())
}

func TestAddArmoredLockedUserKey(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{Unlocker: fakeUnlocker{}})

	require.NoError(t, s.AddArmoredLockedUserKey("k", []byte("armor"), []byte("open sesame")))

	k, ok := s.Keys().Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("unlocked:armor"), k.Data)

	err := s.AddArmoredLockedUserKey("k2", []byte("armor"), []byte("wrong"))
	require.ErrorIs(t, err, sdkerr.ErrAuth)
	_, ok = s.Keys().Get("k2")
	assert.False(t, ok)
}

func TestAddArmoredLockedUserKey_NoUnlocker(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{})

	err := s.AddArmoredLockedUserKey("k", []byte("armor"), []byte("pw"))
	assert.ErrorIs(t, err, sdkerr.ErrInvalidState)
}

// --- Tokens ---

func TestToken_RefreshNotifies(t *testing.T) {
	var (
		mu        sync.Mutex
		refreshed []Tokens
	)

	auth := &fakeAuth{}
	s := begin(t, auth, Options{OnTokensRefreshed: func(tok Tokens) {
		mu.Lock()
		refreshed = append(refreshed, tok)
		mu.Unlock()
	}})

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	src := auth.lastSource()
	src.mu.Lock()
	src.expired = true
	src.mu.Unlock()

	tok, err = s.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-r1", tok)
	assert.Equal(t, "refresh-r1", s.Tokens().RefreshToken)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, refreshed, 1)
	assert.Equal(t, "access-r1", refreshed[0].AccessToken)
}

// --- End ---

func TestEnd_Idempotent(t *testing.T) {
	auth := &fakeAuth{}
	s := begin(t, auth, Options{})

	require.NoError(t, s.End(t.Context()))
	require.NoError(t, s.End(t.Context()))

	assert.Equal(t, StateEnded, s.State())
	assert.Equal(t, 1, auth.revokeCalls, "second end does not contact the service")
}

func TestEnd_FailureKeepsSessionUsable(t *testing.T) {
	auth := &fakeAuth{revokeErr: fmt.Errorf("network down: %w", sdkerr.ErrTransientIO)}
	s := begin(t, auth, Options{})

	err := s.End(t.Context())
	require.ErrorIs(t, err, sdkerr.ErrTransientIO)
	assert.Equal(t, StateAuthenticated, s.State())

	auth.mu.Lock()
	auth.revokeErr = nil
	auth.mu.Unlock()

	require.NoError(t, s.End(t.Context()))
	assert.Equal(t, StateEnded, s.State())
}

func TestEnd_OperationsAfterEnd(t *testing.T) {
	s := begin(t, &fakeAuth{}, Options{Unlocker: fakeUnlocker{}})
	require.NoError(t, s.End(t.Context()))

	_, err := s.Token()
	require.ErrorIs(t, err, sdkerr.ErrInvalidState)
	require.ErrorIs(t, s.AddUserKey("k", []byte("x")), sdkerr.ErrInvalidState)
	require.ErrorIs(t, s.AddArmoredLockedUserKey("k", []byte("a"), []byte("open sesame")), sdkerr.ErrInvalidState)
	require.ErrorIs(t, s.RequireAuthenticated(), sdkerr.ErrInvalidState)
}

func TestClose_LocalOnly(t *testing.T) {
	auth := &fakeAuth{}
	s := begin(t, auth, Options{})

	require.NoError(t, s.Close())
	assert.Equal(t, 0, auth.revokeCalls)
	assert.False(t, errors.Is(s.RequireAuthenticated(), sdkerr.ErrInvalidState))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "anonymous", StateAnonymous.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "ended", StateEnded.String())
	assert.Equal(t, "state(9)", State(9).String())
}
