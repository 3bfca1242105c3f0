// Package session models the authentication lifecycle of a drive SDK session:
// begin, resume, renew and end, plus the user keys registered against it.
//
// A Session is safe for concurrent use. Token state is guarded by a mutex;
// the key set is published as a copy-on-write snapshot so transfer operations
// can read keys while registration proceeds.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Tokens is the bearer token material of a session.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// Info is the non-secret identity of a session.
type Info struct {
	ID                     string       `json:"session_id"`
	Username               string       `json:"username"`
	UserID                 string       `json:"user_id"`
	Scopes                 []string     `json:"scopes"`
	WaitingForSecondFactor bool         `json:"is_waiting_for_second_factor_code"`
	PasswordMode           PasswordMode `json:"password_mode"`
}

// Credentials are the secrets used to begin a session. Password is wiped by
// Begin once authentication completes.
type Credentials struct {
	Username string
	Password []byte
}

// Grant is what a successful authentication yields.
type Grant struct {
	Info   Info
	Tokens Tokens
}

// TokenSource yields a currently valid access token, refreshing as needed.
type TokenSource interface {
	Token() (string, error)
}

// Authenticator is the network collaborator that talks to the auth service.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Grant, error)
	Revoke(ctx context.Context, sessionID string, tokens Tokens) error
	// TokenSource must not contact the network until Token is called.
	// onChange is invoked after every refresh.
	TokenSource(sessionID string, tokens Tokens, onChange func(Tokens)) TokenSource
}

// Options configure a session.
type Options struct {
	Logger *slog.Logger
	// OnTokensRefreshed is invoked with the new tokens after each refresh,
	// outside any session lock.
	OnTokensRefreshed func(Tokens)
	// Unlocker handles AddArmoredLockedUserKey.
	Unlocker KeyUnlocker
}

// Session is the resource behind a session handle.
type Session struct {
	auth     Authenticator
	logger   *slog.Logger
	onChange func(Tokens)
	unlocker KeyUnlocker

	mu     sync.Mutex
	state  State
	info   Info
	tokens Tokens
	src    TokenSource

	keys atomic.Pointer[KeySet]
}

func newSession(auth Authenticator, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		auth:     auth,
		logger:   logger,
		onChange: opts.OnTokensRefreshed,
		unlocker: opts.Unlocker,
		state:    StateAnonymous,
	}
	s.keys.Store(emptyKeySet)

	return s
}

// Begin authenticates with creds and returns an authenticated session with no
// keys registered.
func Begin(ctx context.Context, auth Authenticator, creds Credentials, opts Options) (*Session, error) {
	if auth == nil {
		return nil, fmt.Errorf("session: no authenticator: %w", sdkerr.ErrArgument)
	}

	if creds.Username == "" || !utf8.ValidString(creds.Username) {
		return nil, fmt.Errorf("session: username must be non-empty UTF-8: %w", sdkerr.ErrArgument)
	}

	defer clear(creds.Password)

	s := newSession(auth, opts)
	s.setState(StateAuthenticating)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grant, err := auth.Authenticate(ctx, creds)
	if err != nil {
		s.setState(StateAnonymous)
		return nil, fmt.Errorf("session: authenticating %s: %w", creds.Username, err)
	}

	if grant.Info.Username == "" {
		grant.Info.Username = creds.Username
	}

	if err := s.authenticated(grant.Info, grant.Tokens); err != nil {
		return nil, err
	}

	s.logger.Info("session begun",
		slog.String("session_id", grant.Info.ID),
		slog.Bool("second_factor_pending", grant.Info.WaitingForSecondFactor),
	)

	return s, nil
}

// Renew builds a new session from fresh token material, carrying over the
// identity and registered keys of old. The old session is left as it is; the
// caller frees it explicitly.
func Renew(old *Session, req RenewRequest, opts Options) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	old.mu.Lock()
	state := old.state
	info := old.info
	old.mu.Unlock()

	if state != StateAuthenticated {
		return nil, fmt.Errorf("session: renewing a %s session: %w", state, sdkerr.ErrInvalidState)
	}

	if opts.Logger == nil {
		opts.Logger = old.logger
	}

	if opts.Unlocker == nil {
		opts.Unlocker = old.unlocker
	}

	s := newSession(old.auth, opts)
	s.keys.Store(old.keys.Load())

	info.ID = req.SessionID
	info.Scopes = append([]string(nil), req.Scopes...)
	info.WaitingForSecondFactor = req.WaitingForSecondFactor
	info.PasswordMode = req.PasswordMode

	tokens := Tokens{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, Expiry: req.Expiry}
	if err := s.authenticated(info, tokens); err != nil {
		return nil, err
	}

	s.logger.Info("session renewed",
		slog.String("old_session_id", old.ID()),
		slog.String("session_id", info.ID),
	)

	return s, nil
}

func (s *Session) authenticated(info Info, tokens Tokens) error {
	var src TokenSource
	if s.auth != nil {
		src = s.auth.TokenSource(info.ID, tokens, s.tokensRefreshed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnonymous && s.state != StateAuthenticating {
		return fmt.Errorf("session: cannot authenticate a %s session: %w", s.state, sdkerr.ErrInvalidState)
	}

	s.info = info
	s.tokens = tokens
	s.src = src
	s.state = StateAuthenticated

	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// tokensRefreshed applies refreshed tokens and notifies the caller.
func (s *Session) tokensRefreshed(tokens Tokens) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}

	s.tokens = tokens
	id := s.info.ID
	s.mu.Unlock()

	s.logger.Info("session tokens refreshed",
		slog.String("session_id", id),
		slog.Time("expiry", tokens.Expiry),
	)

	if s.onChange != nil {
		s.onChange(tokens)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.ID
}

// Info returns a copy of the session identity.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.info
	info.Scopes = append([]string(nil), s.info.Scopes...)

	return info
}

// Tokens returns the current token material.
func (s *Session) Tokens() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tokens
}

// RequireAuthenticated returns ErrInvalidState unless the session is
// authenticated.
func (s *Session) RequireAuthenticated() error {
	if st := s.State(); st != StateAuthenticated {
		return fmt.Errorf("session: %s: %w", st, sdkerr.ErrInvalidState)
	}

	return nil
}

// Token returns an access token for authorizing requests, refreshing through
// the authenticator when needed.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	state := s.state
	src := s.src
	access := s.tokens.AccessToken
	s.mu.Unlock()

	if state != StateAuthenticated {
		return "", fmt.Errorf("session: %s: %w", state, sdkerr.ErrInvalidState)
	}

	if src == nil {
		return access, nil
	}

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("session: obtaining token: %w", err)
	}

	return tok, nil
}

// InvalidateToken discards the current access token after the service
// rejected it, so the next Token call refreshes.
func (s *Session) InvalidateToken() {
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()

	if inv, ok := src.(interface{ InvalidateToken() }); ok {
		inv.InvalidateToken()
	}
}

// Keys returns the current key snapshot.
func (s *Session) Keys() *KeySet {
	return s.keys.Load()
}

// AddUserKey registers raw key material under id, replacing any key with the
// same id. Only permitted on an authenticated session.
func (s *Session) AddUserKey(id string, data []byte) error {
	if id == "" || !utf8.ValidString(id) {
		return fmt.Errorf("session: key id must be non-empty UTF-8: %w", sdkerr.ErrArgument)
	}

	if len(data) == 0 {
		return fmt.Errorf("session: key %q has no data: %w", id, sdkerr.ErrArgument)
	}

	if err := s.RequireAuthenticated(); err != nil {
		return err
	}

	key := UserKey{ID: id, Data: append([]byte(nil), data...)}

	for {
		cur := s.keys.Load()
		if s.keys.CompareAndSwap(cur, cur.with(key)) {
			break
		}
	}

	s.logger.Debug("user key registered", slog.String("key_id", id))

	return nil
}

// AddArmoredLockedUserKey unlocks an armored private key with passphrase and
// registers the result under id.
func (s *Session) AddArmoredLockedUserKey(id string, armored, passphrase []byte) error {
	if s.unlocker == nil {
		return fmt.Errorf("session: no key unlocker configured: %w", sdkerr.ErrInvalidState)
	}

	if err := s.RequireAuthenticated(); err != nil {
		return err
	}

	data, err := s.unlocker.UnlockKey(armored, passphrase)
	if err != nil {
		return fmt.Errorf("session: unlocking key %q: %w", id, err)
	}
	defer clear(data)

	return s.AddUserKey(id, data)
}

// End invalidates the session server-side. Ending an ended session succeeds
// without contacting the service. If revocation fails the session stays
// authenticated so the caller may retry.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	id := s.info.ID
	tokens := s.tokens
	s.mu.Unlock()

	switch state {
	case StateEnded:
		return nil
	case StateAuthenticated:
	default:
		return fmt.Errorf("session: ending a %s session: %w", state, sdkerr.ErrInvalidState)
	}

	if s.auth != nil {
		if err := s.auth.Revoke(ctx, id, tokens); err != nil {
			return fmt.Errorf("session: revoking %s: %w", id, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateEnded
	s.src = nil
	s.mu.Unlock()

	s.logger.Info("session ended", slog.String("session_id", id))

	return nil
}

// Close releases local resources. It never contacts the network.
func (s *Session) Close() error {
	s.mu.Lock()
	s.src = nil
	s.mu.Unlock()

	return nil
}
