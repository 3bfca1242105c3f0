package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

// Auth routes, relative to the base URL.
const (
	authPath    = "auth/v4"
	refreshPath = "auth/v4/refresh"
	clientID    = "drivesdk"
)

// Authenticator implements session.Authenticator against the service's
// OAuth2 password and refresh grants.
type Authenticator struct {
	opts   Options
	logger *slog.Logger
}

// NewAuthenticator returns an authenticator for the service at opts.BaseURL.
func NewAuthenticator(opts Options) *Authenticator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Authenticator{opts: opts, logger: logger}
}

func (a *Authenticator) endpoint(path string) string {
	return strings.TrimRight(a.opts.BaseURL, "/") + "/" + path
}

// oauthContext carries an HTTP client that stamps the service headers on the
// token requests the oauth2 library issues.
func (a *Authenticator) oauthContext(ctx context.Context, sessionID string) context.Context {
	base := a.opts.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	client := &http.Client{
		Transport: &headerTransport{
			base:       base,
			appVersion: a.opts.AppVersion,
			userAgent:  a.opts.UserAgent,
			sessionID:  sessionID,
		},
		Timeout: a.opts.HTTPClient.Timeout,
	}

	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// Authenticate exchanges credentials for a session grant.
func (a *Authenticator) Authenticate(ctx context.Context, creds session.Credentials) (session.Grant, error) {
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.endpoint(authPath),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	a.logger.Info("authenticating", slog.String("username", creds.Username))

	tok, err := cfg.PasswordCredentialsToken(a.oauthContext(ctx, ""), creds.Username, string(creds.Password))
	if err != nil {
		return session.Grant{}, a.classifyTokenError(ctx, "authenticating", err)
	}

	grant := session.Grant{
		Info: session.Info{
			ID:                     extraString(tok, "session_id"),
			UserID:                 extraString(tok, "user_id"),
			Scopes:                 strings.Fields(extraString(tok, "scope")),
			WaitingForSecondFactor: extraBool(tok, "two_factor"),
			PasswordMode:           session.PasswordMode(extraInt(tok, "password_mode")),
		},
		Tokens: fromOAuth(tok),
	}

	if grant.Info.ID == "" {
		return session.Grant{}, fmt.Errorf("api: auth response has no session_id: %w", sdkerr.ErrAuth)
	}

	a.logger.Info("authenticated",
		slog.String("session_id", grant.Info.ID),
		slog.Time("expiry", tok.Expiry),
	)

	return grant, nil
}

// Revoke invalidates the session's tokens server-side. A session the service
// no longer knows counts as revoked.
func (a *Authenticator) Revoke(ctx context.Context, sessionID string, tokens session.Tokens) error {
	opts := a.opts
	opts.SessionID = sessionID
	opts.Logger = a.logger

	c := NewClient(opts, staticToken(tokens.AccessToken))

	err := c.doJSON(ctx, http.MethodDelete, authPath, nil, nil)
	if errors.Is(err, sdkerr.ErrAuth) {
		a.logger.Info("session already invalid on the service", slog.String("session_id", sessionID))
		return nil
	}

	if err != nil {
		return fmt.Errorf("api: revoking session: %w", err)
	}

	return nil
}

// TokenSource returns a refreshing token source for an authenticated
// session. It does not contact the service until a refresh is needed.
func (a *Authenticator) TokenSource(sessionID string, tokens session.Tokens, onChange func(session.Tokens)) session.TokenSource {
	b := &tokenBridge{
		ctx:       a.oauthContext(context.Background(), sessionID),
		sessionID: sessionID,
		logger:    a.logger,
		current:   toOAuth(tokens),
	}

	b.cfg = &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.endpoint(refreshPath),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		// Called by the reuse token source after each silent refresh, outside
		// its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			b.mu.Lock()
			b.current = tok
			b.mu.Unlock()

			b.logger.Info("token refreshed by oauth2 library",
				slog.String("session_id", sessionID),
				slog.Time("new_expiry", tok.Expiry),
			)

			if onChange != nil {
				onChange(fromOAuth(tok))
			}
		},
	}

	b.src = b.cfg.TokenSource(b.ctx, b.current)

	return b
}

// classifyTokenError maps an oauth2 failure onto the taxonomy. Rejected
// grants are auth failures; anything without a response is transport.
func (a *Authenticator) classifyTokenError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("api: %s: %w", op, ctxErr)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		sentinel := classifyStatus(re.Response.StatusCode)

		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
			sentinel = sdkerr.ErrAuth
		}

		a.logger.Warn("token request rejected",
			slog.String("op", op),
			slog.Int("status", re.Response.StatusCode),
		)

		return fmt.Errorf("api: %s: %w: %w", op, sentinel, err)
	}

	return fmt.Errorf("api: %s: %w: %w", op, sdkerr.ErrTransientIO, err)
}

// tokenBridge adapts an oauth2.TokenSource to session.TokenSource.
type tokenBridge struct {
	ctx       context.Context
	cfg       *oauth2.Config
	sessionID string
	logger    *slog.Logger

	mu      sync.Mutex
	src     oauth2.TokenSource
	current *oauth2.Token
}

func (b *tokenBridge) Token() (string, error) {
	b.mu.Lock()
	src := b.src
	b.mu.Unlock()

	t, err := src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed",
			slog.String("session_id", b.sessionID),
			slog.String("error", err.Error()),
		)

		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("api: refreshing token: %w: %w", sdkerr.ErrAuth, err)
		}

		return "", fmt.Errorf("api: refreshing token: %w: %w", sdkerr.ErrTransientIO, err)
	}

	return t.AccessToken, nil
}

// InvalidateToken marks the current access token expired so the next Token
// call refreshes it.
func (b *tokenBridge) InvalidateToken() {
	b.mu.Lock()
	defer b.mu.Unlock()

	stale := *b.current
	stale.Expiry = time.Unix(1, 0)
	b.src = b.cfg.TokenSource(b.ctx, &stale)
}

type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

// headerTransport stamps service headers on outgoing requests.
type headerTransport struct {
	base       http.RoundTripper
	appVersion string
	userAgent  string
	sessionID  string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if t.appVersion != "" {
		req.Header.Set(headerAppVersion, t.appVersion)
	}

	ua := t.userAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	req.Header.Set("User-Agent", ua)

	if t.sessionID != "" {
		req.Header.Set(headerSessionID, t.sessionID)
	}

	return t.base.RoundTrip(req)
}

func toOAuth(t session.Tokens) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.Expiry,
	}
}

func fromOAuth(t *oauth2.Token) session.Tokens {
	return session.Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

func extraString(t *oauth2.Token, key string) string {
	s, _ := t.Extra(key).(string)
	return s
}

func extraBool(t *oauth2.Token, key string) bool {
	switch v := t.Extra(key).(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || v == "true"
	default:
		return false
	}
}

func extraInt(t *oauth2.Token, key string) int {
	switch v := t.Extra(key).(type) {
	case float64:
		return int(v)
	case string:
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)

		return n
	default:
		return 0
	}
}
