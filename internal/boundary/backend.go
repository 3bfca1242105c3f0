package boundary

import (
	"fmt"
	"log/slog"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/config"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

// Backend builds the network collaborators. The storage service returned by
// Service may also implement observability.Sender, in which case
// observability services started for that session can flush to it.
type Backend interface {
	Authenticator() session.Authenticator
	Service(sess *session.Session) drive.Service
}

// HTTPBackend talks to the storage service over HTTP.
type HTTPBackend struct {
	opts api.Options
	auth *api.Authenticator
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend builds the HTTP collaborators from the [network] settings.
func NewHTTPBackend(cfg *config.Config, logger *slog.Logger) (*HTTPBackend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if cfg.Network.BaseURL == "" {
		return nil, fmt.Errorf("boundary: network base_url is empty: %w", sdkerr.ErrArgument)
	}

	connect, err := config.ParseDuration(cfg.Network.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("boundary: connect_timeout: %w: %w", sdkerr.ErrArgument, err)
	}

	data, err := config.ParseDuration(cfg.Network.DataTimeout)
	if err != nil {
		return nil, fmt.Errorf("boundary: data_timeout: %w: %w", sdkerr.ErrArgument, err)
	}

	opts := api.Options{
		BaseURL:    cfg.Network.BaseURL,
		AppVersion: cfg.Network.AppVersion,
		UserAgent:  cfg.Network.UserAgent,
		MaxRetries: cfg.Network.MaxRetries,
		HTTPClient: api.NewHTTPClient(api.TransportOptions{ConnectTimeout: connect, DataTimeout: data}),
		Logger:     logger,
	}

	return &HTTPBackend{opts: opts, auth: api.NewAuthenticator(opts)}, nil
}

// Authenticator returns the shared OAuth2 authenticator.
func (b *HTTPBackend) Authenticator() session.Authenticator {
	return b.auth
}

// Service returns a client authorized by sess.
func (b *HTTPBackend) Service(sess *session.Session) drive.Service {
	opts := b.opts
	opts.SessionID = sess.ID()

	return api.NewClient(opts, sess)
}
