package boundary

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/logging"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

// SessionOptions are the non-payload arguments shared by the session entry
// points that create a session.
type SessionOptions struct {
	// LoggerProvider routes the session's logs to a caller sink. Zero keeps
	// the runtime logger.
	LoggerProvider handle.Handle
	// OnTokensRefreshed receives the new token state as JSON after every
	// refresh.
	OnTokensRefreshed func(tokens []byte)
}

type beginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userKeyRequest struct {
	KeyID string `json:"key_id"`
	Key   []byte `json:"key"`
}

type lockedKeyRequest struct {
	KeyID      string `json:"key_id"`
	ArmoredKey string `json:"armored_key"`
	Passphrase string `json:"passphrase"`
}

// sessionInfo is the payload of SessionInfo.
type sessionInfo struct {
	session.Info
	State string   `json:"state"`
	Keys  []string `json:"key_ids"`
}

// loggerFor returns the logger a new resource should use: the provider's
// category logger when one is given, otherwise the runtime logger.
func (r *Runtime) loggerFor(provider handle.Handle, category string) (*slog.Logger, error) {
	if provider == 0 {
		return r.logger.With(slog.String(logging.CategoryKey, category)), nil
	}

	p, err := handle.Get[*logging.Provider](r.handles, provider, handle.KindLoggerProvider)
	if err != nil {
		return nil, err
	}

	return p.Logger(category), nil
}

func (r *Runtime) sessionOptions(opts SessionOptions) (session.Options, error) {
	logger, err := r.loggerFor(opts.LoggerProvider, "session")
	if err != nil {
		return session.Options{}, err
	}

	out := session.Options{Logger: logger, Unlocker: r.cipher}

	if notify := opts.OnTokensRefreshed; notify != nil {
		out.OnTokensRefreshed = func(t session.Tokens) {
			data, err := json.Marshal(t)
			if err != nil {
				logger.Warn("failed to encode refreshed tokens", slog.String("error", err.Error()))
				return
			}

			notify(data)
		}
	}

	return out, nil
}

// SessionBegin authenticates with username and password and answers with a
// session handle.
func (r *Runtime) SessionBegin(request []byte, opts SessionOptions, cb Callback) error {
	var req beginRequest
	if err := decode(request, &req); err != nil {
		return err
	}

	sopts, err := r.sessionOptions(opts)
	if err != nil {
		return err
	}

	creds := session.Credentials{Username: req.Username, Password: []byte(req.Password)}

	return submitHandle(r, "session_begin", handle.KindSession, cb, func(ctx context.Context) (*session.Session, error) {
		return session.Begin(ctx, r.backend.Authenticator(), creds, sopts)
	})
}

// SessionResume reconstructs a session from exported state without
// contacting the service.
func (r *Runtime) SessionResume(state []byte, opts SessionOptions) (handle.Handle, error) {
	sopts, err := r.sessionOptions(opts)
	if err != nil {
		return 0, err
	}

	sess, err := session.Resume(state, r.backend.Authenticator(), sopts)
	if err != nil {
		return 0, err
	}

	return r.handles.Create(handle.KindSession, sess)
}

// SessionRenew derives a new session from old with fresh token material.
// The old handle stays valid and must still be freed.
func (r *Runtime) SessionRenew(old handle.Handle, request []byte, opts SessionOptions) (handle.Handle, error) {
	prev, release, err := handle.Pin[*session.Session](r.handles, old, handle.KindSession)
	if err != nil {
		return 0, err
	}
	defer release()

	var req session.RenewRequest
	if err := decode(request, &req); err != nil {
		return 0, err
	}

	sopts, err := r.sessionOptions(opts)
	if err != nil {
		return 0, err
	}

	sess, err := session.Renew(prev, req, sopts)
	if err != nil {
		return 0, err
	}

	return r.handles.Create(handle.KindSession, sess)
}

// SessionEnd invalidates the session on the service. The handle stays valid
// until freed.
func (r *Runtime) SessionEnd(h handle.Handle, cb Callback) error {
	sess, release, err := handle.Pin[*session.Session](r.handles, h, handle.KindSession)
	if err != nil {
		return err
	}

	return r.submit("session_end", cb, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		if err := sess.End(ctx); err != nil {
			return nil, err
		}

		return emptyResult, nil
	}, release)
}

// SessionFree releases the session handle.
func (r *Runtime) SessionFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindSession)
}

// SessionAddUserKey registers a decrypted user key.
func (r *Runtime) SessionAddUserKey(h handle.Handle, request []byte) error {
	sess, err := handle.Get[*session.Session](r.handles, h, handle.KindSession)
	if err != nil {
		return err
	}

	var req userKeyRequest
	if err := decode(request, &req); err != nil {
		return err
	}

	return sess.AddUserKey(req.KeyID, req.Key)
}

// SessionAddArmoredLockedUserKey unlocks an armored key with its passphrase
// and registers it.
func (r *Runtime) SessionAddArmoredLockedUserKey(h handle.Handle, request []byte) error {
	sess, err := handle.Get[*session.Session](r.handles, h, handle.KindSession)
	if err != nil {
		return err
	}

	var req lockedKeyRequest
	if err := decode(request, &req); err != nil {
		return err
	}

	passphrase := []byte(req.Passphrase)
	defer clear(passphrase)

	return sess.AddArmoredLockedUserKey(req.KeyID, []byte(req.ArmoredKey), passphrase)
}

// SessionExport serializes the session in the form SessionResume accepts.
func (r *Runtime) SessionExport(h handle.Handle) ([]byte, error) {
	sess, err := handle.Get[*session.Session](r.handles, h, handle.KindSession)
	if err != nil {
		return nil, err
	}

	return sess.Export()
}

// SessionInfo describes the session without any secret material.
func (r *Runtime) SessionInfo(h handle.Handle) ([]byte, error) {
	sess, err := handle.Get[*session.Session](r.handles, h, handle.KindSession)
	if err != nil {
		return nil, err
	}

	return encode(sessionInfo{Info: sess.Info(), State: sess.State().String(), Keys: sess.Keys().IDs()})
}
