package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Scopes decodes from either a JSON array or the legacy bracketed,
// comma-separated string form "[a,b]".
type Scopes []string

// UnmarshalJSON implements json.Unmarshaler.
func (sc *Scopes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*sc = nil
		return nil
	}

	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}

		*sc = list

		return nil
	}

	var legacy string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}

	*sc = parseLegacyScopes(legacy)

	return nil
}

func parseLegacyScopes(s string) []string {
	s = strings.NewReplacer("[", "", "]", "").Replace(s)

	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// SerializedKey is a key inside a serialized session. Data is base64 in JSON.
type SerializedKey struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// ResumeRequest is the serialized observable state of a session. Export
// produces it and Resume consumes it.
type ResumeRequest struct {
	SessionID              string          `json:"session_id"`
	Username               string          `json:"username"`
	UserID                 string          `json:"user_id"`
	AccessToken            string          `json:"access_token"`
	RefreshToken           string          `json:"refresh_token"`
	Expiry                 time.Time       `json:"expiry,omitzero"`
	Scopes                 Scopes          `json:"scopes"`
	WaitingForSecondFactor bool            `json:"is_waiting_for_second_factor_code"`
	PasswordMode           PasswordMode    `json:"password_mode"`
	Keys                   []SerializedKey `json:"keys,omitempty"`
}

func (r *ResumeRequest) validate() error {
	var missing []string

	for _, f := range []struct{ name, value string }{
		{"session_id", r.SessionID},
		{"username", r.Username},
		{"access_token", r.AccessToken},
		{"refresh_token", r.RefreshToken},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("session: resume state missing %s: %w", strings.Join(missing, ", "), sdkerr.ErrArgument)
	}

	for _, k := range r.Keys {
		if k.ID == "" || len(k.Data) == 0 {
			return fmt.Errorf("session: resume state has an empty key: %w", sdkerr.ErrArgument)
		}
	}

	if r.PasswordMode > PasswordModeDual {
		return fmt.Errorf("session: unknown password mode %d: %w", r.PasswordMode, sdkerr.ErrArgument)
	}

	return nil
}

// RenewRequest carries the fresh token material for Renew.
type RenewRequest struct {
	SessionID              string       `json:"session_id"`
	AccessToken            string       `json:"access_token"`
	RefreshToken           string       `json:"refresh_token"`
	Expiry                 time.Time    `json:"expiry,omitzero"`
	Scopes                 Scopes       `json:"scopes"`
	WaitingForSecondFactor bool         `json:"is_waiting_for_second_factor_code"`
	PasswordMode           PasswordMode `json:"password_mode"`
}

func (r *RenewRequest) validate() error {
	if r.SessionID == "" || r.AccessToken == "" || r.RefreshToken == "" {
		return fmt.Errorf("session: renew needs session_id, access_token and refresh_token: %w", sdkerr.ErrArgument)
	}

	return nil
}

// DecodeStrict unmarshals a boundary JSON payload, rejecting invalid UTF-8,
// trailing data and unknown fields.
func DecodeStrict(data []byte, v any) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("payload is not valid UTF-8: %w", sdkerr.ErrArgument)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding payload: %w: %w", sdkerr.ErrArgument, err)
	}

	if dec.More() {
		return fmt.Errorf("payload has trailing data: %w", sdkerr.ErrArgument)
	}

	return nil
}

// Resume reconstructs a session from serialized state. It never contacts the
// network.
func Resume(data []byte, auth Authenticator, opts Options) (*Session, error) {
	var req ResumeRequest
	if err := DecodeStrict(data, &req); err != nil {
		return nil, fmt.Errorf("session: resume: %w", err)
	}

	return ResumeFrom(req, auth, opts)
}

// ResumeFrom is Resume for an already-decoded request.
func ResumeFrom(req ResumeRequest, auth Authenticator, opts Options) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	s := newSession(auth, opts)

	keys := emptyKeySet
	for _, k := range req.Keys {
		keys = keys.with(UserKey{ID: k.ID, Data: append([]byte(nil), k.Data...)})
	}

	s.keys.Store(keys)

	info := Info{
		ID:                     req.SessionID,
		Username:               req.Username,
		UserID:                 req.UserID,
		Scopes:                 append([]string(nil), req.Scopes...),
		WaitingForSecondFactor: req.WaitingForSecondFactor,
		PasswordMode:           req.PasswordMode,
	}

	tokens := Tokens{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, Expiry: req.Expiry}
	if err := s.authenticated(info, tokens); err != nil {
		return nil, err
	}

	s.logger.Info("session resumed",
		slog.String("session_id", info.ID),
		slog.Int("keys", keys.Len()),
	)

	return s, nil
}

// Export serializes the observable state of the session, keys included, in
// the form Resume accepts.
func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	state := s.state
	info := s.info
	tokens := s.tokens
	s.mu.Unlock()

	if state != StateAuthenticated {
		return nil, fmt.Errorf("session: exporting a %s session: %w", state, sdkerr.ErrInvalidState)
	}

	keys := s.Keys()

	req := ResumeRequest{
		SessionID:              info.ID,
		Username:               info.Username,
		UserID:                 info.UserID,
		AccessToken:            tokens.AccessToken,
		RefreshToken:           tokens.RefreshToken,
		Expiry:                 tokens.Expiry,
		Scopes:                 info.Scopes,
		WaitingForSecondFactor: info.WaitingForSecondFactor,
		PasswordMode:           info.PasswordMode,
	}

	for _, id := range keys.IDs() {
		k, _ := keys.Get(id)
		req.Keys = append(req.Keys, SerializedKey{ID: k.ID, Data: k.Data})
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("session: encoding state: %w", err)
	}

	return data, nil
}
