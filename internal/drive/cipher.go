package drive

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// VerificationStatus is the outcome of checking a revision's manifest
// signature.
type VerificationStatus uint8

// Verification outcomes.
const (
	VerificationOk VerificationStatus = iota
	VerificationNotSigned
	VerificationNoVerifier
	VerificationFailed
	VerificationBadContext
)

func (s VerificationStatus) String() string {
	switch s {
	case VerificationOk:
		return "ok"
	case VerificationNotSigned:
		return "not_signed"
	case VerificationNoVerifier:
		return "no_verifier"
	case VerificationFailed:
		return "failed"
	case VerificationBadContext:
		return "bad_context"
	default:
		return fmt.Sprintf("verification(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s VerificationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *VerificationStatus) UnmarshalText(text []byte) error {
	for v := VerificationOk; v <= VerificationBadContext; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}

	return fmt.Errorf("drive: unknown verification status %q: %w", text, sdkerr.ErrArgument)
}

// Cipher is the crypto collaborator. Implementations must be safe for
// concurrent use.
type Cipher interface {
	EncryptName(name string, key []byte) (string, error)
	DecryptName(armored string, key []byte) (string, error)
	NameHash(name string, hashKey []byte) string
	EncryptBlock(plain, contentKey []byte) ([]byte, error)
	DecryptBlock(data, contentKey []byte) ([]byte, error)
	Digest(data []byte) []byte
	SignManifest(manifest, signingKey []byte) ([]byte, error)
	VerifyManifest(manifest, signature, verificationKey []byte) VerificationStatus
	UnlockKey(armored, passphrase []byte) ([]byte, error)
}

// Plain armor prefixes.
const (
	plainNamePrefix   = "plain-name:"
	plainLockedPrefix = "plain-locked:"
	plainTagLen       = 4
	plainCheckLen     = 8
)

// PlainCipher performs no encryption. Names and locked keys carry a short
// key tag so mismatched keys are still detected. It exists for development
// servers and tests.
type PlainCipher struct{}

var _ Cipher = PlainCipher{}

func keyTag(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:plainTagLen]
}

// EncryptName armors name under key.
func (PlainCipher) EncryptName(name string, key []byte) (string, error) {
	payload := append(keyTag(key), name...)
	return plainNamePrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptName reverses EncryptName.
func (PlainCipher) DecryptName(armored string, key []byte) (string, error) {
	encoded, ok := strings.CutPrefix(armored, plainNamePrefix)
	if !ok {
		return "", fmt.Errorf("drive: name is not plain-armored: %w", sdkerr.ErrArgument)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(payload) < plainTagLen {
		return "", fmt.Errorf("drive: malformed armored name: %w", sdkerr.ErrArgument)
	}

	if !bytes.Equal(payload[:plainTagLen], keyTag(key)) {
		return "", fmt.Errorf("drive: name was armored under a different key: %w", sdkerr.ErrIntegrity)
	}

	return string(payload[plainTagLen:]), nil
}

// NameHash is a keyed hash of name used for duplicate detection.
func (PlainCipher) NameHash(name string, hashKey []byte) string {
	mac := hmac.New(sha256.New, hashKey)
	mac.Write([]byte(name))

	return hex.EncodeToString(mac.Sum(nil))
}

// EncryptBlock returns a copy of plain.
func (PlainCipher) EncryptBlock(plain, _ []byte) ([]byte, error) {
	return cloneBytes(plain), nil
}

// DecryptBlock returns a copy of data.
func (PlainCipher) DecryptBlock(data, _ []byte) ([]byte, error) {
	return cloneBytes(data), nil
}

// Digest is SHA-256.
func (PlainCipher) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SignManifest is an HMAC of the manifest under signingKey.
func (PlainCipher) SignManifest(manifest, signingKey []byte) ([]byte, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("drive: empty signing key: %w", sdkerr.ErrArgument)
	}

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(manifest)

	return mac.Sum(nil), nil
}

// VerifyManifest checks a signature produced by SignManifest.
func (p PlainCipher) VerifyManifest(manifest, signature, verificationKey []byte) VerificationStatus {
	if len(signature) == 0 {
		return VerificationNotSigned
	}

	if len(verificationKey) == 0 {
		return VerificationNoVerifier
	}

	want, err := p.SignManifest(manifest, verificationKey)
	if err != nil {
		return VerificationBadContext
	}

	if !hmac.Equal(want, signature) {
		return VerificationFailed
	}

	return VerificationOk
}

// UnlockKey opens a key produced by LockPlainKey.
func (PlainCipher) UnlockKey(armored, passphrase []byte) ([]byte, error) {
	encoded, ok := bytes.CutPrefix(bytes.TrimSpace(armored), []byte(plainLockedPrefix))
	if !ok {
		return nil, fmt.Errorf("drive: key is not plain-locked: %w", sdkerr.ErrArgument)
	}

	payload, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil || len(payload) <= plainCheckLen {
		return nil, fmt.Errorf("drive: malformed locked key: %w", sdkerr.ErrArgument)
	}

	check := sha256.Sum256(passphrase)
	if !hmac.Equal(payload[:plainCheckLen], check[:plainCheckLen]) {
		return nil, fmt.Errorf("drive: wrong passphrase: %w", sdkerr.ErrAuth)
	}

	return cloneBytes(payload[plainCheckLen:]), nil
}

// LockPlainKey locks key with passphrase in the form UnlockKey accepts.
func LockPlainKey(key, passphrase []byte) []byte {
	check := sha256.Sum256(passphrase)
	payload := append(check[:plainCheckLen:plainCheckLen], key...)

	return []byte(plainLockedPrefix + base64.StdEncoding.EncodeToString(payload))
}
