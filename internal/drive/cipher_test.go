package drive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

func TestPlainCipher_NameRoundTrip(t *testing.T) {
	var c PlainCipher

	key := []byte("parent-key")

	armored, err := c.EncryptName("notes.txt", key)
	require.NoError(t, err)
	assert.NotContains(t, armored, "notes.txt")

	name, err := c.DecryptName(armored, key)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)
}

func TestPlainCipher_DecryptName_Errors(t *testing.T) {
	var c PlainCipher

	armored, err := c.EncryptName("a", []byte("k1"))
	require.NoError(t, err)

	_, err = c.DecryptName(armored, []byte("k2"))
	assert.ErrorIs(t, err, sdkerr.ErrIntegrity)

	_, err = c.DecryptName("not-armored", []byte("k1"))
	assert.ErrorIs(t, err, sdkerr.ErrArgument)

	_, err = c.DecryptName(plainNamePrefix+"%%%", []byte("k1"))
	assert.ErrorIs(t, err, sdkerr.ErrArgument)
}

func TestPlainCipher_NameHash(t *testing.T) {
	var c PlainCipher

	a := c.NameHash("x", []byte("k"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, c.NameHash("x", []byte("k")))
	assert.NotEqual(t, a, c.NameHash("x", []byte("other")))
	assert.NotEqual(t, a, c.NameHash("y", []byte("k")))
}

func TestPlainCipher_Blocks(t *testing.T) {
	var c PlainCipher

	plain := []byte("content")

	enc, err := c.EncryptBlock(plain, nil)
	require.NoError(t, err)
	assert.Equal(t, plain, enc)

	enc[0] = 'X'
	assert.Equal(t, byte('c'), plain[0], "EncryptBlock must copy")

	dec, err := c.DecryptBlock(enc, nil)
	require.NoError(t, err)
	assert.Equal(t, enc, dec)

	assert.Len(t, c.Digest(plain), 32)
}

func TestPlainCipher_VerifyManifest(t *testing.T) {
	var c PlainCipher

	manifest := []byte("hashes")
	key := []byte("signing-key")

	sig, err := c.SignManifest(manifest, key)
	require.NoError(t, err)

	tests := []struct {
		name string
		sig  []byte
		key  []byte
		want VerificationStatus
	}{
		{"ok", sig, key, VerificationOk},
		{"not signed", nil, key, VerificationNotSigned},
		{"no verifier", sig, nil, VerificationNoVerifier},
		{"wrong key", sig, []byte("other"), VerificationFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.VerifyManifest(manifest, tc.sig, tc.key))
		})
	}

	_, err = c.SignManifest(manifest, nil)
	assert.ErrorIs(t, err, sdkerr.ErrArgument)
}

func TestPlainCipher_UnlockKey(t *testing.T) {
	var c PlainCipher

	locked := LockPlainKey([]byte("share-key"), []byte("pass"))

	key, err := c.UnlockKey(locked, []byte("pass"))
	require.NoError(t, err)
	assert.Equal(t, []byte("share-key"), key)

	_, err = c.UnlockKey(locked, []byte("wrong"))
	assert.ErrorIs(t, err, sdkerr.ErrAuth)

	_, err = c.UnlockKey([]byte("garbage"), []byte("pass"))
	assert.ErrorIs(t, err, sdkerr.ErrArgument)
}

func TestVerificationStatus_Text(t *testing.T) {
	out, err := json.Marshal(map[string]VerificationStatus{"v": VerificationNoVerifier})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"no_verifier"}`, string(out))

	assert.Equal(t, "verification(42)", VerificationStatus(42).String())

	var back map[string]VerificationStatus
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, VerificationNoVerifier, back["v"])

	assert.ErrorIs(t, json.Unmarshal([]byte(`{"v":"maybe"}`), &back), sdkerr.ErrArgument)
}
