package crypto_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSealOpenRoundTrip(t *testing.T) {
	blob, err := crypto.SealKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := crypto.OpenKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestOpenKeyWrongPassword(t *testing.T) {
	blob, err := crypto.SealKey(testKeyHex, "correct")
	require.NoError(t, err)

	_, err = crypto.OpenKey(blob, "wrong")
	assert.Error(t, err)
}

func TestSealKeyRejectsBadInput(t *testing.T) {
	_, err := crypto.SealKey(testKeyHex, "")
	assert.Error(t, err, "empty password")

	_, err = crypto.SealKey("not-hex", "pw")
	assert.Error(t, err, "invalid hex")

	_, err = crypto.SealKey("abcd", "pw")
	assert.Error(t, err, "wrong length")
}

func TestLoadKey(t *testing.T) {
	// Raw key wins when set.
	got, err := crypto.LoadKey(crypto.LoadKeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Sealed key file path.
	blob, err := crypto.SealKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "treasury.key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = crypto.LoadKey(crypto.LoadKeyConfig{SealedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = crypto.LoadKey(crypto.LoadKeyConfig{})
	assert.Error(t, err, "no key configured")
}
