package pdu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateSignerGeneratesOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.signing.key")

	signer, pub, err := LoadOrCreateSigner(path, "home.example")
	require.NoError(t, err)
	assert.Equal(t, "home.example", signer.ServerName)
	assert.NotEmpty(t, signer.KeyID)
	assert.Len(t, pub, 32)
}

func TestLoadOrCreateSignerReloadsSameKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.signing.key")

	signer1, pub1, err := LoadOrCreateSigner(path, "home.example")
	require.NoError(t, err)

	signer2, pub2, err := LoadOrCreateSigner(path, "home.example")
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
	assert.Equal(t, signer1.KeyID, signer2.KeyID)
	assert.Equal(t, signer1.PrivateKey, signer2.PrivateKey)
}

func TestLoadOrCreateSignerRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.signing.key")
	require.NoError(t, os.WriteFile(path, []byte("not a valid key file"), 0o600))

	_, _, err := LoadOrCreateSigner(path, "home.example")
	assert.Error(t, err)
}
