package pdu

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"strings"

	"github.com/teranos/matrixd/errors"
)

const signingKeyVersion = "1"

// LoadOrCreateSigner reads serverName's ed25519 signing key from path,
// generating and persisting a new one on first run. The file holds a
// single line "ed25519:<version> <base64-seed>", analogous to a Synapse
// signing key file but without key rotation: matrixd keeps exactly one
// active key per server.
func LoadOrCreateSigner(path, serverName string) (*Signer, ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return parseSigningKeyFile(raw, serverName)
	}
	if !os.IsNotExist(err) {
		return nil, nil, errors.WithKind(errors.Wrapf(err, "read signing key %s", path), errors.KindStorageFailed)
	}

	pub, priv, genErr := ed25519.GenerateKey(nil)
	if genErr != nil {
		return nil, nil, errors.WithKind(errors.Wrap(genErr, "generate signing key"), errors.KindStorageFailed)
	}

	keyID := KeyID("ed25519", signingKeyVersion)
	line := keyID + " " + base64.StdEncoding.EncodeToString(priv.Seed()) + "\n"
	if writeErr := os.WriteFile(path, []byte(line), 0o600); writeErr != nil {
		return nil, nil, errors.WithKind(errors.Wrapf(writeErr, "write signing key %s", path), errors.KindStorageFailed)
	}

	return &Signer{ServerName: serverName, KeyID: keyID, PrivateKey: priv}, pub, nil
}

func parseSigningKeyFile(raw []byte, serverName string) (*Signer, ed25519.PublicKey, error) {
	line := strings.TrimSpace(strings.SplitN(string(raw), "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil, nil, errors.NewKindf(errors.KindBadConfig, "malformed signing key file")
	}

	seed, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, nil, errors.NewKindf(errors.KindBadConfig, "malformed signing key seed")
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{ServerName: serverName, KeyID: fields[0], PrivateKey: priv}, pub, nil
}
