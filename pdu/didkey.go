package pdu

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/teranos/matrixd/errors"
)

const didKeyPrefix = "did:key:z"

// EncodeVerifyKey formats a verify key the way a server's
// /_matrix/key/v2/server document publishes it: a did:key identifier,
// multicodec-tagged (0xed 0x01) and base58btc-encoded, rather than the
// unpadded base64 Matrix uses for event IDs and signatures. This keeps the
// federation key-discovery cache content-addressable by the same
// did:key:z... form other services in the stack already use.
func EncodeVerifyKey(pub ed25519.PublicKey) string {
	tagged := append([]byte{0xed, 0x01}, pub...)
	return didKeyPrefix + base58.Encode(tagged)
}

// DecodeVerifyKey extracts the ed25519 public key from a did:key:z...
// identifier produced by EncodeVerifyKey.
func DecodeVerifyKey(did string) (ed25519.PublicKey, error) {
	if len(did) < len(didKeyPrefix) || did[:len(didKeyPrefix)] != didKeyPrefix {
		return nil, errors.NewKindf(errors.KindUnknownSigningKey, "invalid did:key verify key format: %s", did)
	}

	decoded, err := base58.Decode(did[len(didKeyPrefix):])
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "base58-decode verify key %s", did), errors.KindUnknownSigningKey)
	}
	if len(decoded) != ed25519.PublicKeySize+2 {
		return nil, errors.NewKindf(errors.KindUnknownSigningKey, "unexpected decoded length %d for verify key %s", len(decoded), did)
	}
	if decoded[0] != 0xed || decoded[1] != 0x01 {
		return nil, errors.NewKindf(errors.KindUnknownSigningKey, "unexpected multicodec prefix for verify key %s", did)
	}

	return ed25519.PublicKey(decoded[2:]), nil
}
