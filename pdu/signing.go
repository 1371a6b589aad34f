package pdu

import (
	"crypto/ed25519"

	"github.com/teranos/matrixd/errors"
)

// Signer holds a server's ed25519 signing identity and signs outbound
// events under its own server name.
type Signer struct {
	ServerName string
	KeyID      string
	PrivateKey ed25519.PrivateKey
}

// KeyFetcher resolves the verify key for server/keyID, typically backed by
// federation key discovery and local key-server caching.
type KeyFetcher func(server, keyID string) (ed25519.PublicKey, error)

// Sign computes the content hash (if absent) and appends this signer's
// signature under Signatures[ServerName][KeyID]. It does not assign
// EventID; callers compute the reference hash separately once signed.
func (s *Signer) Sign(p *PDU) error {
	if p.Hashes == nil {
		p.Hashes = map[string]string{}
	}
	if _, ok := p.Hashes["sha256"]; !ok {
		hash, err := ContentHash(p)
		if err != nil {
			return err
		}
		p.Hashes["sha256"] = hash
	}

	reduced, err := reducedForSigning(p)
	if err != nil {
		return err
	}
	canonical, err := CanonicalJSON(reduced)
	if err != nil {
		return err
	}

	sig := ed25519.Sign(s.PrivateKey, canonical)
	if p.Signatures == nil {
		p.Signatures = map[string]map[string]string{}
	}
	if p.Signatures[s.ServerName] == nil {
		p.Signatures[s.ServerName] = map[string]string{}
	}
	p.Signatures[s.ServerName][s.KeyID] = encodeSignature(sig)
	return nil
}

// SignBytes signs an arbitrary canonical JSON payload under this signer's
// key, returning the base64-encoded signature and the key ID it was made
// with. Used for the X-Matrix request-signing scheme, which signs a
// method/uri/origin/destination/content envelope rather than a PDU.
func (s *Signer) SignBytes(canonical []byte) (signatureB64, keyID string, err error) {
	sig := ed25519.Sign(s.PrivateKey, canonical)
	return encodeSignature(sig), s.KeyID, nil
}

// VerifyDetached checks a standalone signature (not embedded in a PDU)
// against canonical using pub, for the X-Matrix request-signing scheme.
func VerifyDetached(pub ed25519.PublicKey, canonical []byte, signatureB64 string) error {
	sig, err := decodeSignature(signatureB64)
	if err != nil {
		return errors.WithKind(errors.Wrap(err, "decode detached signature"), errors.KindBadSignature)
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return errors.NewKindf(errors.KindBadSignature, "invalid detached signature")
	}
	return nil
}

// Verify checks every signature present on p using fetch to resolve each
// signer's verify key, then checks the embedded content hash. A PDU with no
// signatures at all is rejected: every event must carry at least its
// origin server's signature.
func Verify(p *PDU, fetch KeyFetcher) error {
	if len(p.Signatures) == 0 {
		return errors.NewKindf(errors.KindBadSignature, "event %s has no signatures", p.EventID)
	}

	reduced, err := reducedForSigning(p)
	if err != nil {
		return err
	}
	canonical, err := CanonicalJSON(reduced)
	if err != nil {
		return err
	}

	for server, keys := range p.Signatures {
		for keyID, sigB64 := range keys {
			pub, err := fetch(server, keyID)
			if err != nil {
				return errors.WithKind(errors.Wrapf(err, "resolve verify key %s/%s", server, keyID), errors.KindUnknownSigningKey)
			}
			sig, err := decodeSignature(sigB64)
			if err != nil {
				return errors.WithKind(errors.Wrapf(err, "decode signature %s/%s", server, keyID), errors.KindBadSignature)
			}
			if !ed25519.Verify(pub, canonical, sig) {
				return errors.NewKindf(errors.KindBadSignature, "invalid signature from %s/%s on event %s", server, keyID, p.EventID)
			}
		}
	}

	return VerifyContentHash(p)
}
