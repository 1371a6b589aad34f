package pdu

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/teranos/matrixd/errors"
)

// ReferenceHash computes the Matrix reference hash of p: SHA-256 over the
// canonical form with signatures, unsigned and age_ts removed but hashes
// retained, encoded as unpadded URL-safe base64 and prefixed with "$" to
// form an event ID. Keeping hashes is what makes the event ID bind to the
// event's content hash rather than being interchangeable with it.
func ReferenceHash(p *PDU) (string, error) {
	reduced, err := reducedForSigning(p)
	if err != nil {
		return "", err
	}
	canonical, err := CanonicalJSON(reduced)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "$" + base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ContentHash computes the sha256 content hash embedded in an event's
// hashes field. hashes, signatures, unsigned and event_id are all excluded
// from the hashed form: a hash cannot depend on the field that carries it,
// and event_id is assigned only after this value is embedded.
func ContentHash(p *PDU) (string, error) {
	reduced, err := reducedForContentHash(p)
	if err != nil {
		return "", err
	}
	canonical, err := CanonicalJSON(reduced)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.RawStdEncoding.EncodeToString(sum[:]), nil
}

// AssignEventID computes and sets EventID to p's reference hash, returning
// it for convenience.
func AssignEventID(p *PDU) (string, error) {
	hash, err := ReferenceHash(p)
	if err != nil {
		return "", err
	}
	p.EventID = hash
	return hash, nil
}

// VerifyReferenceHash checks that p.EventID matches its reference hash.
func VerifyReferenceHash(p *PDU) error {
	want, err := ReferenceHash(p)
	if err != nil {
		return err
	}
	if p.EventID != want {
		return errors.NewKindf(errors.KindBadHash, "event_id %s does not match reference hash %s", p.EventID, want)
	}
	return nil
}

// VerifyContentHash checks p.Hashes["sha256"] against the computed content
// hash.
func VerifyContentHash(p *PDU) error {
	got, ok := p.Hashes["sha256"]
	if !ok {
		return errors.NewKindf(errors.KindBadHash, "event %s has no sha256 content hash", p.EventID)
	}
	want, err := ContentHash(p)
	if err != nil {
		return err
	}
	if got != want {
		return errors.NewKindf(errors.KindBadHash, "event %s content hash mismatch: have %s want %s", p.EventID, got, want)
	}
	return nil
}
