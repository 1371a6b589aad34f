package pdu

import (
	"fmt"
	"strings"

	"github.com/teranos/matrixd/errors"
)

// KeyID formats a signing-key identifier: algorithm ":" version. Matrix
// federation keys are always ed25519.
func KeyID(algorithm string, version string) string {
	return fmt.Sprintf("%s:%s", algorithm, version)
}

// ParseKeyID splits a key_id of the form "ed25519:<version>" into its
// algorithm and version parts.
func ParseKeyID(keyID string) (algorithm, version string, err error) {
	parts := strings.SplitN(keyID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewKindf(errors.KindUnknownSigningKey, "malformed key_id %q", keyID)
	}
	return parts[0], parts[1], nil
}

// AuthorizationHeader formats the X-Matrix authorization header value for
// one signature entry, per the Matrix federation authentication scheme.
func AuthorizationHeader(origin, keyID, signatureB64 string) string {
	return fmt.Sprintf(`X-Matrix origin=%s,key="%s",sig="%s"`, origin, keyID, signatureB64)
}
