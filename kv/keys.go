package kv

import "bytes"

// Separator joins key components into a single ordered byte string. 0xFF is
// chosen because none of the identifiers this store keys on (room IDs,
// event IDs, server names, base64 hashes) can contain it, and it sorts after
// every ASCII byte a component might itself end in, so a prefix scan on a
// partial key never accidentally matches into the next component.
const Separator = 0xFF

// ErrKeyPart is returned by Key when a component contains the separator
// byte, which would corrupt ordering.
var ErrKeyPart = newKeyPartError()

type keyPartError struct{}

func newKeyPartError() error { return keyPartError{} }

func (keyPartError) Error() string { return "kv: key component contains reserved separator byte" }

// Key joins parts into a single ordered byte-string key, separated by
// Separator. It panics if any part contains the separator byte: callers
// build keys from identifiers the store itself controls the shape of
// (room IDs, sequence numbers, state-group IDs), so this indicates a
// programming error rather than bad input to validate gracefully.
func Key(parts ...[]byte) []byte {
	for _, p := range parts {
		if bytes.IndexByte(p, Separator) >= 0 {
			panic(ErrKeyPart)
		}
	}

	total := len(parts) - 1
	for _, p := range parts {
		total += len(p)
	}
	if total < 0 {
		total = 0
	}

	buf := make([]byte, 0, total)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, Separator)
		}
		buf = append(buf, p...)
	}
	return buf
}

// PrefixUpperBound returns the smallest key greater than every key sharing
// prefix, for use as the exclusive upper bound of a prefix scan. It returns
// nil if prefix is all 0xFF bytes (scans to the end of the table).
func PrefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
