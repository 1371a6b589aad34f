package pdu

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/teranos/matrixd/errors"
)

// CanonicalJSON re-encodes an arbitrary JSON value with object keys sorted
// lexicographically by their UTF-8 byte sequence, no insignificant
// whitespace, and no escaped forward slashes, per the Matrix canonical JSON
// appendix. Non-integer numbers are rejected: Matrix canonical JSON has no
// defined encoding for them and the original event must not have carried
// any.
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	var value interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "decode json for canonicalization"), errors.KindMalformedJSON)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, value interface{}) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return encodeCanonicalNumber(buf, v)
	case string:
		return encodeCanonicalString(buf, v)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.NewKindf(errors.KindMalformedJSON, "unsupported value type %T in canonical json", v)
	}
	return nil
}

func encodeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	for _, r := range s {
		if r == '.' || r == 'e' || r == 'E' {
			return errors.NewKindf(errors.KindMalformedJSON, "non-integer number %q not permitted in canonical json", s)
		}
	}
	buf.WriteString(s)
	return nil
}

func encodeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return errors.WithKind(errors.Wrap(err, "encode canonical string"), errors.KindMalformedJSON)
	}
	// json.Encoder.Encode appends a trailing newline; canonical JSON has no
	// insignificant whitespace at all.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// reducedForContentHash strips signatures, unsigned, age_ts, and hashes
// itself before canonicalization: a content hash cannot depend on the
// field that carries it.
func reducedForContentHash(p *PDU) (json.RawMessage, error) {
	return reducedEvent(p, true)
}

// reducedForSigning strips signatures and unsigned but keeps hashes. The
// reference hash and the signature both cover the event including its
// already-embedded content hash, which is what binds the event ID and the
// signature to that content hash instead of letting either float free of
// it; only the content hash itself has to be computed over a hashes-less
// form to avoid depending on itself.
func reducedForSigning(p *PDU) (json.RawMessage, error) {
	return reducedEvent(p, false)
}

func reducedEvent(p *PDU, dropHashes bool) (json.RawMessage, error) {
	full, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "marshal event for reduction"), errors.KindMalformedJSON)
	}

	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(full))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "decode event for reduction"), errors.KindMalformedJSON)
	}

	delete(m, "signatures")
	delete(m, "unsigned")
	delete(m, "age_ts")
	delete(m, "event_id")
	if dropHashes {
		delete(m, "hashes")
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "marshal reduced event"), errors.KindMalformedJSON)
	}
	return out, nil
}
