package federation

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/pdu"
)

// canonicalRequestBytes rebuilds the same method/uri/origin/destination/
// content envelope the sender signed (see signedRequest in client.go),
// reading and restoring r.Body so downstream handlers can still decode it.
func canonicalRequestBytes(r *http.Request, origin, destination string) ([]byte, error) {
	var content json.RawMessage
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.WithKind(errors.Wrap(err, "read request body for verification"), errors.KindMalformedJSON)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		if len(body) > 0 {
			content = json.RawMessage(body)
		}
	}

	sr := signedRequest{Method: r.Method, URI: r.URL.RequestURI(), Origin: origin, Destination: destination, Content: content}
	raw, err := json.Marshal(sr)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "marshal request envelope"), errors.KindMalformedJSON)
	}
	return pdu.CanonicalJSON(raw)
}
