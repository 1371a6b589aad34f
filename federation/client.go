// Package federation implements server-to-server Matrix federation:
// outbound transaction delivery with well-known/SRV discovery and
// X-Matrix request signing, inbound transaction processing into the event
// store, and the handful of HTTP endpoints a federating homeserver must
// expose.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/retryqueue"
)

// Client sends signed outbound requests to other homeservers and
// implements retryqueue.Sender so a Queue can dispatch transactions
// through it.
type Client struct {
	origin     string
	signer     *pdu.Signer
	http       *SaferClient
	discovery  *Discovery
	logger     *zap.SugaredLogger
	timeout    time.Duration
}

// NewClient constructs a federation client signing requests as origin
// using signer, resolving destinations through discovery.
func NewClient(origin string, signer *pdu.Signer, discovery *Discovery, timeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		origin:    origin,
		signer:    signer,
		http:      NewSaferClient(timeout),
		discovery: discovery,
		logger:    log,
		timeout:   timeout,
	}
}

// signedRequest is the subset of a Matrix request signed under the
// X-Matrix scheme: method, request URI (path plus query), origin,
// destination and body all feed the signature so a destination cannot
// replay a request against a different endpoint.
type signedRequest struct {
	Method      string          `json:"method"`
	URI         string          `json:"uri"`
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// do builds, signs, and sends method/path/body to destination, returning
// the raw response body. Non-2xx responses are surfaced as
// BadServerResponse; transport failures (DNS, dial, timeout) as
// Unreachable.
func (c *Client) do(ctx context.Context, destination, method, path string, body []byte) ([]byte, error) {
	target, host, err := c.discovery.Resolve(ctx, destination)
	if err != nil {
		return nil, err
	}

	var content json.RawMessage
	if body != nil {
		content = json.RawMessage(body)
	}

	sr := signedRequest{Method: method, URI: path, Origin: c.origin, Destination: destination, Content: content}
	raw, err := json.Marshal(sr)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "marshal signed request"), errors.KindMalformedJSON)
	}
	canonical, err := pdu.CanonicalJSON(raw)
	if err != nil {
		return nil, err
	}
	sig, keyID, err := c.signer.SignBytes(canonical)
	if err != nil {
		return nil, err
	}

	url := "https://" + target + path
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "build federation request"), errors.KindUnreachable)
	}
	req.Host = host
	req.Header.Set("Authorization", pdu.AuthorizationHeader(c.origin, keyID, sig))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "send to %s", destination), errors.KindUnreachable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "read response from %s", destination), errors.KindUnreachable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewKindf(errors.KindBadServerResponse, "%s returned %d: %s", destination, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// wireTransaction is the body of PUT /_matrix/federation/v1/send/{txnId}.
type wireTransaction struct {
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	PDUs           []json.RawMessage `json:"pdus"`
}

// SendTransaction implements retryqueue.Sender: it delivers txn's PDUs to
// destination as a single federation transaction.
func (c *Client) SendTransaction(ctx context.Context, destination string, txn *retryqueue.Transaction) error {
	pdus := make([]json.RawMessage, len(txn.PDUs))
	for i, raw := range txn.PDUs {
		pdus[i] = json.RawMessage(raw)
	}
	body, err := json.Marshal(wireTransaction{Origin: c.origin, OriginServerTS: nowMillis(), PDUs: pdus})
	if err != nil {
		return errors.WithKind(errors.Wrap(err, "marshal transaction"), errors.KindMalformedJSON)
	}

	_, err = c.do(ctx, destination, http.MethodPut, "/_matrix/federation/v1/send/"+txn.ID, body)
	return err
}

// stateResponse mirrors GET /_matrix/federation/v1/state.
type stateResponse struct {
	PDUs      []json.RawMessage `json:"pdus"`
	AuthChain []json.RawMessage `json:"auth_chain"`
}

// FetchState retrieves destination's view of roomID's state (and its auth
// chain) as of eventID, used when an inbound state event's resolution
// needs the sender's candidate state.
func (c *Client) FetchState(ctx context.Context, destination, roomID, eventID string) ([]*pdu.PDU, []*pdu.PDU, error) {
	path := "/_matrix/federation/v1/state/" + roomID + "?event_id=" + eventID
	raw, err := c.do(ctx, destination, http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}

	var resp stateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, errors.WithKind(errors.Wrap(err, "decode state response"), errors.KindBadServerResponse)
	}

	state, err := decodeAll(resp.PDUs)
	if err != nil {
		return nil, nil, err
	}
	authChain, err := decodeAll(resp.AuthChain)
	if err != nil {
		return nil, nil, err
	}
	return state, authChain, nil
}

func decodeAll(raws []json.RawMessage) ([]*pdu.PDU, error) {
	out := make([]*pdu.PDU, 0, len(raws))
	for _, raw := range raws {
		p, err := pdu.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// missingEventsResponse mirrors POST /_matrix/federation/v1/get_missing_events.
type missingEventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

// BackfillMissingEvents asks destination for events between earliestEvents
// and latestEvents that this server has not seen, used to resolve a
// MissingPrev failure during inbound processing.
func (c *Client) BackfillMissingEvents(ctx context.Context, destination, roomID string, earliestEvents, latestEvents []string, limit int) ([]*pdu.PDU, error) {
	body, err := json.Marshal(map[string]interface{}{
		"earliest_events": earliestEvents,
		"latest_events":   latestEvents,
		"limit":           limit,
	})
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "marshal get_missing_events request"), errors.KindMalformedJSON)
	}

	raw, err := c.do(ctx, destination, http.MethodPost, "/_matrix/federation/v1/get_missing_events/"+roomID, body)
	if err != nil {
		return nil, err
	}

	var resp missingEventsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "decode get_missing_events response"), errors.KindBadServerResponse)
	}
	return decodeAll(resp.Events)
}
