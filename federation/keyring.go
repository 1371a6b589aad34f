package federation

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/pdu"
)

// Keyring resolves other servers' verify keys, caching responses from
// their /_matrix/key/v2/server endpoint and doubling as the pdu.KeyFetcher
// passed to pdu.Verify.
type Keyring struct {
	client *SaferClient
	mu     sync.Mutex
	cache  map[string]map[string]cachedKey
}

type cachedKey struct {
	public    ed25519.PublicKey
	expiresAt time.Time
}

// NewKeyring constructs a Keyring using its own short-timeout HTTP client,
// independent from the main federation client's timeout.
func NewKeyring(timeout time.Duration) *Keyring {
	return &Keyring{client: NewSaferClient(timeout), cache: make(map[string]map[string]cachedKey)}
}

// Fetch resolves server's verify key for keyID, satisfying pdu.KeyFetcher.
func (k *Keyring) Fetch(server, keyID string) (ed25519.PublicKey, error) {
	k.mu.Lock()
	if byKey, ok := k.cache[server]; ok {
		if entry, ok := byKey[keyID]; ok && time.Now().Before(entry.expiresAt) {
			k.mu.Unlock()
			return entry.public, nil
		}
	}
	k.mu.Unlock()

	doc, err := k.fetchKeyDocument(server)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cache[server] == nil {
		k.cache[server] = make(map[string]cachedKey)
	}
	for id, vk := range doc.VerifyKeys {
		pub, decodeErr := decodeVerifyKey(vk.Key)
		if decodeErr != nil {
			continue
		}
		expiry := time.UnixMilli(doc.ValidUntilTS)
		k.cache[server][id] = cachedKey{public: pub, expiresAt: expiry}
	}

	entry, ok := k.cache[server][keyID]
	if !ok {
		return nil, errors.NewKindf(errors.KindUnknownSigningKey, "server %s did not publish key %s", server, keyID)
	}
	return entry.public, nil
}

type verifyKeyDocument struct {
	ServerName   string                     `json:"server_name"`
	ValidUntilTS int64                      `json:"valid_until_ts"`
	VerifyKeys   map[string]verifyKeyEntry  `json:"verify_keys"`
	Signatures   map[string]map[string]string `json:"signatures"`
}

type verifyKeyEntry struct {
	Key string `json:"key"`
}

func (k *Keyring) fetchKeyDocument(server string) (*verifyKeyDocument, error) {
	addr := server
	if !hasExplicitPort(addr) {
		addr += ":" + defaultFederationPort
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://"+addr+"/_matrix/key/v2/server", nil)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "build key request"), errors.KindUnreachable)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "fetch keys from %s", server), errors.KindUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewKindf(errors.KindBadServerResponse, "%s key server returned %d", server, resp.StatusCode)
	}

	var doc verifyKeyDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "decode key document"), errors.KindBadServerResponse)
	}
	return &doc, nil
}

func decodeVerifyKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := pdu.DecodeVerifyKey(encoded)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

// LocalKeyDocument builds this server's own signed key document for GET
// /_matrix/key/v2/server: its current verify key, valid for 7 days,
// self-signed.
func LocalKeyDocument(serverName string, signer *pdu.Signer, publicKey ed25519.PublicKey) ([]byte, error) {
	doc := map[string]interface{}{
		"server_name":    serverName,
		"valid_until_ts": time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
		"verify_keys": map[string]interface{}{
			signer.KeyID: map[string]string{"key": pdu.EncodeVerifyKey(publicKey)},
		},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "marshal key document"), errors.KindMalformedJSON)
	}
	canonical, err := pdu.CanonicalJSON(raw)
	if err != nil {
		return nil, err
	}
	sig, keyID, err := signer.SignBytes(canonical)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "unmarshal key document"), errors.KindMalformedJSON)
	}
	m["signatures"] = map[string]interface{}{serverName: map[string]string{keyID: sig}}

	return json.Marshal(m)
}
