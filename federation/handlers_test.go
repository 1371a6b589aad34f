package federation

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/matrixd/eventstore"
	"github.com/teranos/matrixd/kv"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
)

func newHandlerTestServer(t *testing.T) (*Server, *eventstore.Store, *pdu.Signer) {
	t.Helper()

	db, err := kv.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := stateengine.New(db, nil)
	store := eventstore.New(db, engine, nil)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := &pdu.Signer{ServerName: "home", KeyID: "ed25519:1", PrivateKey: priv}

	processor := NewProcessor(store, &Keyring{}, nil, nil)
	server := NewServer("home", signer, pub, store, processor, nil)
	return server, store, signer
}

func buildHandlerEvent(t *testing.T, signer *pdu.Signer, roomID, sender, eventType string, stateKey *string, content string, prev []string, ts int64) *pdu.PDU {
	t.Helper()
	p := &pdu.PDU{
		RoomID: roomID, Sender: sender, EventType: eventType, StateKey: stateKey,
		Content: json.RawMessage(content), PrevEvents: prev, AuthEvents: []string{},
		OriginServerTS: ts, Depth: int64(len(prev) + 1),
	}
	require.NoError(t, signer.Sign(p))
	_, err := pdu.AssignEventID(p)
	require.NoError(t, err)
	return p
}

func TestHandlePublicRoomsPaginatesWithSinceAndLimit(t *testing.T) {
	server, store, signer := newHandlerTestServer(t)
	fetch := func(s, k string) (ed25519.PublicKey, error) { return signer.PrivateKey.Public().(ed25519.PublicKey), nil }

	for _, roomID := range []string{"!a:home", "!b:home", "!c:home"} {
		create := buildHandlerEvent(t, signer, roomID, "@alice:home", "m.room.create", strp(""), `{"room_version":"6"}`, nil, 1)
		require.NoError(t, store.Append(create, fetch))
		joinRules := buildHandlerEvent(t, signer, roomID, "@alice:home", "m.room.join_rules", strp(""), `{"join_rule":"public"}`, []string{create.EventID}, 2)
		require.NoError(t, store.Append(joinRules, fetch))
	}

	mux := http.NewServeMux()
	server.Routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/_matrix/federation/v1/publicRooms?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Chunk                  []map[string]string `json:"chunk"`
		TotalRoomCountEstimate int                  `json:"total_room_count_estimate"`
		NextBatch              string               `json:"next_batch"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Chunk, 2)
	assert.Equal(t, 3, body.TotalRoomCountEstimate)
	assert.Equal(t, "2", body.NextBatch)

	resp2, err := http.Get(ts.URL + "/_matrix/federation/v1/publicRooms?limit=2&since=" + body.NextBatch)
	require.NoError(t, err)
	defer resp2.Body.Close()

	var body2 struct {
		Chunk     []map[string]string `json:"chunk"`
		NextBatch string               `json:"next_batch"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body2))
	assert.Len(t, body2.Chunk, 1)
	assert.Empty(t, body2.NextBatch)
}

func TestHandleQueryProfileReturnsDisplayNameFromMembership(t *testing.T) {
	server, store, signer := newHandlerTestServer(t)
	fetch := func(s, k string) (ed25519.PublicKey, error) { return signer.PrivateKey.Public().(ed25519.PublicKey), nil }

	create := buildHandlerEvent(t, signer, "!r:home", "@alice:home", "m.room.create", strp(""), `{"room_version":"6"}`, nil, 1)
	require.NoError(t, store.Append(create, fetch))
	join := buildHandlerEvent(t, signer, "!r:home", "@alice:home", "m.room.member", strp("@alice:home"),
		`{"membership":"join","displayname":"Alice","avatar_url":"mxc://home/abc"}`, []string{create.EventID}, 2)
	require.NoError(t, store.Append(join, fetch))

	mux := http.NewServeMux()
	server.Routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/_matrix/federation/v1/query/profile/@alice:home")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Alice", body["displayname"])
	assert.Equal(t, "mxc://home/abc", body["avatar_url"])
}

func TestHandleQueryProfileFieldFilterReturnsOnlyRequestedField(t *testing.T) {
	server, store, signer := newHandlerTestServer(t)
	fetch := func(s, k string) (ed25519.PublicKey, error) { return signer.PrivateKey.Public().(ed25519.PublicKey), nil }

	create := buildHandlerEvent(t, signer, "!r:home", "@alice:home", "m.room.create", strp(""), `{"room_version":"6"}`, nil, 1)
	require.NoError(t, store.Append(create, fetch))
	join := buildHandlerEvent(t, signer, "!r:home", "@alice:home", "m.room.member", strp("@alice:home"),
		`{"membership":"join","displayname":"Alice","avatar_url":"mxc://home/abc"}`, []string{create.EventID}, 2)
	require.NoError(t, store.Append(join, fetch))

	mux := http.NewServeMux()
	server.Routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/_matrix/federation/v1/query/profile/@alice:home?field=avatar_url")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "mxc://home/abc", body["avatar_url"])
	_, hasDisplayName := body["displayname"]
	assert.False(t, hasDisplayName)
}
