package federation

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/eventstore"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
	"github.com/teranos/matrixd/version"
)

// Server wires the event store, processor, and this server's own signing
// identity into the handful of federation HTTP endpoints a homeserver
// must expose.
type Server struct {
	serverName string
	signer     *pdu.Signer
	publicKey  ed25519.PublicKey
	store      *eventstore.Store
	processor  *Processor
	logger     *zap.SugaredLogger
}

// NewServer constructs the federation HTTP surface.
func NewServer(serverName string, signer *pdu.Signer, publicKey ed25519.PublicKey, store *eventstore.Store, processor *Processor, log *zap.SugaredLogger) *Server {
	return &Server{serverName: serverName, signer: signer, publicKey: publicKey, store: store, processor: processor, logger: log}
}

// Routes registers the federation endpoints on mux, hand-rolled on
// net/http.ServeMux's pattern routing rather than a router dependency for
// a handful of routes.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /_matrix/key/v2/server", s.handleKeyServer)
	mux.HandleFunc("GET /_matrix/federation/v1/version", s.handleVersion)
	mux.HandleFunc("PUT /_matrix/federation/v1/send/{txnId}", s.handleSend)
	mux.HandleFunc("GET /_matrix/federation/v1/publicRooms", s.handlePublicRooms)
	mux.HandleFunc("POST /_matrix/federation/v1/publicRooms", s.handlePublicRooms)
	mux.HandleFunc("POST /_matrix/federation/v1/get_missing_events/{roomId}", s.handleGetMissingEvents)
	mux.HandleFunc("GET /_matrix/federation/v1/query/profile/{userId}", s.handleQueryProfile)
	mux.HandleFunc("GET /_matrix/federation/v1/state/{roomId}", s.handleState)
}

func (s *Server) handleKeyServer(w http.ResponseWriter, r *http.Request) {
	doc, err := LocalKeyDocument(s.serverName, s.signer, s.publicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]string{"name": "matrixd", "version": version.Get().Version},
	})
}

type wireTransactionRequest struct {
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	PDUs           []json.RawMessage `json:"pdus"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	origin, err := verifyRequestOrigin(r, s.processor.keyring, s.serverName)
	if err != nil {
		writeError(w, err)
		return
	}

	var body wireTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.WithKind(errors.Wrap(err, "decode transaction body"), errors.KindMalformedJSON))
		return
	}

	results := s.processor.ProcessTransaction(r.Context(), origin, body.PDUs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"pdus": results})
}

// handlePublicRooms paginates over the rooms currently published with
// m.room.join_rules: public, using since/limit as an offset into the sorted
// room_id list rather than a separate directory table.
func (s *Server) handlePublicRooms(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	since := 0
	if sv, err := strconv.Atoi(r.URL.Query().Get("since")); err == nil && sv > 0 {
		since = sv
	}

	rooms, err := s.store.PublicRooms()
	if err != nil {
		writeError(w, err)
		return
	}

	if since > len(rooms) {
		since = len(rooms)
	}
	end := since + limit
	if end > len(rooms) {
		end = len(rooms)
	}
	page := rooms[since:end]

	chunk := make([]map[string]interface{}, 0, len(page))
	for _, roomID := range page {
		chunk = append(chunk, map[string]interface{}{"room_id": roomID})
	}

	resp := map[string]interface{}{
		"chunk":                     chunk,
		"total_room_count_estimate": len(rooms),
	}
	if end < len(rooms) {
		resp["next_batch"] = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMissingEvents(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	var body struct {
		EarliestEvents []string `json:"earliest_events"`
		LatestEvents   []string `json:"latest_events"`
		Limit          int      `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.WithKind(errors.Wrap(err, "decode get_missing_events body"), errors.KindMalformedJSON))
		return
	}
	if body.Limit <= 0 {
		body.Limit = 10
	}

	events, err := s.store.GetMissingEvents(roomID, body.EarliestEvents, body.LatestEvents, map[string]bool{}, body.Limit)
	if err != nil {
		writeError(w, err)
		return
	}

	encoded := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		raw, err := pdu.Encode(ev)
		if err != nil {
			writeError(w, err)
			return
		}
		encoded = append(encoded, raw)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": encoded})
}

// handleQueryProfile answers a remote server's profile lookup from this
// user's most recent m.room.member content across any room they're joined
// to: there is no separate profile store, the membership event is
// authoritative for display name and avatar.
func (s *Server) handleQueryProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	field := r.URL.Query().Get("field")

	rooms, err := s.store.RoomsJoined(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	var displayName, avatarURL string
	var latestTS int64
	found := false
	for _, roomID := range rooms {
		state, err := s.store.CurrentState(roomID)
		if err != nil {
			continue
		}
		memberEventID, ok := state[stateengine.StateMapKey{EventType: "m.room.member", StateKey: userID}]
		if !ok {
			continue
		}
		member, ok, err := s.store.GetEvent(memberEventID)
		if err != nil || !ok {
			continue
		}

		var content struct {
			DisplayName *string `json:"displayname"`
			AvatarURL   *string `json:"avatar_url"`
		}
		if err := json.Unmarshal(member.Content, &content); err != nil {
			continue
		}
		if found && member.OriginServerTS <= latestTS {
			continue
		}
		found = true
		latestTS = member.OriginServerTS
		displayName, avatarURL = "", ""
		if content.DisplayName != nil {
			displayName = *content.DisplayName
		}
		if content.AvatarURL != nil {
			avatarURL = *content.AvatarURL
		}
	}

	resp := map[string]interface{}{}
	if (field == "" || field == "displayname") && displayName != "" {
		resp["displayname"] = displayName
	}
	if (field == "" || field == "avatar_url") && avatarURL != "" {
		resp["avatar_url"] = avatarURL
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	state, err := s.store.CurrentState(roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	ids := make([]string, 0, len(state))
	for _, id := range state {
		ids = append(ids, id)
	}

	pdus := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		ev, ok, err := s.store.GetEvent(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			continue
		}
		raw, err := pdu.Encode(ev)
		if err != nil {
			writeError(w, err)
			return
		}
		pdus = append(pdus, raw)
	}

	authChain, err := s.store.AuthChain(ids)
	if err != nil {
		writeError(w, err)
		return
	}
	authRaw := make([]json.RawMessage, 0, len(authChain))
	for _, ev := range authChain {
		raw, err := pdu.Encode(ev)
		if err != nil {
			writeError(w, err)
			return
		}
		authRaw = append(authRaw, raw)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pdus": pdus, "auth_chain": authRaw})
}

// verifyRequestOrigin extracts and validates the X-Matrix Authorization
// header, returning the claimed origin server once its signature over the
// request checks out.
func verifyRequestOrigin(r *http.Request, keyring *Keyring, destination string) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.NewKindf(errors.KindBadSignature, "missing X-Matrix authorization header")
	}

	origin, keyID, sig, err := parseXMatrixHeader(header)
	if err != nil {
		return "", err
	}

	pub, err := keyring.Fetch(origin, keyID)
	if err != nil {
		return "", err
	}

	canonical, err := canonicalRequestBytes(r, origin, destination)
	if err != nil {
		return "", err
	}

	if err := pdu.VerifyDetached(pub, canonical, sig); err != nil {
		return "", err
	}
	return origin, nil
}

func parseXMatrixHeader(header string) (origin, keyID, sig string, err error) {
	if !strings.HasPrefix(header, "X-Matrix ") {
		return "", "", "", errors.NewKindf(errors.KindBadSignature, "unsupported authorization scheme")
	}
	fields := strings.Split(strings.TrimPrefix(header, "X-Matrix "), ",")
	values := map[string]string{}
	for _, field := range fields {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[parts[0]] = strings.Trim(parts[1], `"`)
	}
	origin, okOrigin := values["origin"]
	keyID, okKey := values["key"]
	sig, okSig := values["sig"]
	if !okOrigin || !okKey || !okSig {
		return "", "", "", errors.NewKindf(errors.KindBadSignature, "incomplete X-Matrix authorization header")
	}
	return origin, keyID, sig, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := errors.GetKind(err); ok {
		switch kind {
		case errors.KindForbidden, errors.KindAuthFailed, errors.KindBadSignature, errors.KindUnknownSigningKey:
			status = http.StatusForbidden
		case errors.KindNotFound:
			status = http.StatusNotFound
		case errors.KindMalformedJSON, errors.KindMissingPrev, errors.KindMissingAuth, errors.KindConflict:
			status = http.StatusBadRequest
		case errors.KindBadServerResponse, errors.KindUnreachable:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]string{"errcode": "M_UNKNOWN", "error": err.Error()})
}
