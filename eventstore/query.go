package eventstore

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/teranos/matrixd/kv"
	"github.com/teranos/matrixd/pdu"
)

// PDUsUntil returns up to limit PDUs in room, in descending sequence order,
// starting at fromSeq (exclusive) and walking backward.
func (s *Store) PDUsUntil(roomID string, fromSeq uint64, limit int) ([]*pdu.PDU, error) {
	entries, err := s.kv.IterReverse(tablePDUSeq, roomPrefix(roomID), keyPDUSeq(roomID, fromSeq))
	if err != nil {
		return nil, err
	}
	return s.resolveSeqEntries(entries, limit)
}

// PDUsAfter returns up to limit PDUs in room, in ascending sequence order,
// starting just after fromSeq.
func (s *Store) PDUsAfter(roomID string, fromSeq uint64, limit int) ([]*pdu.PDU, error) {
	entries, err := s.kv.Range(tablePDUSeq, keyPDUSeq(roomID, fromSeq+1), kv.PrefixUpperBound(roomPrefix(roomID)))
	if err != nil {
		return nil, err
	}
	return s.resolveSeqEntries(entries, limit)
}

func (s *Store) resolveSeqEntries(entries []kv.Entry, limit int) ([]*pdu.PDU, error) {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	result := make([]*pdu.PDU, 0, len(entries))
	for _, entry := range entries {
		p, ok, err := s.loadPDU(string(entry.Value))
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// StateFull returns the complete materialized state map of room, keyed by
// "event_type\x1Fstate_key" for callers that want a flat view rather than
// the stateengine.StateMapKey struct.
func (s *Store) StateFull(roomID string) (map[string]string, error) {
	entries, err := s.kv.ScanPrefix(tableStateSlot, roomPrefix(roomID))
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	prefix := roomPrefix(roomID)
	for _, entry := range entries {
		rest := entry.Key[len(prefix)+1:]
		parts := strings.SplitN(string(rest), "\xff", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]+"\x1f"+parts[1]] = string(entry.Value)
	}
	return out, nil
}

// Members returns every user_id with a recorded membership (join, invite,
// or leave/ban) in room.
func (s *Store) Members(roomID string) ([]string, error) {
	var users []string
	for _, table := range []string{tableUserJoined, tableUserInvited, tableUserLeft} {
		entries, err := s.kv.ScanPrefix(table, []byte{})
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			userID, rid, ok := splitMembershipKey(entry.Key)
			if ok && rid == roomID {
				users = append(users, userID)
			}
		}
	}
	return users, nil
}

// RoomsJoined returns every room_id that userID currently has a join
// membership in.
func (s *Store) RoomsJoined(userID string) ([]string, error) {
	entries, err := s.kv.ScanPrefix(tableUserJoined, kv.Key([]byte(userID)))
	if err != nil {
		return nil, err
	}

	var rooms []string
	for _, entry := range entries {
		_, roomID, ok := splitMembershipKey(entry.Key)
		if ok {
			rooms = append(rooms, roomID)
		}
	}
	return rooms, nil
}

func splitMembershipKey(key []byte) (userID, roomID string, ok bool) {
	parts := strings.SplitN(string(key), "\xff", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ResolveAlias returns the room_id registered for a canonical alias.
func (s *Store) ResolveAlias(alias string) (string, bool, error) {
	raw, ok, err := s.kv.Get(tableAliasRoom, keyPDUByID(alias))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// Extremities returns the current DAG leaves (events with no known child)
// of room.
func (s *Store) Extremities(roomID string) ([]string, error) {
	entries, err := s.kv.ScanPrefix(tableExtremities, roomPrefix(roomID))
	if err != nil {
		return nil, err
	}
	prefix := roomPrefix(roomID)
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, string(entry.Key[len(prefix)+1:]))
	}
	return out, nil
}

// GetMissingEvents walks backward through prev_events breadth-first from
// latestEvents (inclusive), not entering or passing any event listed in
// earliestEvents, and returns the locally stored events it reaches that
// are absent from the caller's knownEventIDs set, up to limit events. This backs the federation get_missing_events endpoint and
// the backfill-on-missing-prev path.
func (s *Store) GetMissingEvents(roomID string, earliestEvents, latestEvents []string, knownEventIDs map[string]bool, limit int) ([]*pdu.PDU, error) {
	stop := make(map[string]bool, len(earliestEvents))
	for _, id := range earliestEvents {
		stop[id] = true
	}

	visited := map[string]bool{}
	var result []*pdu.PDU
	queue := append([]string(nil), latestEvents...)

	for len(queue) > 0 && (limit <= 0 || len(result) < limit) {
		id := queue[0]
		queue = queue[1:]
		if visited[id] || stop[id] {
			continue
		}
		visited[id] = true

		p, ok, err := s.loadPDU(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if !knownEventIDs[id] {
			result = append(result, p)
		}
		queue = append(queue, p.PrevEvents...)
	}

	return result, nil
}

// PublicRooms returns the room_ids whose current m.room.join_rules state
// content is "public", sorted for stable pagination. There is no separate
// room directory table: the join-rule state event is authoritative, so this
// scans the full state_slot table rather than a per-room prefix.
func (s *Store) PublicRooms() ([]string, error) {
	entries, err := s.kv.ScanPrefix(tableStateSlot, []byte{})
	if err != nil {
		return nil, err
	}

	var rooms []string
	for _, entry := range entries {
		parts := strings.SplitN(string(entry.Key), "\xff", 3)
		if len(parts) != 3 || parts[1] != "m.room.join_rules" || parts[2] != "" {
			continue
		}

		event, ok, err := s.loadPDU(string(entry.Value))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var content struct {
			JoinRule string `json:"join_rule"`
		}
		if err := json.Unmarshal(event.Content, &content); err != nil {
			continue
		}
		if content.JoinRule == "public" {
			rooms = append(rooms, parts[0])
		}
	}

	sort.Strings(rooms)
	return rooms, nil
}
