package eventstore

import "encoding/json"

var roomChangedTable = "room_changed"

// updateStateSlot records the current occupant of (event_type, state_key)
// in room_id's state_slot index and, for event types the server needs fast
// lookups over, refreshes the membership and alias secondary indexes.
func (s *Store) updateStateSlot(roomID, eventType, stateKey, eventID string, content []byte) error {
	if err := s.kv.Put(tableStateSlot, keyStateSlot(roomID, eventType, stateKey), []byte(eventID)); err != nil {
		return err
	}

	switch eventType {
	case "m.room.member":
		return s.updateMembership(roomID, stateKey, content)
	case "m.room.canonical_alias":
		return s.updateCanonicalAlias(roomID, content)
	}
	return nil
}

type membershipContent struct {
	Membership string `json:"membership"`
}

func (s *Store) updateMembership(roomID, userID string, content []byte) error {
	var m membershipContent
	if err := json.Unmarshal(content, &m); err != nil {
		return nil // non-membership-shaped content is tolerated, not fatal
	}

	for _, table := range []string{tableUserJoined, tableUserInvited, tableUserLeft} {
		if err := s.kv.Remove(table, keyMembershipIndex(userID, roomID)); err != nil {
			return err
		}
	}

	var table string
	switch m.Membership {
	case "join":
		table = tableUserJoined
	case "invite":
		table = tableUserInvited
	case "leave", "ban":
		table = tableUserLeft
	default:
		return nil
	}

	return s.kv.Put(table, keyMembershipIndex(userID, roomID), nil)
}

type canonicalAliasContent struct {
	Alias string `json:"alias"`
}

func (s *Store) updateCanonicalAlias(roomID string, content []byte) error {
	var c canonicalAliasContent
	if err := json.Unmarshal(content, &c); err != nil || c.Alias == "" {
		return nil
	}
	return s.kv.Put(tableAliasRoom, keyPDUByID(c.Alias), []byte(roomID))
}

// notifyRoomChanged fires the room_id change subscription so observers
// (SubscribeRoom callers such as the federation stream bridge) learn a new
// event landed.
func (s *Store) notifyRoomChanged(roomID string) {
	_ = s.kv.Put(roomChangedTable, keyPDUByID(roomID), []byte("1"))
}
