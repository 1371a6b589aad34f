// Package eventstore implements the room event graph: PDU storage,
// per-room sequencing, DAG extremities, the current state-slot index, and
// the membership/alias secondary indexes built in append's wake.
package eventstore

import (
	"encoding/binary"

	"github.com/teranos/matrixd/kv"
)

const (
	tablePDUByID         = "pdu_by_id"
	tablePDUSeq          = "pdu_seq"
	tableSeqByID         = "seq_by_id"
	tableExtremities     = "extremities"
	tableStateSlot       = "state_slot"
	tableAliasRoom       = "alias_room"
	tableUserJoined      = "user_joined"
	tableUserInvited     = "user_invited"
	tableUserLeft        = "user_left"
	tableRoomCounter     = "room_counter"
	tablePendingByParent = "pending_by_parent"
)

func seqBytes(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func seqFromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func keyPDUByID(eventID string) []byte {
	return kv.Key([]byte(eventID))
}

func keyPDUSeq(roomID string, seq uint64) []byte {
	return kv.Key([]byte(roomID), seqBytes(seq))
}

func keySeqByID(roomID, eventID string) []byte {
	return kv.Key([]byte(roomID), []byte(eventID))
}

func keyExtremity(roomID, eventID string) []byte {
	return kv.Key([]byte(roomID), []byte(eventID))
}

func keyStateSlot(roomID, eventType, stateKey string) []byte {
	return kv.Key([]byte(roomID), []byte(eventType), []byte(stateKey))
}

func keyMembershipIndex(userID, roomID string) []byte {
	return kv.Key([]byte(userID), []byte(roomID))
}

func keyPendingByParent(parentID, childID string) []byte {
	return kv.Key([]byte(parentID), []byte(childID))
}

func pendingByParentPrefix(parentID string) []byte {
	return kv.Key([]byte(parentID))
}

func roomPrefix(roomID string) []byte {
	return kv.Key([]byte(roomID))
}
