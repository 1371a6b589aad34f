package stateengine

import (
	"encoding/binary"

	"github.com/teranos/matrixd/kv"
)

const (
	tableGroupMeta   = "group_meta"
	tableGroupFull   = "group_full"
	tableGroupDelta  = "group_delta"
	tableEventGroup  = "event_group"
	tableGroupCtr    = "group_counter"
)

var groupCounterKey = []byte("next")

func groupIDBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func groupIDFromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func keyGroupMeta(groupID uint64) []byte {
	return kv.Key(groupIDBytes(groupID))
}

func keyGroupSlot(table string, groupID uint64, slot StateMapKey) []byte {
	return kv.Key(groupIDBytes(groupID), []byte(slot.EventType), []byte(slot.StateKey))
}

func groupSlotPrefix(groupID uint64) []byte {
	return kv.Key(groupIDBytes(groupID))
}

func keyEventGroup(eventID string) []byte {
	return kv.Key([]byte(eventID))
}
