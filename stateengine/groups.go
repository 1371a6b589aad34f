package stateengine

import (
	"github.com/teranos/matrixd/errors"
)

// NewStateGroup allocates the next group ID and stores delta against base
// (or, if base is nil, or the base group's chain has already reached
// DeltaThreshold deltas deep, a fresh full materialization). It returns the
// new group's ID.
func (e *Engine) NewStateGroup(base *uint64, delta StateMap) (uint64, error) {
	groupID, err := e.nextGroupID()
	if err != nil {
		return 0, err
	}

	if base == nil {
		if err := e.writeFull(groupID, delta); err != nil {
			return 0, err
		}
		return groupID, nil
	}

	depth, err := e.chainDepth(*base)
	if err != nil {
		return 0, err
	}

	if depth >= DeltaThreshold {
		full, err := e.Materialize(*base)
		if err != nil {
			return 0, err
		}
		if err := e.writeFull(groupID, full.Apply(delta)); err != nil {
			return 0, err
		}
		return groupID, nil
	}

	if err := e.writeDelta(groupID, *base, delta); err != nil {
		return 0, err
	}
	return groupID, nil
}

// PrevStateID returns the predecessor group in a delta chain, or false if
// groupID is a full materialization.
func (e *Engine) PrevStateID(groupID uint64) (uint64, bool, error) {
	raw, ok, err := e.store.Get(tableGroupMeta, keyGroupMeta(groupID))
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, errors.NewKindf(errors.KindNotFound, "unknown state group %d", groupID)
	}
	isDelta, base, err := decodeMeta(raw)
	if err != nil {
		return 0, false, err
	}
	return base, isDelta, nil
}

// Materialize returns the full state map for groupID, walking its delta
// chain back to the nearest full materialization and applying deltas
// forward in order.
func (e *Engine) Materialize(groupID uint64) (StateMap, error) {
	var chain []uint64
	current := groupID
	for {
		isDelta, base, err := e.PrevStateID(current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, current)
		if !isDelta {
			break
		}
		current = base
	}

	// chain is ordered from groupID back to its full ancestor; apply
	// forward from the ancestor.
	full, err := e.readSlots(tableGroupFull, chain[len(chain)-1])
	if err != nil {
		return nil, err
	}

	state := full
	for i := len(chain) - 2; i >= 0; i-- {
		delta, err := e.readSlots(tableGroupDelta, chain[i])
		if err != nil {
			return nil, err
		}
		state = state.Apply(delta)
	}
	return state, nil
}

// GetStateGroupIDs locates the state group for each prev-event (via the
// event-to-group index populated by RecordEventGroup) and materializes it,
// returning a map keyed by the distinct group IDs found.
func (e *Engine) GetStateGroupIDs(prevEventIDs []string) (map[uint64]StateMap, error) {
	result := make(map[uint64]StateMap)
	for _, eventID := range prevEventIDs {
		groupID, ok, err := e.GroupForEvent(eventID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NewKindf(errors.KindMissingPrev, "no state group recorded for event %s", eventID)
		}
		if _, seen := result[groupID]; seen {
			continue
		}
		state, err := e.Materialize(groupID)
		if err != nil {
			return nil, err
		}
		result[groupID] = state
	}
	return result, nil
}

// RecordEventGroup associates eventID with the state group it sees as its
// own state. Called by the event store once an event has been assigned (or
// has inherited) a state group.
func (e *Engine) RecordEventGroup(eventID string, groupID uint64) error {
	return e.store.Put(tableEventGroup, keyEventGroup(eventID), groupIDBytes(groupID))
}

// GroupForEvent returns the state group previously recorded for eventID.
func (e *Engine) GroupForEvent(eventID string) (uint64, bool, error) {
	raw, ok, err := e.store.Get(tableEventGroup, keyEventGroup(eventID))
	if err != nil || !ok {
		return 0, ok, err
	}
	return groupIDFromBytes(raw), true, nil
}

func (e *Engine) chainDepth(groupID uint64) (int, error) {
	depth := 0
	current := groupID
	for {
		isDelta, base, err := e.PrevStateID(current)
		if err != nil {
			return 0, err
		}
		if !isDelta {
			return depth, nil
		}
		depth++
		current = base
	}
}

func (e *Engine) writeFull(groupID uint64, state StateMap) error {
	if err := e.store.Put(tableGroupMeta, keyGroupMeta(groupID), encodeMeta(nil)); err != nil {
		return err
	}
	return e.writeSlots(tableGroupFull, groupID, state)
}

func (e *Engine) writeDelta(groupID, base uint64, delta StateMap) error {
	if err := e.store.Put(tableGroupMeta, keyGroupMeta(groupID), encodeMeta(&base)); err != nil {
		return err
	}
	return e.writeSlots(tableGroupDelta, groupID, delta)
}

func (e *Engine) writeSlots(table string, groupID uint64, state StateMap) error {
	for slot, eventID := range state {
		if err := e.store.Put(table, keyGroupSlot(table, groupID, slot), []byte(eventID)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readSlots(table string, groupID uint64) (StateMap, error) {
	entries, err := e.store.ScanPrefix(table, groupSlotPrefix(groupID))
	if err != nil {
		return nil, err
	}
	state := make(StateMap, len(entries))
	for _, entry := range entries {
		slot, err := slotFromKey(groupID, entry.Key)
		if err != nil {
			return nil, err
		}
		state[slot] = string(entry.Value)
	}
	return state, nil
}

func slotFromKey(groupID uint64, key []byte) (StateMapKey, error) {
	prefix := groupSlotPrefix(groupID)
	if len(key) <= len(prefix)+1 {
		return StateMapKey{}, errors.NewKind(errors.KindStorageFailed, "malformed state group slot key")
	}
	rest := key[len(prefix)+1:]
	parts := splitOnSeparator(rest)
	if len(parts) != 2 {
		return StateMapKey{}, errors.NewKind(errors.KindStorageFailed, "malformed state group slot key parts")
	}
	return StateMapKey{EventType: string(parts[0]), StateKey: string(parts[1])}, nil
}

func splitOnSeparator(b []byte) [][]byte {
	var parts [][]byte
	start := 0
	for i, c := range b {
		if c == 0xFF {
			parts = append(parts, b[start:i])
			start = i + 1
		}
	}
	parts = append(parts, b[start:])
	return parts
}
