package eventstore

import (
	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
)

// Append validates and stores p, following the seven-step algorithm: verify,
// check parent presence, assign a room-monotone sequence number, write the
// PDU and its indexes, advance extremities, and (for state events) roll the
// state group forward. It is idempotent: appending an already-sequenced
// event ID is a no-op.
//
// A PDU whose prev_events are not all present locally is persisted to
// pdu_by_id and registered as pending on whichever parents it's missing,
// then returns MissingPrev so the caller can backfill. It is not sequenced
// or added to extremities until every parent is available. Once the last
// missing parent is itself appended, the pending event is promoted
// automatically: the caller never has to remember it was ever incomplete.
func (s *Store) Append(p *pdu.PDU, fetch pdu.KeyFetcher) error {
	if err := pdu.Verify(p, fetch); err != nil {
		return err
	}
	if err := pdu.VerifyReferenceHash(p); err != nil {
		return err
	}

	lock := s.roomLock(p.RoomID)
	lock.Lock()
	err := s.appendLocked(p)
	lock.Unlock()
	if err != nil {
		return err
	}

	return s.promotePending(p.EventID, fetch)
}

// appendLocked runs the append algorithm proper. The caller must hold p's
// room lock and must release it before acting on the result: promotePending
// recurses back into Append, which takes the same lock.
func (s *Store) appendLocked(p *pdu.PDU) error {
	if _, ok, err := s.kv.Get(tableSeqByID, keySeqByID(p.RoomID, p.EventID)); err != nil {
		return err
	} else if ok {
		return nil
	}

	for _, parentID := range p.PrevEvents {
		if _, ok, err := s.kv.Get(tablePDUByID, keyPDUByID(parentID)); err != nil {
			return err
		} else if !ok {
			if err := s.persistPending(p); err != nil {
				return err
			}
			return errors.NewKindf(errors.KindMissingPrev, "event %s references missing parent %s", p.EventID, parentID)
		}
	}

	baseGroup, _, baseDelta, err := s.stateBefore(p.PrevEvents)
	if err != nil {
		return err
	}

	seq, err := s.nextRoomSeq(p.RoomID)
	if err != nil {
		return err
	}

	raw, err := pdu.Encode(p)
	if err != nil {
		return err
	}
	if err := s.kv.Put(tablePDUByID, keyPDUByID(p.EventID), raw); err != nil {
		return err
	}
	if err := s.kv.Put(tablePDUSeq, keyPDUSeq(p.RoomID, seq), []byte(p.EventID)); err != nil {
		return err
	}
	if err := s.kv.Put(tableSeqByID, keySeqByID(p.RoomID, p.EventID), seqBytes(seq)); err != nil {
		return err
	}

	for _, parentID := range p.PrevEvents {
		if err := s.kv.Remove(tableExtremities, keyExtremity(p.RoomID, parentID)); err != nil {
			return err
		}
	}
	if err := s.kv.Put(tableExtremities, keyExtremity(p.RoomID, p.EventID), nil); err != nil {
		return err
	}

	if err := s.applyStateTransition(p, baseGroup, baseDelta); err != nil {
		return err
	}

	s.notifyRoomChanged(p.RoomID)
	return nil
}

// promotePending retries every event that was waiting on parentEventID, now
// that it has landed. A child still missing a different parent just
// re-registers itself as pending inside appendLocked; any other failure
// escalates and stops the sweep.
func (s *Store) promotePending(parentEventID string, fetch pdu.KeyFetcher) error {
	prefix := pendingByParentPrefix(parentEventID)
	entries, err := s.kv.ScanPrefix(tablePendingByParent, prefix)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		childID := string(entry.Key[len(prefix)+1:])

		if err := s.kv.Remove(tablePendingByParent, entry.Key); err != nil {
			return err
		}

		child, ok, err := s.loadPDU(childID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if err := s.Append(child, fetch); err != nil {
			if kind, _ := errors.GetKind(err); kind == errors.KindMissingPrev {
				continue
			}
			return err
		}
	}
	return nil
}

// applyStateTransition rolls the state group forward for p: allocates a new
// group when p is a state event, when baseDelta is non-empty, or when there
// is no base group; otherwise reuses baseGroup unchanged.
// baseDelta is whatever correction stateBefore still owed against baseGroup
// (non-empty only when resolution picked an overlapping-but-not-exact
// PrevGroup); it is folded into the delta this append persists so the
// group's materialized content never drifts from the resolved state.
func (s *Store) applyStateTransition(p *pdu.PDU, baseGroup *uint64, baseDelta stateengine.StateMap) error {
	if !p.IsState() {
		if len(baseDelta) == 0 {
			if baseGroup != nil {
				return s.states.RecordEventGroup(p.EventID, *baseGroup)
			}
			groupID, err := s.states.NewStateGroup(nil, stateengine.StateMap{})
			if err != nil {
				return err
			}
			return s.states.RecordEventGroup(p.EventID, groupID)
		}

		groupID, err := s.states.NewStateGroup(baseGroup, baseDelta)
		if err != nil {
			return err
		}
		if err := s.states.RecordEventGroup(p.EventID, groupID); err != nil {
			return err
		}
		return s.refreshStateSlots(p.RoomID, baseDelta, p.EventID, p.Content)
	}

	eventType, stateKey := p.StateMapKey()
	slot := stateengine.StateMapKey{EventType: eventType, StateKey: stateKey}

	delta := make(stateengine.StateMap, len(baseDelta)+1)
	for k, v := range baseDelta {
		delta[k] = v
	}
	delta[slot] = p.EventID

	groupID, err := s.states.NewStateGroup(baseGroup, delta)
	if err != nil {
		return err
	}
	if err := s.states.RecordEventGroup(p.EventID, groupID); err != nil {
		return err
	}

	return s.refreshStateSlots(p.RoomID, delta, p.EventID, p.Content)
}

// refreshStateSlots keeps the directly-read state_slot index (StateFull,
// PublicRooms, membership/alias lookups) in step with every slot a resolved
// delta touches, not just the slot of the event that triggered it: a merge
// of two diverging forks can correct a slot last written by an event other
// than p, and that correction must land here too or the index goes stale.
func (s *Store) refreshStateSlots(roomID string, delta stateengine.StateMap, selfEventID string, selfContent []byte) error {
	for slot, eventID := range delta {
		if eventID == "" {
			continue
		}

		content := selfContent
		if eventID != selfEventID {
			ev, ok, err := s.loadPDU(eventID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			content = ev.Content
		}

		if err := s.updateStateSlot(roomID, slot.EventType, slot.StateKey, eventID, content); err != nil {
			return err
		}
	}
	return nil
}
