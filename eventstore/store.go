package eventstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/matrixd/kv"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
)

// Store is the room event graph: PDU storage, per-room sequencing, DAG
// extremities, and the secondary indexes (state slots, memberships,
// aliases) kept in step with appends.
type Store struct {
	kv     *kv.Store
	states *stateengine.Engine
	logger *zap.SugaredLogger

	roomLocksMu sync.Mutex
	roomLocks   map[string]*sync.Mutex
}

// New constructs an event store over an already-open KV store and state
// engine.
func New(store *kv.Store, states *stateengine.Engine, log *zap.SugaredLogger) *Store {
	return &Store{kv: store, states: states, logger: log, roomLocks: make(map[string]*sync.Mutex)}
}

// roomLock returns the single-writer lock for roomID, creating it on first
// use. Appends to a room are serialized through this lock; reads never take
// it.
func (s *Store) roomLock(roomID string) *sync.Mutex {
	s.roomLocksMu.Lock()
	defer s.roomLocksMu.Unlock()

	lock, ok := s.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.roomLocks[roomID] = lock
	}
	return lock
}

// loadPDU fetches and decodes the stored PDU for eventID.
func (s *Store) loadPDU(eventID string) (*pdu.PDU, bool, error) {
	raw, ok, err := s.kv.Get(tablePDUByID, keyPDUByID(eventID))
	if err != nil || !ok {
		return nil, ok, err
	}
	p, err := pdu.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// persistPending stores p's wire bytes in pdu_by_id, unsequenced, and
// registers it under pending_by_parent for every prev_event it names that
// is not yet itself stored. promotePending uses that index to find p again
// once a missing parent finally arrives, without scanning every pending
// event in the store.
func (s *Store) persistPending(p *pdu.PDU) error {
	raw, err := pdu.Encode(p)
	if err != nil {
		return err
	}
	if err := s.kv.Put(tablePDUByID, keyPDUByID(p.EventID), raw); err != nil {
		return err
	}

	for _, parentID := range p.PrevEvents {
		if _, ok, err := s.kv.Get(tablePDUByID, keyPDUByID(parentID)); err != nil {
			return err
		} else if ok {
			continue
		}
		if err := s.kv.Put(tablePendingByParent, keyPendingByParent(parentID, p.EventID), nil); err != nil {
			return err
		}
	}
	return nil
}

// MarkOutlier stores p's wire bytes without touching sequencing,
// extremities, or state, pending promotion once its missing parents arrive.
// Called once a MissingPrev retry has persistently failed: the event is
// kept for later reference (e.g. as an auth_events target) and is
// automatically folded back into the forward DAG if those parents are
// eventually appended.
func (s *Store) MarkOutlier(p *pdu.PDU) error {
	return s.persistPending(p)
}

// SubscribeRoom returns a channel that receives a notification whenever
// roomID gains a new event, closed when ctx is canceled.
func (s *Store) SubscribeRoom(ctx context.Context, roomID string) <-chan kv.ChangeEvent {
	return s.kv.Subscribe(ctx, roomChangedTable, keyPDUByID(roomID))
}
