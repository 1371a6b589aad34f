package eventstore

import (
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
)

// GetEvent fetches and decodes the stored PDU for eventID, state event or
// not, outlier or not. Federation ingestion, relay dispatch, and the
// /state and profile handlers read through this rather than loadPDU
// directly, since they live outside this package.
func (s *Store) GetEvent(eventID string) (*pdu.PDU, bool, error) {
	return s.loadPDU(eventID)
}

// AuthChain loads the transitive closure of auth_events reachable from
// seedIDs, keyed by event ID. It fails with ResolutionIncomplete if any
// referenced event is missing locally.
func (s *Store) AuthChain(seedIDs []string) (map[string]*pdu.PDU, error) {
	return s.buildAuxMap(seedIDs)
}

// CurrentState resolves room's current state by walking its extremities
// through their recorded state groups, invoking the resolver when they
// disagree. It is the same computation Append performs before accepting a
// new event, exposed read-only for federation's /state responses and for
// folding a remote candidate state into local state during inbound state
// event processing.
func (s *Store) CurrentState(roomID string) (stateengine.StateMap, error) {
	extremities, err := s.Extremities(roomID)
	if err != nil {
		return nil, err
	}
	_, state, _, err := s.stateBefore(extremities)
	if err != nil {
		return nil, err
	}
	return state, nil
}
