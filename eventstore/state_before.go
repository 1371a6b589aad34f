package eventstore

import (
	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/resolve"
	"github.com/teranos/matrixd/stateengine"
)

// stateBefore walks prevEventIDs to their recorded state groups. If every
// prev-event agrees on its group, that group is returned directly. Otherwise
// the Resolver is invoked over the union of auxiliary auth-chain PDUs built
// from local storage.
//
// The third return value, baseDelta, is the diff still owed against the
// returned group: empty whenever the group's materialized content already
// equals the returned state, non-empty when resolution picked a PrevGroup
// that only overlaps the resolved state rather than matching it exactly
// (resolve.Result.DeltaIDs). Callers must fold baseDelta into whatever delta
// they persist on top of the returned group, or the correction it carries
// is lost and the group's materialized content silently diverges from the
// resolved state from that point on.
func (s *Store) stateBefore(prevEventIDs []string) (*uint64, stateengine.StateMap, stateengine.StateMap, error) {
	if len(prevEventIDs) == 0 {
		return nil, stateengine.StateMap{}, stateengine.StateMap{}, nil
	}

	groups, err := s.states.GetStateGroupIDs(prevEventIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(groups) == 1 {
		for groupID, state := range groups {
			gid := groupID
			return &gid, state, stateengine.StateMap{}, nil
		}
	}

	aux, err := s.buildAuxMap(prevEventIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	result, err := resolve.Resolve(groups, aux)
	if err != nil {
		return nil, nil, nil, err
	}

	if result.StateGroup != nil {
		return result.StateGroup, result.State, stateengine.StateMap{}, nil
	}
	return result.PrevGroup, result.State, result.DeltaIDs, nil
}

// buildAuxMap loads the transitive closure of auth_events referenced by
// seedIDs from local storage. Any event missing locally fails resolution
// with ResolutionIncomplete; the caller (federation ingestion) is expected
// to fetch it and retry.
func (s *Store) buildAuxMap(seedIDs []string) (map[string]*pdu.PDU, error) {
	aux := map[string]*pdu.PDU{}
	queue := append([]string(nil), seedIDs...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := aux[id]; ok {
			continue
		}

		p, ok, err := s.loadPDU(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NewKindf(errors.KindResolutionIncomplete, "missing auth event %s", id)
		}

		aux[id] = p
		queue = append(queue, p.AuthEvents...)
	}

	return aux, nil
}
