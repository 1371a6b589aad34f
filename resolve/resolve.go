// Package resolve implements Matrix state resolution v2: given several
// candidate state maps for the same point in a room's DAG, deterministically
// compute the single state map every server must agree on.
package resolve

import (
	"sort"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
)

// Result is the resolved state map plus the cache-entry hints a caller
// stores alongside it so a future new_state_group call can delta-encode
// against whichever input state this resolution turned out to equal or
// most resemble.
type Result struct {
	State      stateengine.StateMap
	StateGroup *uint64 // set if State equals one of the inputs byte-for-byte
	PrevGroup  *uint64 // set otherwise: the input with largest overlap
	DeltaIDs   stateengine.StateMap
}

func isPowerEvent(eventType string) bool {
	switch eventType {
	case "m.room.power_levels", "m.room.join_rules", "m.room.member":
		return true
	default:
		return false
	}
}

// Resolve computes the resolved state for a room given one candidate state
// map per prev-event's state group, keyed by that group's ID so the result
// can reference it for cache-entry construction. aux supplies every event
// referenced as an auth_events entry by any conflicted event.
func Resolve(inputs map[uint64]stateengine.StateMap, aux map[string]*pdu.PDU) (*Result, error) {
	if len(inputs) == 0 {
		return &Result{State: stateengine.StateMap{}}, nil
	}
	if len(inputs) == 1 {
		for groupID, state := range inputs {
			gid := groupID
			return &Result{State: state.Clone(), StateGroup: &gid}, nil
		}
	}

	unconflicted, conflicted := partition(inputs)

	accum := unconflicted.Clone()

	powerEvents, otherEvents := splitConflicted(conflicted, aux)

	ordered, err := reverseTopological(powerEvents, aux)
	if err != nil {
		return nil, err
	}
	if err := applyOrdered(accum, ordered, aux); err != nil {
		return nil, err
	}

	mainline := buildMainline(accum, aux)
	sortByMainline(otherEvents, mainline, aux)
	if err := applyOrdered(accum, otherEvents, aux); err != nil {
		return nil, err
	}

	return buildResult(accum, inputs), nil
}

// partition splits the union of input state maps into unconflicted slots
// (same event ID in every input that has that slot) and conflicted slots
// (the set of candidate event IDs for slots where inputs disagree).
func partition(inputs map[uint64]stateengine.StateMap) (unconflicted stateengine.StateMap, conflicted map[stateengine.StateMapKey]map[string]bool) {
	seen := map[stateengine.StateMapKey]map[string]bool{}
	for _, state := range inputs {
		for slot, eventID := range state {
			if seen[slot] == nil {
				seen[slot] = map[string]bool{}
			}
			seen[slot][eventID] = true
		}
	}

	unconflicted = stateengine.StateMap{}
	conflicted = map[stateengine.StateMapKey]map[string]bool{}
	for slot, ids := range seen {
		if len(ids) == 1 {
			for id := range ids {
				unconflicted[slot] = id
			}
			continue
		}
		conflicted[slot] = ids
	}
	return unconflicted, conflicted
}

func splitConflicted(conflicted map[stateengine.StateMapKey]map[string]bool, aux map[string]*pdu.PDU) (power, other []string) {
	for slot, ids := range conflicted {
		for id := range ids {
			if isPowerEvent(slot.EventType) {
				power = append(power, id)
			} else {
				other = append(other, id)
			}
		}
	}
	return power, other
}

// reverseTopological orders eventIDs so that every event appears after any
// of its auth_events that are also in the set, tie-breaking ready events by
// (origin_server_ts ascending, event_id ascending).
func reverseTopological(eventIDs []string, aux map[string]*pdu.PDU) ([]string, error) {
	set := map[string]bool{}
	for _, id := range eventIDs {
		set[id] = true
	}

	inDegree := map[string]int{}
	children := map[string][]string{}
	for _, id := range eventIDs {
		event, ok := aux[id]
		if !ok {
			return nil, errors.NewKindf(errors.KindResolutionIncomplete, "missing auxiliary event %s", id)
		}
		for _, authID := range event.AuthEvents {
			if set[authID] {
				inDegree[id]++
				children[authID] = append(children[authID], id)
			}
		}
	}

	var ready []string
	for _, id := range eventIDs {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return lessByTimestampThenID(aux[ready[i]], aux[ready[j]])
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, child := range children[next] {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(eventIDs) {
		return nil, errors.NewKind(errors.KindResolutionIncomplete, "cycle detected among power events' auth chain")
	}
	return order, nil
}

func lessByTimestampThenID(a, b *pdu.PDU) bool {
	if a.OriginServerTS != b.OriginServerTS {
		return a.OriginServerTS < b.OriginServerTS
	}
	return a.EventID < b.EventID
}

// applyOrdered iterates events in order, accepting each iff every auth_events
// entry is present in aux and matches what accum currently holds for that
// auth event's own state-map slot.
func applyOrdered(accum stateengine.StateMap, order []string, aux map[string]*pdu.PDU) error {
	for _, id := range order {
		event, ok := aux[id]
		if !ok {
			return errors.NewKindf(errors.KindResolutionIncomplete, "missing auxiliary event %s", id)
		}

		authorized := true
		for _, authID := range event.AuthEvents {
			authEvent, ok := aux[authID]
			if !ok {
				return errors.NewKindf(errors.KindResolutionIncomplete, "missing auth event %s referenced by %s", authID, id)
			}
			if !authEvent.IsState() {
				continue
			}
			et, sk := authEvent.StateMapKey()
			if accum[stateengine.StateMapKey{EventType: et, StateKey: sk}] != authID {
				authorized = false
				break
			}
		}

		if authorized && event.IsState() {
			et, sk := event.StateMapKey()
			accum[stateengine.StateMapKey{EventType: et, StateKey: sk}] = id
		}
	}
	return nil
}

// buildMainline walks the resolved m.room.power_levels event's own auth
// chain of prior power_levels events, returning each one's depth from the
// current event (0 = current).
func buildMainline(accum stateengine.StateMap, aux map[string]*pdu.PDU) map[string]int {
	mainline := map[string]int{}
	current, ok := accum[stateengine.StateMapKey{EventType: "m.room.power_levels", StateKey: ""}]
	depth := 0
	for ok {
		mainline[current] = depth
		event, found := aux[current]
		if !found {
			break
		}
		next := ""
		for _, authID := range event.AuthEvents {
			if authEvent, ok := aux[authID]; ok && authEvent.EventType == "m.room.power_levels" {
				next = authID
				break
			}
		}
		if next == "" {
			break
		}
		current = next
		depth++
	}
	return mainline
}

// mainlinePosition finds the depth of the nearest ancestor of event that
// lies on mainline, walking its auth_events chain. Events with no mainline
// ancestor sort last (maximum depth).
func mainlinePosition(eventID string, mainline map[string]int, aux map[string]*pdu.PDU) int {
	visited := map[string]bool{}
	queue := []string{eventID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		if depth, ok := mainline[id]; ok {
			return depth
		}
		if event, ok := aux[id]; ok {
			queue = append(queue, event.AuthEvents...)
		}
	}
	return len(mainline) + 1
}

func sortByMainline(eventIDs []string, mainline map[string]int, aux map[string]*pdu.PDU) {
	sort.Slice(eventIDs, func(i, j int) bool {
		pi := mainlinePosition(eventIDs[i], mainline, aux)
		pj := mainlinePosition(eventIDs[j], mainline, aux)
		if pi != pj {
			return pi < pj
		}
		return lessByTimestampThenID(aux[eventIDs[i]], aux[eventIDs[j]])
	})
}

func buildResult(accum stateengine.StateMap, inputs map[uint64]stateengine.StateMap) *Result {
	for groupID, state := range inputs {
		if accum.Equal(state) {
			gid := groupID
			return &Result{State: accum, StateGroup: &gid}
		}
	}

	var bestGroup uint64
	bestOverlap := -1
	for groupID, state := range inputs {
		overlap := 0
		for slot, id := range state {
			if accum[slot] == id {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestGroup = groupID
		}
	}

	base := inputs[bestGroup]
	delta := stateengine.StateMap{}
	for slot, id := range accum {
		if base[slot] != id {
			delta[slot] = id
		}
	}
	for slot := range base {
		if _, ok := accum[slot]; !ok {
			delta[slot] = ""
		}
	}

	gid := bestGroup
	return &Result{State: accum, PrevGroup: &gid, DeltaIDs: delta}
}
