package resolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/stateengine"
)

func stateEvent(id, eventType, stateKey string, ts int64, authEvents ...string) *pdu.PDU {
	sk := stateKey
	return &pdu.PDU{
		EventID:        id,
		EventType:      eventType,
		StateKey:       &sk,
		OriginServerTS: ts,
		AuthEvents:     authEvents,
		Content:        json.RawMessage(`{}`),
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	result, err := Resolve(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.State)
}

func TestResolveSingleInputReturnedDirectly(t *testing.T) {
	state := stateengine.StateMap{{EventType: "m.room.create", StateKey: ""}: "$create"}
	result, err := Resolve(map[uint64]stateengine.StateMap{1: state}, nil)
	require.NoError(t, err)
	assert.Equal(t, state, result.State)
	require.NotNil(t, result.StateGroup)
	assert.Equal(t, uint64(1), *result.StateGroup)
}

func TestResolveUnconflictedSlotsPassThrough(t *testing.T) {
	create := stateEvent("$create", "m.room.create", "", 100)
	aux := map[string]*pdu.PDU{"$create": create}

	a := stateengine.StateMap{{EventType: "m.room.create", StateKey: ""}: "$create"}
	b := a.Clone()

	result, err := Resolve(map[uint64]stateengine.StateMap{1: a, 2: b}, aux)
	require.NoError(t, err)
	assert.Equal(t, "$create", result.State[stateengine.StateMapKey{EventType: "m.room.create", StateKey: ""}])
}

func TestResolveConflictedNonPowerEventsByTimestamp(t *testing.T) {
	join := stateEvent("$join", "m.room.member", "@alice:a", 50)
	nameFoo := stateEvent("$foo", "m.room.name", "", 1000, "$join")
	nameBar := stateEvent("$bar", "m.room.name", "", 1001, "$join")

	aux := map[string]*pdu.PDU{
		"$join": join,
		"$foo":  nameFoo,
		"$bar":  nameBar,
	}

	joinSlot := stateengine.StateMapKey{EventType: "m.room.member", StateKey: "@alice:a"}
	a := stateengine.StateMap{
		joinSlot: "$join",
		{EventType: "m.room.name", StateKey: ""}: "$foo",
	}
	b := stateengine.StateMap{
		joinSlot: "$join",
		{EventType: "m.room.name", StateKey: ""}: "$bar",
	}

	result, err := Resolve(map[uint64]stateengine.StateMap{1: a, 2: b}, aux)
	require.NoError(t, err)
	assert.Equal(t, "$bar", result.State[stateengine.StateMapKey{EventType: "m.room.name", StateKey: ""}], "higher timestamp wins tie-break")
}

func TestResolveMissingAuxiliaryEventFails(t *testing.T) {
	a := stateengine.StateMap{{EventType: "m.room.name", StateKey: ""}: "$foo"}
	b := stateengine.StateMap{{EventType: "m.room.name", StateKey: ""}: "$bar"}

	_, err := Resolve(map[uint64]stateengine.StateMap{1: a, 2: b}, map[string]*pdu.PDU{})
	assert.Error(t, err)
}

func TestBuildResultPicksLargestOverlapWhenNotEqual(t *testing.T) {
	slotA := stateengine.StateMapKey{EventType: "m.room.name", StateKey: ""}
	slotB := stateengine.StateMapKey{EventType: "m.room.topic", StateKey: ""}

	accum := stateengine.StateMap{slotA: "$x", slotB: "$y"}
	inputs := map[uint64]stateengine.StateMap{
		1: {slotA: "$x"},
		2: {slotA: "$other"},
	}

	result := buildResult(accum, inputs)
	require.Nil(t, result.StateGroup)
	require.NotNil(t, result.PrevGroup)
	assert.Equal(t, uint64(1), *result.PrevGroup)
}
