package eventstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicRoomsListsOnlyRoomsWithPublicJoinRule(t *testing.T) {
	h := newHarness(t)

	publicCreate := h.build(t, "!pub:a", "@alice:a", "m.room.create", strPtr(""), `{"room_version":"6"}`, nil, 1)
	require.NoError(t, h.store.Append(publicCreate, h.fetch))
	publicJoinRules := h.build(t, "!pub:a", "@alice:a", "m.room.join_rules", strPtr(""), `{"join_rule":"public"}`, []string{publicCreate.EventID}, 2)
	require.NoError(t, h.store.Append(publicJoinRules, h.fetch))

	privateCreate := h.build(t, "!priv:a", "@alice:a", "m.room.create", strPtr(""), `{"room_version":"6"}`, nil, 1)
	require.NoError(t, h.store.Append(privateCreate, h.fetch))
	privateJoinRules := h.build(t, "!priv:a", "@alice:a", "m.room.join_rules", strPtr(""), `{"join_rule":"invite"}`, []string{privateCreate.EventID}, 2)
	require.NoError(t, h.store.Append(privateJoinRules, h.fetch))

	rooms, err := h.store.PublicRooms()
	require.NoError(t, err)
	assert.Equal(t, []string{"!pub:a"}, rooms)
}

func TestPublicRoomsReflectsJoinRuleChanges(t *testing.T) {
	h := newHarness(t)

	create := h.build(t, "!r:a", "@alice:a", "m.room.create", strPtr(""), `{"room_version":"6"}`, nil, 1)
	require.NoError(t, h.store.Append(create, h.fetch))
	invite := h.build(t, "!r:a", "@alice:a", "m.room.join_rules", strPtr(""), `{"join_rule":"invite"}`, []string{create.EventID}, 2)
	require.NoError(t, h.store.Append(invite, h.fetch))

	rooms, err := h.store.PublicRooms()
	require.NoError(t, err)
	assert.Empty(t, rooms)

	public := h.build(t, "!r:a", "@alice:a", "m.room.join_rules", strPtr(""), `{"join_rule":"public"}`, []string{invite.EventID}, 3)
	require.NoError(t, h.store.Append(public, h.fetch))

	rooms, err = h.store.PublicRooms()
	require.NoError(t, err)
	assert.Equal(t, []string{"!r:a"}, rooms)
}
