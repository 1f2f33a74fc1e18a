package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validRules() RoomRules {
	return RoomRules{MaxPlayers: 4, AllowRelay: true, LatencyTargetMs: 100, OpusBitrate: 64000}
}

func TestNewRoom(t *testing.T) {
	room, err := NewRoom("r1", "u1", validRules())
	assert.NoError(t, err)
	assert.True(t, room.Active)
	assert.Equal(t, []PeerID{"u1"}, room.Members)
	assert.True(t, room.IsOwner("u1"))

	events := room.PullDomainEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, EventRoomCreated, events[0].Name)
	assert.Equal(t, RoomID("r1"), events[0].Fields["roomId"])
}

func TestNewRoom_InvalidRules(t *testing.T) {
	cases := []RoomRules{
		{MaxPlayers: 0},
		{MaxPlayers: 2, LatencyTargetMs: -1},
		{MaxPlayers: 2, OpusBitrate: -5},
	}
	for _, rules := range cases {
		_, err := NewRoom("r1", "u1", rules)
		assert.ErrorIs(t, err, ErrInvalidRoomRules)
	}
}

func TestRoom_Join(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	room.PullDomainEvents()

	assert.NoError(t, room.Join("u2"))
	assert.True(t, room.HasPlayer("u2"))

	events := room.PullDomainEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, EventPlayerJoined, events[0].Name)
	assert.Equal(t, PeerID("u2"), events[0].Fields["peerId"])
}

func TestRoom_Join_Duplicate(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.ErrorIs(t, room.Join("u1"), ErrAlreadyJoined)
}

func TestRoom_Join_Full(t *testing.T) {
	rules := validRules()
	rules.MaxPlayers = 2
	room, _ := NewRoom("r1", "u1", rules)
	assert.NoError(t, room.Join("u2"))
	assert.ErrorIs(t, room.Join("u3"), ErrRoomFull)
	assert.Len(t, room.Members, 2)
}

func TestRoom_Join_Inactive(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.NoError(t, room.Close())
	assert.ErrorIs(t, room.Join("u2"), ErrRoomInactive)
}

func TestRoom_Leave(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.NoError(t, room.Join("u2"))
	room.PullDomainEvents()

	assert.NoError(t, room.Leave("u2"))
	assert.False(t, room.HasPlayer("u2"))
	assert.True(t, room.Active)

	events := room.PullDomainEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, EventPlayerLeft, events[0].Name)
}

func TestRoom_Leave_NotAMember(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.ErrorIs(t, room.Leave("ghost"), ErrNotAMember)
}

func TestRoom_LastLeaveClosesRoom(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	room.PullDomainEvents()

	assert.NoError(t, room.Leave("u1"))
	assert.False(t, room.Active)
	assert.Empty(t, room.Members)

	events := room.PullDomainEvents()
	assert.Len(t, events, 2)
	assert.Equal(t, EventPlayerLeft, events[0].Name)
	assert.Equal(t, EventRoomClosed, events[1].Name)
}

func TestRoom_OwnerMayLeave_OwnerIdentityKept(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.NoError(t, room.Join("u2"))

	assert.NoError(t, room.Leave("u1"))
	assert.True(t, room.Active)
	assert.Equal(t, PeerID("u1"), room.OwnerID)
	assert.False(t, room.HasPlayer("u1"))
}

func TestRoom_UpdateRules(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	room.PullDomainEvents()

	rules := validRules()
	rules.OpusBitrate = 96000
	assert.NoError(t, room.UpdateRules(rules))
	assert.Equal(t, 96000, room.Rules.OpusBitrate)

	events := room.PullDomainEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, EventRoomRuleChanged, events[0].Name)
}

func TestRoom_UpdateRules_ShrinkBelowMemberCountAllowed(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.NoError(t, room.Join("u2"))
	assert.NoError(t, room.Join("u3"))

	rules := validRules()
	rules.MaxPlayers = 2
	assert.NoError(t, room.UpdateRules(rules))
	assert.Len(t, room.Members, 3)

	// Only future joins are restricted.
	assert.ErrorIs(t, room.Join("u4"), ErrRoomFull)
}

func TestRoom_UpdateRules_Closed(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.NoError(t, room.Close())
	assert.ErrorIs(t, room.UpdateRules(validRules()), ErrRoomInactive)
}

func TestRoom_Close_Twice(t *testing.T) {
	room, _ := NewRoom("r1", "u1", validRules())
	assert.NoError(t, room.Close())
	assert.ErrorIs(t, room.Close(), ErrAlreadyClosed)
}

func TestRoom_MemberInvariant(t *testing.T) {
	rules := validRules()
	rules.MaxPlayers = 3
	room, _ := NewRoom("r1", "u1", rules)

	for _, p := range []PeerID{"u2", "u3", "u4", "u5"} {
		room.Join(p)
	}
	assert.LessOrEqual(t, len(room.Members), room.Rules.MaxPlayers)
}
