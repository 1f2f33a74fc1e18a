package domain

import (
	"fmt"
	"time"
)

type RoomID string
type PeerID string

// RoomRules is the value object governing admission and media hints for a room.
type RoomRules struct {
	MaxPlayers      int  `json:"max_players"`
	AllowRelay      bool `json:"allow_relay"`
	LatencyTargetMs int  `json:"latency_target_ms"`
	OpusBitrate     int  `json:"opus_bitrate"`
}

// Validate checks rule bounds.
func (r RoomRules) Validate() error {
	if r.MaxPlayers < 1 {
		return fmt.Errorf("%w: max_players must be >= 1", ErrInvalidRoomRules)
	}
	if r.LatencyTargetMs < 0 {
		return fmt.Errorf("%w: latency_target_ms must be >= 0", ErrInvalidRoomRules)
	}
	if r.OpusBitrate < 0 {
		return fmt.Errorf("%w: opus_bitrate must be >= 0", ErrInvalidRoomRules)
	}
	return nil
}

// Room is the aggregate owning a room's membership and lifecycle. Members is
// owned by the aggregate; mutate it only through Join/Leave.
type Room struct {
	ID        RoomID    `json:"id"`
	OwnerID   PeerID    `json:"owner_id"`
	Rules     RoomRules `json:"rules"`
	Members   []PeerID  `json:"members"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	recorder `json:"-"`
}

// NewRoom creates an active room with the owner as sole member and emits
// room-created.
func NewRoom(id RoomID, ownerID PeerID, rules RoomRules) (*Room, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	room := &Room{
		ID:        id,
		OwnerID:   ownerID,
		Rules:     rules,
		Members:   []PeerID{ownerID},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	room.record(EventRoomCreated, map[string]interface{}{
		"roomId":  id,
		"ownerId": ownerID,
		"rules":   rules,
	})

	return room, nil
}

// Join adds a peer to the room.
func (r *Room) Join(peerID PeerID) error {
	if !r.Active {
		return ErrRoomInactive
	}
	if r.HasPlayer(peerID) {
		return ErrAlreadyJoined
	}
	if len(r.Members) >= r.Rules.MaxPlayers {
		return ErrRoomFull
	}

	r.Members = append(r.Members, peerID)
	r.touch()
	r.record(EventPlayerJoined, map[string]interface{}{
		"roomId": r.ID,
		"peerId": peerID,
	})
	return nil
}

// Leave removes a peer. Emptying the room closes it in the same operation,
// emitting player-left then room-closed.
func (r *Room) Leave(peerID PeerID) error {
	idx := -1
	for i, m := range r.Members {
		if m == peerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotAMember
	}

	r.Members = append(r.Members[:idx], r.Members[idx+1:]...)
	r.touch()
	r.record(EventPlayerLeft, map[string]interface{}{
		"roomId": r.ID,
		"peerId": peerID,
	})

	if len(r.Members) == 0 && r.Active {
		r.Active = false
		r.record(EventRoomClosed, map[string]interface{}{
			"roomId": r.ID,
		})
	}
	return nil
}

// UpdateRules replaces the rule set. A shrunk max_players is not enforced
// against current members; only future joins are restricted.
func (r *Room) UpdateRules(rules RoomRules) error {
	if !r.Active {
		return ErrRoomInactive
	}
	if err := rules.Validate(); err != nil {
		return err
	}

	r.Rules = rules
	r.touch()
	r.record(EventRoomRuleChanged, map[string]interface{}{
		"roomId": r.ID,
		"rules":  rules,
	})
	return nil
}

// Close deactivates the room.
func (r *Room) Close() error {
	if !r.Active {
		return ErrAlreadyClosed
	}

	r.Active = false
	r.touch()
	r.record(EventRoomClosed, map[string]interface{}{
		"roomId": r.ID,
	})
	return nil
}

// IsOwner reports whether the peer owns this room.
func (r *Room) IsOwner(peerID PeerID) bool {
	return r.OwnerID == peerID
}

// HasPlayer reports whether the peer is a member.
func (r *Room) HasPlayer(peerID PeerID) bool {
	for _, m := range r.Members {
		if m == peerID {
			return true
		}
	}
	return false
}

func (r *Room) touch() {
	r.UpdatedAt = time.Now()
}
