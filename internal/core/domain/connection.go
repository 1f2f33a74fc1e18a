package domain

import (
	"time"
)

// ConnectionID is the composite key of a directed pair. (A,B) and (B,A) are
// distinct aggregates.
type ConnectionID string

// NewConnectionID builds the composite key for a directed pair.
func NewConnectionID(local, remote PeerID) ConnectionID {
	return ConnectionID(string(local) + ":" + string(remote))
}

// ConnectionState is the pairwise connection state reported by clients.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
)

// ValidConnectionState reports whether s is one of the known states.
func ValidConnectionState(s ConnectionState) bool {
	switch s {
	case ConnectionNew, ConnectionConnecting, ConnectionConnected, ConnectionDisconnected, ConnectionFailed:
		return true
	}
	return false
}

// FallbackMode selects broker-mediated relay for a pair.
type FallbackMode string

const (
	FallbackNone      FallbackMode = "none"
	FallbackWebSocket FallbackMode = "websocket"
)

// staleConnectedThreshold is how long a pair may go without a connected update
// before a terminal transition also emits connection-timeout.
const staleConnectedThreshold = 30 * time.Second

// PeerConnection is the aggregate owning one directed pairwise signaling state.
type PeerConnection struct {
	ID              ConnectionID    `json:"id"`
	RoomID          RoomID          `json:"room_id"`
	LocalPeer       PeerID          `json:"local_peer"`
	RemotePeer      PeerID          `json:"remote_peer"`
	State           ConnectionState `json:"state"`
	StateChangedAt  time.Time       `json:"state_changed_at"`
	LastConnectedAt time.Time       `json:"last_connected_at"`
	ICECandidates   int             `json:"ice_candidates"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	recorder `json:"-"`
}

// NewPeerConnection creates a pairwise connection in state new.
func NewPeerConnection(roomID RoomID, local, remote PeerID) *PeerConnection {
	now := time.Now()
	return &PeerConnection{
		ID:             NewConnectionID(local, remote),
		RoomID:         roomID,
		LocalPeer:      local,
		RemotePeer:     remote,
		State:          ConnectionNew,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// UpdateConnectionState transitions to the new state. A same-state update is a
// no-op: no event, no timestamp change. Any transition emits exactly one
// connection-state-changed; entering disconnected/failed more than 30 s after
// the last connected moment also emits connection-timeout.
func (c *PeerConnection) UpdateConnectionState(state ConnectionState) {
	if state == c.State {
		return
	}

	previous := c.State
	now := time.Now()
	c.State = state
	c.StateChangedAt = now
	c.UpdatedAt = now
	if state == ConnectionConnected {
		c.LastConnectedAt = now
	}

	c.record(EventConnectionStateChanged, map[string]interface{}{
		"roomId":        c.RoomID,
		"peerId":        c.LocalPeer,
		"state":         state,
		"previousState": previous,
	})

	if (state == ConnectionDisconnected || state == ConnectionFailed) &&
		!c.LastConnectedAt.IsZero() && now.Sub(c.LastConnectedAt) > staleConnectedThreshold {
		c.record(EventConnectionTimeout, map[string]interface{}{
			"roomId":    c.RoomID,
			"peerId":    c.LocalPeer,
			"timeoutMs": staleConnectedThreshold.Milliseconds(),
		})
	}
}

// HandleIceCandidate accounts an observed candidate. Connection state is left
// untouched.
func (c *PeerConnection) HandleIceCandidate() {
	c.ICECandidates++
	c.UpdatedAt = time.Now()
	c.record(EventICECandidateReceived, map[string]interface{}{
		"roomId": c.RoomID,
		"from":   c.LocalPeer,
		"to":     c.RemotePeer,
	})
}

// HandleOffer forces the pair into connecting and emits offer-received.
func (c *PeerConnection) HandleOffer() {
	c.UpdateConnectionState(ConnectionConnecting)
	c.record(EventOfferReceived, map[string]interface{}{
		"roomId": c.RoomID,
		"from":   c.LocalPeer,
		"to":     c.RemotePeer,
	})
}

// HandleAnswer forces the pair into connected and emits answer-received.
func (c *PeerConnection) HandleAnswer() {
	c.UpdateConnectionState(ConnectionConnected)
	c.record(EventAnswerReceived, map[string]interface{}{
		"roomId": c.RoomID,
		"from":   c.LocalPeer,
		"to":     c.RemotePeer,
	})
}
