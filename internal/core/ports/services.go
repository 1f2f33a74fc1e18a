package ports

import (
	"context"
	"encoding/json"

	"jamlink/internal/core/domain"
)

// RoomService exposes the room lifecycle use-cases.
type RoomService interface {
	CreateRoom(ctx context.Context, ownerID domain.PeerID, rules domain.RoomRules) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	JoinRoom(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (*domain.Room, error)
	LeaveRoom(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (*domain.Room, error)
	UpdateRules(ctx context.Context, roomID domain.RoomID, ownerID domain.PeerID, rules domain.RoomRules) (*domain.Room, error)
	CloseRoom(ctx context.Context, roomID domain.RoomID, ownerID domain.PeerID) error
}

// SignalBatch is one coalesced drain group for a directed pair: last-wins
// offer/answer payloads plus every accumulated candidate. Payloads are opaque
// to the broker.
type SignalBatch struct {
	Offer      json.RawMessage
	Answer     json.RawMessage
	Candidates []json.RawMessage
}

// ConnectionStats partitions tracked pairs by state.
type ConnectionStats struct {
	ByState map[domain.ConnectionState]int
	Total   int
}

// ReconnectNotifier is the gateway hook invoked when a pair needs the remote
// side told to reconnect.
type ReconnectNotifier func(roomID domain.RoomID, local, remote domain.PeerID)

// ConnectionService tracks pairwise connection health, drives reconnection,
// reaps stale pairs and gates the websocket relay fallback.
type ConnectionService interface {
	UpdateConnectionState(ctx context.Context, peerID domain.PeerID, state domain.ConnectionState) error
	ProcessSignalBatch(ctx context.Context, roomID domain.RoomID, from, to domain.PeerID, batch SignalBatch) error

	SetFallbackMode(ctx context.Context, roomID domain.RoomID, local, remote domain.PeerID, mode domain.FallbackMode) error
	IsUsingFallback(local, remote domain.PeerID) bool
	FallbackConnectionCount() int

	RoomConnectionCount(roomID domain.RoomID) int
	ConnectionStats() ConnectionStats

	SetReconnectNotifier(notify ReconnectNotifier)
	Start(ctx context.Context)
	Stop()
}
