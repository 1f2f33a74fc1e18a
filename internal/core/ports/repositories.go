package ports

import (
	"context"

	"jamlink/internal/core/domain"
)

// RoomRepository persists room aggregates. Save is atomic per aggregate;
// callers may assume read-modify-write on a single room is serialized by the
// store.
type RoomRepository interface {
	FindByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	FindByOwnerID(ctx context.Context, ownerID domain.PeerID) ([]*domain.Room, error)
	FindActive(ctx context.Context) ([]*domain.Room, error)
	Save(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, id domain.RoomID) error
}

// ConnectionRepository persists pairwise peer-connection aggregates.
// FindByPeerID matches the peer in either direction of the pair.
type ConnectionRepository interface {
	FindByID(ctx context.Context, id domain.ConnectionID) (*domain.PeerConnection, error)
	FindByRoomID(ctx context.Context, roomID domain.RoomID) ([]*domain.PeerConnection, error)
	FindByPeerID(ctx context.Context, peerID domain.PeerID) ([]*domain.PeerConnection, error)
	Save(ctx context.Context, conn *domain.PeerConnection) error
	Delete(ctx context.Context, id domain.ConnectionID) error
}
