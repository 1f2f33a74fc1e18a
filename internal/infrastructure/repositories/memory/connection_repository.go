package memory

import (
	"context"
	"sync"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/ports"
)

type MemoryConnectionRepository struct {
	conns map[domain.ConnectionID]*domain.PeerConnection
	mu    sync.RWMutex
}

func NewMemoryConnectionRepository() ports.ConnectionRepository {
	return &MemoryConnectionRepository{
		conns: make(map[domain.ConnectionID]*domain.PeerConnection),
	}
}

func (r *MemoryConnectionRepository) FindByID(ctx context.Context, id domain.ConnectionID) (*domain.PeerConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[id]
	if !exists {
		return nil, domain.ErrConnectionNotFound
	}
	return copyConnection(conn), nil
}

func (r *MemoryConnectionRepository) FindByRoomID(ctx context.Context, roomID domain.RoomID) ([]*domain.PeerConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.PeerConnection
	for _, conn := range r.conns {
		if conn.RoomID == roomID {
			matched = append(matched, copyConnection(conn))
		}
	}
	return matched, nil
}

// FindByPeerID matches the peer as either endpoint of the directed pair.
func (r *MemoryConnectionRepository) FindByPeerID(ctx context.Context, peerID domain.PeerID) ([]*domain.PeerConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.PeerConnection
	for _, conn := range r.conns {
		if conn.LocalPeer == peerID || conn.RemotePeer == peerID {
			matched = append(matched, copyConnection(conn))
		}
	}
	return matched, nil
}

func (r *MemoryConnectionRepository) Save(ctx context.Context, conn *domain.PeerConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = copyConnection(conn)
	return nil
}

func (r *MemoryConnectionRepository) Delete(ctx context.Context, id domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; !exists {
		return domain.ErrConnectionNotFound
	}
	delete(r.conns, id)
	return nil
}

func copyConnection(conn *domain.PeerConnection) *domain.PeerConnection {
	clone := *conn
	clone.PullDomainEvents()
	return &clone
}
