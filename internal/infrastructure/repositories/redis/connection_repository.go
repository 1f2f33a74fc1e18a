package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisConnectionRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisConnectionRepository(client *redis.Client) ports.ConnectionRepository {
	return &RedisConnectionRepository{
		client: client,
		prefix: "jamlink:conn:",
	}
}

func (r *RedisConnectionRepository) connKey(id domain.ConnectionID) string {
	return r.prefix + string(id)
}

func (r *RedisConnectionRepository) roomConnsKey(roomID domain.RoomID) string {
	return fmt.Sprintf("jamlink:room:%s:conns", roomID)
}

func (r *RedisConnectionRepository) peerConnsKey(peerID domain.PeerID) string {
	return fmt.Sprintf("jamlink:peer:%s:conns", peerID)
}

func (r *RedisConnectionRepository) FindByID(ctx context.Context, id domain.ConnectionID) (*domain.PeerConnection, error) {
	data, err := r.client.Get(ctx, r.connKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection from Redis: %w", err)
	}

	var conn domain.PeerConnection
	if err := json.Unmarshal([]byte(data), &conn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return &conn, nil
}

func (r *RedisConnectionRepository) FindByRoomID(ctx context.Context, roomID domain.RoomID) ([]*domain.PeerConnection, error) {
	return r.findBySet(ctx, r.roomConnsKey(roomID))
}

// FindByPeerID matches the peer as either endpoint; the peer index set holds
// both directions.
func (r *RedisConnectionRepository) FindByPeerID(ctx context.Context, peerID domain.PeerID) ([]*domain.PeerConnection, error) {
	return r.findBySet(ctx, r.peerConnsKey(peerID))
}

func (r *RedisConnectionRepository) findBySet(ctx context.Context, key string) ([]*domain.PeerConnection, error) {
	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection set from Redis: %w", err)
	}

	var conns []*domain.PeerConnection
	for _, id := range ids {
		conn, err := r.FindByID(ctx, domain.ConnectionID(id))
		if err == nil {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (r *RedisConnectionRepository) Save(ctx context.Context, conn *domain.PeerConnection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.connKey(conn.ID), data, 0)
	pipe.SAdd(ctx, r.roomConnsKey(conn.RoomID), string(conn.ID))
	pipe.SAdd(ctx, r.peerConnsKey(conn.LocalPeer), string(conn.ID))
	pipe.SAdd(ctx, r.peerConnsKey(conn.RemotePeer), string(conn.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save connection in Redis: %w", err)
	}
	return nil
}

func (r *RedisConnectionRepository) Delete(ctx context.Context, id domain.ConnectionID) error {
	conn, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.connKey(id))
	pipe.SRem(ctx, r.roomConnsKey(conn.RoomID), string(id))
	pipe.SRem(ctx, r.peerConnsKey(conn.LocalPeer), string(id))
	pipe.SRem(ctx, r.peerConnsKey(conn.RemotePeer), string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete connection in Redis: %w", err)
	}
	return nil
}
