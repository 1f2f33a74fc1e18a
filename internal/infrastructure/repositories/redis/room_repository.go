package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		prefix: "jamlink:room:",
	}
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return r.prefix + string(id)
}

func (r *RedisRoomRepository) ownerKey(ownerID domain.PeerID) string {
	return fmt.Sprintf("jamlink:owner:%s:rooms", ownerID)
}

const activeRoomsKey = "jamlink:rooms:active"

func (r *RedisRoomRepository) FindByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrUnknownRoom
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) FindByOwnerID(ctx context.Context, ownerID domain.PeerID) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, r.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get owner rooms from Redis: %w", err)
	}

	var rooms []*domain.Room
	for _, id := range ids {
		room, err := r.FindByID(ctx, domain.RoomID(id))
		if err == nil {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (r *RedisRoomRepository) FindActive(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active rooms from Redis: %w", err)
	}

	var rooms []*domain.Room
	for _, id := range ids {
		room, err := r.FindByID(ctx, domain.RoomID(id))
		if err == nil && room.Active {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (r *RedisRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.roomKey(room.ID), data, 0)
	pipe.SAdd(ctx, r.ownerKey(room.OwnerID), string(room.ID))
	if room.Active {
		pipe.SAdd(ctx, activeRoomsKey, string(room.ID))
	} else {
		pipe.SRem(ctx, activeRoomsKey, string(room.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save room in Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	room, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.roomKey(id))
	pipe.SRem(ctx, r.ownerKey(room.OwnerID), string(id))
	pipe.SRem(ctx, activeRoomsKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete room in Redis: %w", err)
	}
	return nil
}
