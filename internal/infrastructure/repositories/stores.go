package repositories

import (
	"context"
	"time"

	"jamlink/internal/core/ports"
	"jamlink/internal/infrastructure/repositories/memory"
	redisrepo "jamlink/internal/infrastructure/repositories/redis"
	"jamlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the broker's two persistence concerns, which have different
// durability needs. Rooms are long-lived admission state worth sharing across
// gateway instances, so they go to Redis when it is available. Pairwise
// connection records churn fast — the health tracker rewrites them on every
// state tick and reaps them within minutes — so they stay in process memory
// unless redis.persist_connections explicitly opts them in.
type Stores struct {
	Rooms       ports.RoomRepository
	Connections ports.ConnectionRepository

	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// Open selects repository backends from the configuration. An unreachable
// Redis is downgraded to memory with a warning rather than failing startup;
// the broker can sign peers with local state alone.
func Open(cfg *config.Config, logger *zap.SugaredLogger) *Stores {
	s := &Stores{logger: logger}

	if !cfg.Redis.Enabled {
		s.useMemory("redis disabled")
		return s
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		// Room lookups sit on the join path; a slow read here stalls
		// admissions, so keep the budget tight.
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		logger.Warnw("redis unreachable, falling back to memory repositories",
			"address", cfg.Redis.Address,
			"error", err,
		)
		s.useMemory("redis unreachable")
		return s
	}

	s.redisClient = client
	s.Rooms = redisrepo.NewRedisRoomRepository(client)
	if cfg.Redis.PersistConnections {
		s.Connections = redisrepo.NewRedisConnectionRepository(client)
	} else {
		s.Connections = memory.NewMemoryConnectionRepository()
	}

	logger.Infow("using redis room repository",
		"address", cfg.Redis.Address,
		"db", cfg.Redis.DB,
		"persist_connections", cfg.Redis.PersistConnections,
	)
	return s
}

func (s *Stores) useMemory(reason string) {
	s.Rooms = memory.NewMemoryRoomRepository()
	s.Connections = memory.NewMemoryConnectionRepository()
	s.logger.Infow("using memory repositories", "reason", reason)
}

// Ping reports backend health; memory-backed stores are always healthy.
func (s *Stores) Ping(ctx context.Context) error {
	if s.redisClient != nil {
		return s.redisClient.Ping(ctx).Err()
	}
	return nil
}

// Close releases the Redis connection if one was opened.
func (s *Stores) Close() error {
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}
