package payment

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
)

// NewReplayStore creates the replay store selected by the configuration. The returned close
// function releases the Redis connection pool, if any.
func NewReplayStore(ctx context.Context, config model.ReplayStoreConfig, timeProvider common.TimeProvider) (ReplayStore, func() error, error) {
	switch config.Type {
	case model.ReplayStoreTypeMemory, "":
		return NewInMemoryReplayStore(config.PendingTTL, timeProvider), func() error { return nil }, nil

	case model.ReplayStoreTypeRedis:
		if config.Address == "" {
			return nil, nil, fmt.Errorf("redis address is required when using redis replay store")
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Address,
			Password: config.Password,
			DB:       config.DB,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
		}

		return NewRedisReplayStore(redisClient, config.KeyPrefix, config.PendingTTL), redisClient.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported replay store type: %s (supported: memory, redis)", config.Type)
	}
}
