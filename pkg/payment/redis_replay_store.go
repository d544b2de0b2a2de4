package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

const (
	// DefaultReplayKeyPrefix is the default Redis key prefix for consumed payment references.
	DefaultReplayKeyPrefix = "payment-replay"
	// DefaultPendingTTL bounds how long a crashed verification can hold a reservation.
	DefaultPendingTTL = 2 * time.Minute

	valuePending   = "pending"
	valueCommitted = "committed"
)

// releaseScript deletes the key only while it still holds a reservation, so a release can never
// erase a committed reference.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisReplayStore implements ReplayStore on Redis so every coordinator replica shares one replay set.
type RedisReplayStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	pendingTTL time.Duration
}

var _ ReplayStore = (*RedisReplayStore)(nil)

func NewRedisReplayStore(client redis.UniversalClient, keyPrefix string, pendingTTL time.Duration) *RedisReplayStore {
	if keyPrefix == "" {
		keyPrefix = DefaultReplayKeyPrefix
	}
	if pendingTTL == 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &RedisReplayStore{
		client:     client,
		keyPrefix:  keyPrefix,
		pendingTTL: pendingTTL,
	}
}

func (s *RedisReplayStore) Reserve(ctx context.Context, ref string) error {
	key := s.buildKey(ref)
	ok, err := s.client.SetNX(ctx, key, valuePending, s.pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to reserve payment reference %s: %w", protocol.ErrIndeterminate, ref, err)
	}
	if ok {
		return nil
	}

	state, err := s.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// The reservation expired between SETNX and GET.
		return fmt.Errorf("%w: %s", protocol.ErrPaymentInFlight, ref)
	case err != nil:
		return fmt.Errorf("%w: failed to read payment reference %s: %w", protocol.ErrIndeterminate, ref, err)
	case state == valueCommitted:
		return fmt.Errorf("%w: %s", protocol.ErrPaymentReplay, ref)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrPaymentInFlight, ref)
	}
}

func (s *RedisReplayStore) Commit(ctx context.Context, ref string) error {
	if err := s.client.Set(ctx, s.buildKey(ref), valueCommitted, 0).Err(); err != nil {
		return fmt.Errorf("failed to commit payment reference %s: %w", ref, err)
	}
	return nil
}

func (s *RedisReplayStore) Release(ctx context.Context, ref string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.buildKey(ref)}, valuePending).Err(); err != nil {
		return fmt.Errorf("failed to release payment reference %s: %w", ref, err)
	}
	return nil
}

// buildKey creates the Redis key of a payment reference.
// Format: <prefix>:<ref>.
func (s *RedisReplayStore) buildKey(ref string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, ref)
}
