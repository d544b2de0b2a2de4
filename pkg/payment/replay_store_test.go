package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/testutil"
)

func runReplayStoreTests(t *testing.T, store ReplayStore) {
	ctx := context.Background()

	require.NoError(t, store.Reserve(ctx, "0xaaa"))
	require.ErrorIs(t, store.Reserve(ctx, "0xaaa"), protocol.ErrPaymentInFlight)
	require.True(t, protocol.IsRetryable(store.Reserve(ctx, "0xaaa")))

	require.NoError(t, store.Release(ctx, "0xaaa"))
	require.NoError(t, store.Reserve(ctx, "0xaaa"), "released references can be reserved again")

	require.NoError(t, store.Commit(ctx, "0xaaa"))
	require.ErrorIs(t, store.Reserve(ctx, "0xaaa"), protocol.ErrPaymentReplay)

	require.NoError(t, store.Release(ctx, "0xaaa"))
	require.ErrorIs(t, store.Reserve(ctx, "0xaaa"), protocol.ErrPaymentReplay, "release never erases a committed reference")

	require.NoError(t, store.Reserve(ctx, "0xbbb"), "references are independent")
}

func TestInMemoryReplayStore(t *testing.T) {
	runReplayStoreTests(t, NewInMemoryReplayStore(time.Minute, nil))
}

func TestInMemoryReplayStore_PendingReservationExpires(t *testing.T) {
	clock := common.NewMockTimeProvider(time.Unix(1700000000, 0))
	store := NewInMemoryReplayStore(time.Minute, clock)
	ctx := context.Background()

	require.NoError(t, store.Reserve(ctx, "0xaaa"))
	clock.AdvanceTime(59 * time.Second)
	require.ErrorIs(t, store.Reserve(ctx, "0xaaa"), protocol.ErrPaymentInFlight)
	clock.AdvanceTime(time.Second)
	require.NoError(t, store.Reserve(ctx, "0xaaa"))
}

func TestRedisReplayStore(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	runReplayStoreTests(t, NewRedisReplayStore(client, "test-replay", time.Minute))

	ttl, err := client.TTL(context.Background(), "test-replay:0xbbb").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0), "reservations expire")

	ttl, err = client.TTL(context.Background(), "test-replay:0xaaa").Result()
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), ttl, "committed references never expire")
}

func TestNewReplayStore(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := NewReplayStore(ctx, model.ReplayStoreConfig{Type: model.ReplayStoreTypeMemory, PendingTTL: time.Minute}, nil)
	require.NoError(t, err)
	require.IsType(t, &InMemoryReplayStore{}, store)
	require.NoError(t, closeFn())

	_, _, err = NewReplayStore(ctx, model.ReplayStoreConfig{Type: model.ReplayStoreTypeRedis}, nil)
	require.Error(t, err)

	_, _, err = NewReplayStore(ctx, model.ReplayStoreConfig{Type: "etcd"}, nil)
	require.Error(t, err)
}
