package anchoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/internal/mocks"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/merkle"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/monitoring"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/storage/memory"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type captureSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (c *captureSink) Publish(evt protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) ofType(t protocol.EventType) []protocol.BatchAnchorChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.BatchAnchorChange
	for _, evt := range c.events {
		if evt.Type == t {
			out = append(out, evt.Data.(protocol.BatchAnchorChange))
		}
	}
	return out
}

// flakyStore fails SaveBatch while failSaves is set.
type flakyStore struct {
	*memory.InMemoryStorage
	failSaves atomic.Bool
}

func (f *flakyStore) SaveBatch(ctx context.Context, batch *protocol.MerkleBatch) (uint64, error) {
	if f.failSaves.Load() {
		return 0, errors.New("connection reset by peer")
	}
	return f.InMemoryStorage.SaveBatch(ctx, batch)
}

type fixture struct {
	svc   *Service
	store *flakyStore
	clock *common.MockTimeProvider
	sink  *captureSink
}

func newFixture(t *testing.T, anchor protocol.AnchorService, mutate ...func(cfg *model.AnchoringConfig)) *fixture {
	t.Helper()
	clock := common.NewMockTimeProvider(time.Unix(1700000000, 0).UTC())
	store := &flakyStore{InMemoryStorage: memory.NewInMemoryStorageWithTimeProvider(clock)}
	sink := &captureSink{}

	cfg := model.AnchoringConfig{
		ConfirmationPollInterval: time.Hour,
		ConfirmationConcurrency:  2,
		AnchorQueueSize:          8,
		RootCacheSize:            16,
		RootCacheTTL:             time.Hour,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := NewService(Params{
		Config:       cfg,
		Store:        store,
		Anchor:       anchor,
		Events:       sink,
		Monitoring:   monitoring.NewNoopCoordinatorMonitoring(),
		TimeProvider: clock,
		Logger:       logger.Sugared(logger.Named(logger.Test(t), "AnchoringService")),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, clock: clock, sink: sink}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Close() })
}

func (f *fixture) appendN(t *testing.T, tag string, n int) []protocol.Receipt {
	t.Helper()
	out := make([]protocol.Receipt, 0, n)
	for i := range n {
		r, err := f.svc.Append(context.Background(), protocol.Receipt{
			ID:       fmt.Sprintf("%s-%d", tag, i),
			DataHash: protocol.Keccak256([]byte(fmt.Sprintf("%s-%d", tag, i))),
		})
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func storedBatch(t *testing.T, store common.BatchStore, tag string) *protocol.MerkleBatch {
	t.Helper()
	receipts := []protocol.Receipt{{ID: tag, DataHash: protocol.Keccak256([]byte(tag)), Timestamp: time.Unix(1700000000, 0).UTC()}}
	root, err := merkle.ReceiptRoot(receipts)
	require.NoError(t, err)
	batch := &protocol.MerkleBatch{Root: root, Receipts: receipts, CreatedAt: time.Unix(1700000000, 0).UTC()}
	seq, err := store.SaveBatch(context.Background(), batch)
	require.NoError(t, err)
	batch.Sequence = seq
	return batch
}

func TestAppend(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	_, err := f.svc.Append(context.Background(), protocol.Receipt{ID: "r1"})
	require.ErrorIs(t, err, protocol.ErrInvalidInput)

	r, err := f.svc.Append(context.Background(), protocol.Receipt{DataHash: protocol.Keccak256([]byte("state"))})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	require.True(t, f.clock.Now().Equal(r.Timestamp))
}

func TestAppend_NotRunning(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Append(context.Background(), protocol.Receipt{DataHash: protocol.Keccak256([]byte("state"))})
	require.Error(t, err)
}

func TestBatchNow_SealsReceiptsInAppendOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	receipts := f.appendN(t, "r", 5)
	batch, err := f.svc.BatchNow(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), batch.Sequence)
	require.Equal(t, receipts, batch.Receipts)

	expected, err := merkle.ReceiptRoot(receipts)
	require.NoError(t, err)
	require.Equal(t, expected, batch.Root)
	require.Equal(t, protocol.AnchorStatusSealed, batch.AnchorStatus())

	stored, err := f.svc.GetBatchByRoot(ctx, batch.Root)
	require.NoError(t, err)
	require.Equal(t, batch.Sequence, stored.Sequence)

	sealed := f.sink.ofType(protocol.EventTypeBatchSealed)
	require.Len(t, sealed, 1)
	require.Equal(t, 5, sealed[0].Receipts)

	_, err = f.svc.BatchNow(ctx)
	require.ErrorIs(t, err, protocol.ErrEmptyBatch)

	scheduled, err := f.svc.ScheduledBatch(ctx)
	require.NoError(t, err)
	require.Nil(t, scheduled)

	next := f.appendN(t, "s", 1)
	batch, err = f.svc.ScheduledBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), batch.Sequence)
	require.Equal(t, next, batch.Receipts)
}

func TestBatchNow_ConcurrentClosesHaveOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.appendN(t, "r", 10)

	var wg sync.WaitGroup
	var won, empty atomic.Int32
	for range 8 {
		wg.Go(func() {
			batch, err := f.svc.BatchNow(context.Background())
			switch {
			case err == nil:
				require.Len(t, batch.Receipts, 10)
				won.Add(1)
			case errors.Is(err, protocol.ErrEmptyBatch):
				empty.Add(1)
			}
		})
	}
	wg.Wait()
	require.Equal(t, int32(1), won.Load())
	require.Equal(t, int32(7), empty.Load())
}

func TestMaxBatchSize_SealsWithoutExplicitClose(t *testing.T) {
	f := newFixture(t, nil, func(cfg *model.AnchoringConfig) { cfg.MaxBatchSize = 3 })
	f.start(t)
	f.appendN(t, "r", 4)

	require.Eventually(t, func() bool {
		b, err := f.store.GetBatch(context.Background(), 1)
		return err == nil && len(b.Receipts) == 3
	}, 5*time.Second, 10*time.Millisecond)

	batch, err := f.svc.BatchNow(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Receipts, 1)
	require.Equal(t, "r-3", batch.Receipts[0].ID)
}

func TestClose_SealsRemainingReceipts(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Start(context.Background()))
	f.appendN(t, "r", 2)
	require.NoError(t, f.svc.Close())

	batch, err := f.store.GetBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, batch.Receipts, 2)
}

func TestSeal_FailedPersistCarriesReceipts(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	first := f.appendN(t, "a", 2)
	f.store.failSaves.Store(true)
	_, err := f.svc.BatchNow(ctx)
	require.Error(t, err)
	require.Equal(t, common.HealthStatusDegraded, f.svc.HealthCheck(ctx).Status)

	f.store.failSaves.Store(false)
	second := f.appendN(t, "b", 1)
	batch, err := f.svc.BatchNow(ctx)
	require.NoError(t, err)
	require.Equal(t, append(first, second...), batch.Receipts)
	require.Equal(t, common.HealthStatusHealthy, f.svc.HealthCheck(ctx).Status)
}

func TestSubmitAnchor_IdempotentPerRoot(t *testing.T) {
	anchor := mocks.NewMockAnchorService(t)
	f := newFixture(t, anchor)
	ctx := context.Background()
	batch := storedBatch(t, f.store, "a")

	anchor.EXPECT().SubmitAnchor(mock.Anything, batch.Root).
		RunAndReturn(func(context.Context, protocol.Bytes32) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return "0xanchor1", nil
		}).Once()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			txID, err := f.svc.SubmitAnchor(ctx, batch.Root)
			require.NoError(t, err)
			require.Equal(t, "0xanchor1", txID)
		})
	}
	wg.Wait()

	got, err := f.svc.GetBatch(ctx, batch.Sequence)
	require.NoError(t, err)
	require.Equal(t, "0xanchor1", got.AnchorTxID)
	require.Equal(t, protocol.AnchorStatusSubmitted, got.AnchorStatus())
	require.Len(t, f.sink.ofType(protocol.EventTypeBatchAnchored), 1)

	// A fresh service with an empty root cache still finds the stored anchor.
	restarted, err := NewService(Params{
		Store:      f.store,
		Anchor:     anchor,
		Monitoring: monitoring.NewNoopCoordinatorMonitoring(),
		Logger:     logger.Sugared(logger.Test(t)),
	})
	require.NoError(t, err)
	txID, err := restarted.SubmitAnchor(ctx, batch.Root)
	require.NoError(t, err)
	require.Equal(t, "0xanchor1", txID)
}

func TestSubmitAnchor_IndeterminateIsNotRecorded(t *testing.T) {
	anchor := mocks.NewMockAnchorService(t)
	f := newFixture(t, anchor)
	ctx := context.Background()
	batch := storedBatch(t, f.store, "a")

	anchor.EXPECT().SubmitAnchor(mock.Anything, batch.Root).Return("", protocol.ErrIndeterminate).Once()
	_, err := f.svc.SubmitAnchor(ctx, batch.Root)
	require.ErrorIs(t, err, protocol.ErrAnchorIndeterminate)
	require.True(t, protocol.IsRetryable(err))

	got, err := f.svc.GetBatch(ctx, batch.Sequence)
	require.NoError(t, err)
	require.Equal(t, protocol.AnchorStatusSealed, got.AnchorStatus())

	anchor.EXPECT().SubmitAnchor(mock.Anything, batch.Root).Return("0xanchor2", nil).Once()
	txID, err := f.svc.SubmitAnchor(ctx, batch.Root)
	require.NoError(t, err)
	require.Equal(t, "0xanchor2", txID)
}

func TestSubmitAnchor_UnknownRoot(t *testing.T) {
	f := newFixture(t, mocks.NewMockAnchorService(t))
	_, err := f.svc.SubmitAnchor(context.Background(), protocol.Keccak256([]byte("nope")))
	require.ErrorIs(t, err, protocol.ErrUnknownEntity)
}

func TestAnchoring_NotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	_, err := f.svc.SubmitAnchor(ctx, protocol.Keccak256([]byte("a")))
	require.ErrorIs(t, err, protocol.ErrNotConfigured)
	_, err = f.svc.FastAnchor(ctx)
	require.ErrorIs(t, err, protocol.ErrNotConfigured)
	require.ErrorIs(t, f.svc.PollConfirmations(ctx), protocol.ErrNotConfigured)
}

func TestFastAnchor_ClosesAndAnchorsInline(t *testing.T) {
	anchor := mocks.NewMockAnchorService(t)
	var calls atomic.Int32
	anchor.EXPECT().SubmitAnchor(mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, root protocol.Bytes32) (string, error) {
			calls.Add(1)
			return "0x" + root.String()[2:10], nil
		}).Maybe()

	f := newFixture(t, anchor)
	f.start(t)
	ctx := context.Background()

	receipts := f.appendN(t, "r", 3)
	batch, err := f.svc.FastAnchor(ctx)
	require.NoError(t, err)
	require.Equal(t, receipts, batch.Receipts)
	require.NotEmpty(t, batch.AnchorTxID)
	require.Equal(t, protocol.AnchorStatusSubmitted, batch.AnchorStatus(), "submitted is never reported as final")

	require.NoError(t, f.svc.Close())
	require.Equal(t, int32(1), calls.Load(), "the async worker must not anchor the same root again")
}

func TestFastAnchor_EmptyOpenBatchAnchorsLatestUnanchored(t *testing.T) {
	anchor := mocks.NewMockAnchorService(t)
	f := newFixture(t, anchor)
	ctx := context.Background()
	older := storedBatch(t, f.store, "older")
	latest := storedBatch(t, f.store, "latest")

	anchor.EXPECT().SubmitAnchor(mock.Anything, mock.Anything).Return("0xanchor", nil).Maybe()
	f.start(t)

	batch, err := f.svc.FastAnchor(ctx)
	require.NoError(t, err)
	require.Equal(t, latest.Root, batch.Root)
	require.Equal(t, "0xanchor", batch.AnchorTxID)

	batch, err = f.svc.FastAnchor(ctx)
	require.NoError(t, err)
	require.Equal(t, older.Root, batch.Root)

	_, err = f.svc.FastAnchor(ctx)
	require.ErrorIs(t, err, protocol.ErrEmptyBatch)
}

func TestPollConfirmations(t *testing.T) {
	anchor := mocks.NewMockAnchorService(t)
	f := newFixture(t, anchor)
	ctx := context.Background()
	batch := storedBatch(t, f.store, "a")
	_, err := f.store.RecordAnchor(ctx, batch.Root, "0xanchor", f.clock.Now())
	require.NoError(t, err)

	anchor.EXPECT().GetConfirmation(mock.Anything, "0xanchor").Return(&protocol.AnchorConfirmation{Pending: true}, nil).Once()
	require.NoError(t, f.svc.PollConfirmations(ctx))
	got, err := f.svc.GetBatch(ctx, batch.Sequence)
	require.NoError(t, err)
	require.Equal(t, protocol.AnchorStatusSubmitted, got.AnchorStatus())

	anchor.EXPECT().GetConfirmation(mock.Anything, "0xanchor").Return(nil, protocol.ErrIndeterminate).Once()
	require.ErrorIs(t, f.svc.PollConfirmations(ctx), protocol.ErrIndeterminate)

	f.clock.AdvanceTime(time.Minute)
	anchor.EXPECT().GetConfirmation(mock.Anything, "0xanchor").Return(&protocol.AnchorConfirmation{BlockHeight: 42}, nil).Once()
	require.NoError(t, f.svc.PollConfirmations(ctx))

	got, err = f.svc.GetBatch(ctx, batch.Sequence)
	require.NoError(t, err)
	require.Equal(t, protocol.AnchorStatusConfirmed, got.AnchorStatus())
	require.Equal(t, uint64(42), *got.AnchorBlockHeight)

	confirmed := f.sink.ofType(protocol.EventTypeBatchConfirmed)
	require.Len(t, confirmed, 1)
	require.Equal(t, protocol.AnchorStatusConfirmed, confirmed[0].Status)

	require.NoError(t, f.svc.PollConfirmations(ctx), "nothing left to confirm")
}

func TestVerifyBatchAndInclusionProof(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	receipts := f.appendN(t, "r", 5)
	batch, err := f.svc.BatchNow(ctx)
	require.NoError(t, err)

	result, err := f.svc.VerifyBatch(ctx, batch.Sequence)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, batch.Root, result.ComputedRoot)

	for _, r := range receipts {
		proof, err := f.svc.InclusionProof(ctx, batch.Sequence, r.ID)
		require.NoError(t, err)
		require.Equal(t, r, proof.Receipt)
		require.True(t, merkle.Verify(r.Hash(), proof.Proof, proof.Root))
	}

	_, err = f.svc.InclusionProof(ctx, batch.Sequence, "missing")
	require.ErrorIs(t, err, protocol.ErrUnknownEntity)
	_, err = f.svc.VerifyBatch(ctx, 99)
	require.ErrorIs(t, err, protocol.ErrUnknownEntity)

	forged := storedBatch(t, f.store, "forged")
	forged.Root = protocol.Keccak256([]byte("not the root"))
	seq, err := f.store.SaveBatch(ctx, forged)
	require.NoError(t, err)
	result, err = f.svc.VerifyBatch(ctx, seq)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestService_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.Equal(t, common.HealthStatusUnhealthy, f.svc.HealthCheck(ctx).Status)
	require.NoError(t, f.svc.Start(ctx))
	require.NoError(t, f.svc.HealthReport()[f.svc.Name()])
	require.Equal(t, common.HealthStatusHealthy, f.svc.HealthCheck(ctx).Status)
	require.NoError(t, f.svc.Close())
	require.Error(t, f.svc.Close())
}
