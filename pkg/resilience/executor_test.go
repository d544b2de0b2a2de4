package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/internal/mocks"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

func testCallConfig() model.ExternalCallConfig {
	return model.ExternalCallConfig{
		Timeout:        200 * time.Millisecond,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxConcurrent:  4,
		MaxWait:        10 * time.Millisecond,
	}
}

func newTestExecutor(t *testing.T, name string, mutate ...func(*model.ExternalCallConfig)) *Executor {
	cfg := testCallConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return NewExecutor(name, cfg, logger.Sugared(logger.Test(t)))
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	exec := newTestExecutor(t, "retry-test")
	var calls atomic.Int32

	got, err := Do(context.Background(), exec, "op", func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, float64(1), promtestutil.ToFloat64(PromExternalCallsTotal.WithLabelValues("retry-test", "op", "success")))
}

func TestDo_ExhaustedRetriesAreIndeterminate(t *testing.T) {
	exec := newTestExecutor(t, "exhausted-test")
	var calls atomic.Int32

	_, err := Do(context.Background(), exec, "op", func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("502 bad gateway")
	})
	require.ErrorIs(t, err, protocol.ErrIndeterminate)
	require.ErrorContains(t, err, "502 bad gateway")
	require.Equal(t, int32(3), calls.Load())
}

func TestDo_PermanentErrorsAreNotRetried(t *testing.T) {
	exec := newTestExecutor(t, "permanent-test")
	rejected := errors.New("422 unprocessable")

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "marked permanent", err: Permanent(rejected), wantErr: rejected},
		{name: "tx not found", err: protocol.ErrTxNotFound, wantErr: protocol.ErrTxNotFound},
		{name: "invalid input", err: protocol.ErrInvalidInput, wantErr: protocol.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			_, err := Do(context.Background(), exec, "op", func(context.Context) (int, error) {
				calls.Add(1)
				return 0, tt.err
			})
			require.ErrorIs(t, err, tt.wantErr)
			require.False(t, protocol.IsRetryable(err))
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	exec := newTestExecutor(t, "timeout-test", func(c *model.ExternalCallConfig) {
		c.Timeout = 20 * time.Millisecond
		c.MaxRetries = 1
	})
	var calls atomic.Int32

	_, err := Do(context.Background(), exec, "op", func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, errors.New("rpc did not answer")
	})
	require.ErrorIs(t, err, protocol.ErrIndeterminate)
	require.True(t, protocol.IsRetryable(err))
	require.Equal(t, int32(2), calls.Load())
}

func TestDo_BulkheadFullIsBusy(t *testing.T) {
	exec := newTestExecutor(t, "bulkhead-test", func(c *model.ExternalCallConfig) {
		c.MaxConcurrent = 1
		c.MaxWait = 0
		c.Timeout = 5 * time.Second
	})
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Do(context.Background(), exec, "op", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	_, err := Do(context.Background(), exec, "op", func(context.Context) (int, error) {
		return 2, nil
	})
	require.ErrorIs(t, err, protocol.ErrBusy)
	require.True(t, protocol.IsRetryable(err))

	close(release)
	require.NoError(t, <-done)
}

func TestDo_CallerCancellation(t *testing.T) {
	exec := newTestExecutor(t, "cancel-test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, exec, "op", func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, protocol.ErrIndeterminate)
}

func TestAnchorService_SubmitIsNotRetried(t *testing.T) {
	delegate := mocks.NewMockAnchorService(t)
	anchor := NewAnchorService(delegate, newTestExecutor(t, "anchor"))
	root := protocol.Bytes32{1}

	delegate.EXPECT().SubmitAnchor(mock.Anything, root).Return("", errors.New("503 service unavailable")).Once()
	_, err := anchor.SubmitAnchor(context.Background(), root)
	require.ErrorIs(t, err, protocol.ErrIndeterminate)

	delegate.EXPECT().GetConfirmation(mock.Anything, "0xabc").Return(nil, errors.New("503 service unavailable")).Once()
	delegate.EXPECT().GetConfirmation(mock.Anything, "0xabc").Return(&protocol.AnchorConfirmation{BlockHeight: 7}, nil).Once()
	conf, err := anchor.GetConfirmation(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, uint64(7), conf.BlockHeight)
}

func TestChainLookup_NotFoundPassesThrough(t *testing.T) {
	delegate := mocks.NewMockChainLookup(t)
	lookup := NewChainLookup(delegate, newTestExecutor(t, "chain"))
	ref := protocol.Bytes32{2}

	delegate.EXPECT().Lookup(mock.Anything, protocol.ChainSelector(1), ref).Return(nil, protocol.ErrTxNotFound).Once()
	_, err := lookup.Lookup(context.Background(), 1, ref)
	require.ErrorIs(t, err, protocol.ErrTxNotFound)
	require.False(t, protocol.IsIndeterminate(err))
}

func TestValidatorSetSource_Retries(t *testing.T) {
	delegate := mocks.NewMockValidatorSetSource(t)
	source := NewValidatorSetSource(delegate, newTestExecutor(t, "validators"))

	delegate.EXPECT().CurrentValidators(mock.Anything).Return(nil, errors.New("timeout")).Once()
	delegate.EXPECT().CurrentValidators(mock.Anything).Return([]protocol.ValidatorID{"v1", "v2"}, nil).Once()
	got, err := source.CurrentValidators(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
}
