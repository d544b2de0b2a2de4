package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func TestWithRequestID_IsStable(t *testing.T) {
	ctx := WithRequestID(context.Background())
	id := RequestID(ctx)
	require.NotEmpty(t, id)
	require.Equal(t, id, RequestID(WithRequestID(ctx)))
	require.Empty(t, RequestID(context.Background()))
}

func TestWithGivenRequestID(t *testing.T) {
	require.Equal(t, "req-42", RequestID(WithGivenRequestID(context.Background(), "req-42")))
	require.NotEmpty(t, RequestID(WithGivenRequestID(context.Background(), "")))
}

func TestAugmentLogger_AddsScopeFields(t *testing.T) {
	lggr, observed := logger.TestObserved(t, zapcore.InfoLevel)

	ctx := context.Background()
	ctx = WithRequestID(ctx)
	ctx = WithMessageID(ctx, "m-1")
	ctx = WithValidatorID(ctx, "v-1")
	ctx = WithBatchRoot(ctx, protocol.Keccak256([]byte("root")))
	ctx = WithResourceID(ctx, "receipt-proof")

	AugmentLogger(ctx, logger.Sugared(lggr)).Infow("scoped")

	entries := observed.FilterMessage("scoped").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "m-1", fields["message-id"])
	require.Equal(t, "v-1", fields["validator-id"])
	require.Equal(t, "receipt-proof", fields["resource-id"])
	require.Equal(t, RequestID(ctx), fields["request-id"])
	require.Contains(t, fields, "batch")
}

func TestAugmentLogger_EmptyContext(t *testing.T) {
	lggr, observed := logger.TestObserved(t, zapcore.InfoLevel)
	AugmentLogger(context.Background(), logger.Sugared(lggr)).Infow("plain")
	fields := observed.FilterMessage("plain").All()[0].ContextMap()
	for _, key := range contextKeys {
		require.NotContains(t, fields, string(key))
	}
}
