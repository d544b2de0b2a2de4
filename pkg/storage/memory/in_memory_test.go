package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/storage/storagetest"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func TestInMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) common.CoordinatorStorage {
		return NewInMemoryStorage()
	})
}

func TestInMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewInMemoryStorageWithTimeProvider(common.NewMockTimeProvider(time.Unix(100, 0)))
	ctx := context.Background()

	id, err := s.SubmitMessage(ctx, &protocol.CrossChainMessage{SourceChain: 1, Sender: "a", Nonce: 1, Payload: protocol.ByteSlice{0x01}})
	require.NoError(t, err)

	msg, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, time.Unix(100, 0), msg.SubmittedAt)
	msg.State = protocol.MessageStateVerified
	msg.Payload[0] = 0xff

	again, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageStatePending, again.State)
	require.Equal(t, byte(0x01), again.Payload[0])
}

func TestInMemoryStorage_SequenceIsMonotonic(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	var last uint64
	for nonce := range 5 {
		id, err := s.SubmitMessage(ctx, &protocol.CrossChainMessage{SourceChain: 1, Sender: "a", Nonce: protocol.Nonce(nonce)})
		require.NoError(t, err)
		msg, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		require.Greater(t, msg.Sequence, last)
		last = msg.Sequence
	}
}
