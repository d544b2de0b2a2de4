package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/storage/storagetest"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/testutil"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

func setupStorage(t *testing.T) *DatabaseStorage {
	t.Helper()
	db, cleanup := testutil.SetupTestPostgresDB(t)
	t.Cleanup(cleanup)
	require.NoError(t, RunMigrations(db))
	return NewDatabaseStorage(db, logger.Sugared(logger.Test(t)))
}

func TestDatabaseStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) common.CoordinatorStorage {
		return setupStorage(t)
	})
}

func TestDatabaseStorage_FullRangeChainSelectors(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	msg := &protocol.CrossChainMessage{
		SourceChain:      16015286601757825753,
		DestinationChain: 18446744073709551615,
		Payload:          protocol.ByteSlice{},
		Nonce:            protocol.Nonce(1 << 63),
		Sender:           "0x00000000000000000000000000000000000000aa",
		SourceTxHash:     protocol.Keccak256([]byte("tx")),
	}
	id, err := s.SubmitMessage(ctx, msg)
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, msg.SourceChain, got.SourceChain)
	require.Equal(t, msg.DestinationChain, got.DestinationChain)
	require.Equal(t, msg.Nonce, got.Nonce)
	require.Equal(t, msg.SourceTxHash, got.SourceTxHash)
	require.Empty(t, got.Payload)
}

func TestDatabaseStorage_AttestationForUnknownMessage(t *testing.T) {
	s := setupStorage(t)

	err := s.SaveAttestation(context.Background(), &protocol.Attestation{
		MessageID:   "00000000-0000-0000-0000-000000000000",
		ValidatorID: "v1",
		Signature:   protocol.ByteSlice{0x01},
	}, false)
	require.ErrorIs(t, err, protocol.ErrUnknownEntity)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, cleanup := testutil.SetupTestPostgresDB(t)
	t.Cleanup(cleanup)

	require.NoError(t, RunMigrations(db))
	require.NoError(t, RunMigrations(db))
}
