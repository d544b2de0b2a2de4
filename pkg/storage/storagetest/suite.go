// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// Factory returns a fresh, empty storage.
type Factory func(t *testing.T) common.CoordinatorStorage

func newMessage(nonce uint64) *protocol.CrossChainMessage {
	return &protocol.CrossChainMessage{
		SourceChain:      11155111,
		DestinationChain: 84532,
		Payload:          protocol.ByteSlice(fmt.Sprintf("payload-%d", nonce)),
		Nonce:            protocol.Nonce(nonce),
		Sender:           "0x00000000000000000000000000000000000000aa",
		SourceTxHash:     protocol.Keccak256([]byte(fmt.Sprintf("tx-%d", nonce))),
	}
}

func newBatch(tag string, n int) *protocol.MerkleBatch {
	receipts := make([]protocol.Receipt, n)
	for i := range receipts {
		receipts[i] = protocol.Receipt{
			ID:        fmt.Sprintf("%s-%d", tag, i),
			DataHash:  protocol.Keccak256([]byte(fmt.Sprintf("%s-%d", tag, i))),
			Timestamp: time.Unix(1700000000+int64(i), 0).UTC(),
		}
	}
	return &protocol.MerkleBatch{
		Root:      protocol.Keccak256([]byte(tag)),
		Receipts:  receipts,
		CreatedAt: time.Unix(1700000100, 0).UTC(),
	}
}

// Run executes the shared storage behaviour tests against the backend produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("submit assigns id, sequence and pending state", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		id, err := s.SubmitMessage(ctx, newMessage(1))
		require.NoError(t, err)
		require.NotEmpty(t, id)

		msg, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		require.Equal(t, protocol.MessageStatePending, msg.State)
		require.Equal(t, protocol.ByteSlice("payload-1"), msg.Payload)
		require.NotZero(t, msg.Sequence)
		require.Nil(t, msg.AttestingSince)
	})

	t.Run("duplicate triple is rejected and original unaffected", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		id, err := s.SubmitMessage(ctx, newMessage(1))
		require.NoError(t, err)

		dup := newMessage(1)
		dup.Payload = protocol.ByteSlice("different")
		_, err = s.SubmitMessage(ctx, dup)
		require.ErrorIs(t, err, protocol.ErrDuplicateSubmission)

		msg, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		require.Equal(t, protocol.ByteSlice("payload-1"), msg.Payload)

		other := newMessage(1)
		other.Sender = "0x00000000000000000000000000000000000000bb"
		_, err = s.SubmitMessage(ctx, other)
		require.NoError(t, err, "same nonce from a different sender is a different triple")
	})

	t.Run("concurrent duplicate submissions admit exactly one", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := 0
		for range 10 {
			wg.Go(func() {
				if _, err := s.SubmitMessage(ctx, newMessage(7)); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		require.Equal(t, 1, accepted)
	})

	t.Run("unknown message", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetMessage(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, protocol.ErrUnknownEntity)
	})

	t.Run("list pending keeps submission order and drops terminal", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		now := time.Now()

		ids := make([]protocol.MessageID, 0, 4)
		for _, nonce := range []uint64{9, 3, 5, 1} {
			id, err := s.SubmitMessage(ctx, newMessage(nonce))
			require.NoError(t, err)
			ids = append(ids, id)
		}

		_, err := s.TransitionMessage(ctx, ids[1], protocol.MessageStateAttesting, protocol.FailureReasonNone, now)
		require.NoError(t, err)
		_, err = s.TransitionMessage(ctx, ids[1], protocol.MessageStateVerified, protocol.FailureReasonNone, now)
		require.NoError(t, err)

		pending, err := s.ListPendingMessages(ctx)
		require.NoError(t, err)
		got := make([]protocol.MessageID, 0, len(pending))
		for _, m := range pending {
			got = append(got, m.ID)
		}
		require.Equal(t, []protocol.MessageID{ids[0], ids[2], ids[3]}, got)
	})

	t.Run("transitions follow the state machine", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		id, err := s.SubmitMessage(ctx, newMessage(1))
		require.NoError(t, err)

		_, err = s.TransitionMessage(ctx, id, protocol.MessageStateVerified, protocol.FailureReasonNone, now)
		require.ErrorIs(t, err, protocol.ErrInvalidTransition)

		msg, err := s.TransitionMessage(ctx, id, protocol.MessageStateAttesting, protocol.FailureReasonNone, now)
		require.NoError(t, err)
		require.Equal(t, protocol.MessageStateAttesting, msg.State)
		require.NotNil(t, msg.AttestingSince)
		require.True(t, now.Equal(*msg.AttestingSince))

		msg, err = s.TransitionMessage(ctx, id, protocol.MessageStateFailed, protocol.FailureReasonAttestationTimeout, now)
		require.NoError(t, err)
		require.Equal(t, protocol.FailureReasonAttestationTimeout, msg.FailureReason)

		for _, to := range []protocol.MessageState{protocol.MessageStatePending, protocol.MessageStateAttesting, protocol.MessageStateVerified, protocol.MessageStateFailed} {
			_, err = s.TransitionMessage(ctx, id, to, protocol.FailureReasonNone, now)
			require.ErrorIs(t, err, protocol.ErrInvalidTransition)
		}

		_, err = s.TransitionMessage(ctx, "00000000-0000-0000-0000-000000000000", protocol.MessageStateAttesting, protocol.FailureReasonNone, now)
		require.ErrorIs(t, err, protocol.ErrUnknownEntity)
	})

	t.Run("attestations are unique per validator unless replaced", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		id, err := s.SubmitMessage(ctx, newMessage(1))
		require.NoError(t, err)

		att := &protocol.Attestation{MessageID: id, ValidatorID: "v2", Signature: protocol.ByteSlice{0x01}, ObservedAt: time.Unix(10, 0).UTC()}
		require.NoError(t, s.SaveAttestation(ctx, att, false))
		require.NoError(t, s.SaveAttestation(ctx, &protocol.Attestation{MessageID: id, ValidatorID: "v1", Signature: protocol.ByteSlice{0x02}, ObservedAt: time.Unix(11, 0).UTC()}, false))

		err = s.SaveAttestation(ctx, &protocol.Attestation{MessageID: id, ValidatorID: "v2", Signature: protocol.ByteSlice{0x03}, ObservedAt: time.Unix(12, 0).UTC()}, false)
		require.ErrorIs(t, err, protocol.ErrDuplicateAttestation)

		list, err := s.ListAttestations(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, protocol.ValidatorID("v1"), list[0].ValidatorID)
		require.Equal(t, protocol.ByteSlice{0x01}, list[1].Signature)

		require.NoError(t, s.SaveAttestation(ctx, &protocol.Attestation{MessageID: id, ValidatorID: "v2", Signature: protocol.ByteSlice{0x03}, ObservedAt: time.Unix(12, 0).UTC(), Correction: true}, true))
		list, err = s.ListAttestations(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, protocol.ByteSlice{0x03}, list[1].Signature)
	})

	t.Run("batches round trip and anchor once per root", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		first := newBatch("a", 3)
		seq, err := s.SaveBatch(ctx, first)
		require.NoError(t, err)
		second := newBatch("b", 1)
		seq2, err := s.SaveBatch(ctx, second)
		require.NoError(t, err)
		require.Greater(t, seq2, seq)

		got, err := s.GetBatch(ctx, seq)
		require.NoError(t, err)
		require.Equal(t, first.Root, got.Root)
		require.Len(t, got.Receipts, 3)
		for i := range got.Receipts {
			require.Equal(t, first.Receipts[i].ID, got.Receipts[i].ID)
			require.Equal(t, first.Receipts[i].DataHash, got.Receipts[i].DataHash)
			require.True(t, first.Receipts[i].Timestamp.Equal(got.Receipts[i].Timestamp))
		}
		require.Equal(t, protocol.AnchorStatusSealed, got.AnchorStatus())

		latest, err := s.LatestUnanchoredBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, seq2, latest.Sequence)

		unanchored, err := s.ListUnanchoredBatches(ctx)
		require.NoError(t, err)
		require.Len(t, unanchored, 2)
		require.Equal(t, seq, unanchored[0].Sequence)
		require.Equal(t, seq2, unanchored[1].Sequence)

		txID, err := s.RecordAnchor(ctx, first.Root, "0xanchor1", now)
		require.NoError(t, err)
		require.Equal(t, "0xanchor1", txID)
		txID, err = s.RecordAnchor(ctx, first.Root, "0xanchor2", now)
		require.NoError(t, err)
		require.Equal(t, "0xanchor1", txID, "the first anchor reference wins")

		unanchored, err = s.ListUnanchoredBatches(ctx)
		require.NoError(t, err)
		require.Len(t, unanchored, 1)
		require.Equal(t, seq2, unanchored[0].Sequence)

		unconfirmed, err := s.ListUnconfirmedBatches(ctx)
		require.NoError(t, err)
		require.Len(t, unconfirmed, 1)
		require.Equal(t, first.Root, unconfirmed[0].Root)

		require.NoError(t, s.RecordConfirmation(ctx, first.Root, 1234, now))
		byRoot, err := s.GetBatchByRoot(ctx, first.Root)
		require.NoError(t, err)
		require.Equal(t, protocol.AnchorStatusConfirmed, byRoot.AnchorStatus())
		require.Equal(t, uint64(1234), *byRoot.AnchorBlockHeight)

		unconfirmed, err = s.ListUnconfirmedBatches(ctx)
		require.NoError(t, err)
		require.Empty(t, unconfirmed)

		require.Error(t, s.RecordConfirmation(ctx, second.Root, 1, now), "cannot confirm without an anchor")

		_, err = s.GetBatch(ctx, 9999)
		require.ErrorIs(t, err, protocol.ErrUnknownEntity)
		_, err = s.GetBatchByRoot(ctx, protocol.Keccak256([]byte("nope")))
		require.ErrorIs(t, err, protocol.ErrUnknownEntity)
		_, err = s.RecordAnchor(ctx, protocol.Keccak256([]byte("nope")), "0x", now)
		require.ErrorIs(t, err, protocol.ErrUnknownEntity)
	})

	t.Run("health", func(t *testing.T) {
		s := factory(t)
		h := s.HealthCheck(context.Background())
		require.Equal(t, common.HealthStatusHealthy, h.Status)
	})
}
