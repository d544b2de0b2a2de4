package protocol

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMerkleBatch_AnchorStatus(t *testing.T) {
	b := &MerkleBatch{}
	require.Equal(t, AnchorStatusSealed, b.AnchorStatus())

	b.AnchorTxID = "0xtx"
	require.Equal(t, AnchorStatusSubmitted, b.AnchorStatus())

	height := uint64(42)
	b.AnchorBlockHeight = &height
	require.Equal(t, AnchorStatusConfirmed, b.AnchorStatus())
}

func TestReceipt_HashDependsOnAllFields(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	r := Receipt{ID: "r1", DataHash: Keccak256([]byte("state")), Timestamp: ts}

	require.Equal(t, r.Hash(), r.Hash())
	require.NotEqual(t, r.Hash(), Receipt{ID: "r2", DataHash: r.DataHash, Timestamp: ts}.Hash())
	require.NotEqual(t, r.Hash(), Receipt{ID: "r1", DataHash: Keccak256([]byte("other")), Timestamp: ts}.Hash())
	require.NotEqual(t, r.Hash(), Receipt{ID: "r1", DataHash: r.DataHash, Timestamp: ts.Add(time.Nanosecond)}.Hash())
}

func TestMerkleBatch_ReceiptIndexAndClone(t *testing.T) {
	b := &MerkleBatch{Receipts: []Receipt{{ID: "a"}, {ID: "b"}}}
	require.Equal(t, 1, b.ReceiptIndex("b"))
	require.Equal(t, -1, b.ReceiptIndex("c"))

	c := b.Clone()
	c.Receipts[0].ID = "z"
	require.Equal(t, "a", b.Receipts[0].ID)
}

func TestPaymentOffer_AssetKeyAndExpiry(t *testing.T) {
	deadline := time.Unix(1000, 0)
	o := &PaymentOffer{ChainID: 8453, TokenAddress: "0xABCdef", Amount: big.NewInt(10), Deadline: deadline}

	require.Equal(t, "8453:0xabcdef", o.AssetKey())
	require.Equal(t, NewAssetKey(8453, "0xabcDEF"), o.AssetKey())
	require.False(t, o.IsExpired(deadline.Add(-time.Second)))
	require.True(t, o.IsExpired(deadline))
}

func TestErrorClassification(t *testing.T) {
	require.True(t, IsIndeterminate(ErrAnchorIndeterminate))
	require.True(t, IsRetryable(ErrBusy))
	require.False(t, IsRetryable(ErrPaymentReplay))
	require.False(t, IsIndeterminate(ErrTxNotFound))
}
