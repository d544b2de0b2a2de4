package protocol

import (
	"encoding/binary"
	"time"
)

// Receipt is a single unit of state to be anchored. Receipts are immutable once created.
type Receipt struct {
	ID        string    `json:"id"`
	DataHash  Bytes32   `json:"dataHash"`
	Timestamp time.Time `json:"timestamp"`
}

// Hash returns the leaf digest of the receipt used when computing a batch root.
func (r Receipt) Hash() Bytes32 {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.Timestamp.UnixNano())) //nolint:gosec // timestamps are after the epoch
	return Keccak256([]byte(r.ID), r.DataHash[:], ts[:])
}

// AnchorStatus describes how far a batch has progressed towards the external ledger.
type AnchorStatus string

const (
	// AnchorStatusSealed means the root is computed but no anchor transaction was recorded.
	AnchorStatusSealed AnchorStatus = "sealed"
	// AnchorStatusSubmitted means an anchor transaction exists but its block height is not yet confirmed.
	AnchorStatusSubmitted AnchorStatus = "submitted"
	// AnchorStatusConfirmed means the anchor transaction was included at a known block height.
	AnchorStatusConfirmed AnchorStatus = "confirmed"
)

// MerkleBatch is a closed, rooted sequence of receipts.
type MerkleBatch struct {
	Sequence          uint64     `json:"sequence"`
	Root              Bytes32    `json:"root"`
	Receipts          []Receipt  `json:"receipts"`
	CreatedAt         time.Time  `json:"createdAt"`
	AnchorTxID        string     `json:"anchorTxId,omitempty"`
	AnchorBlockHeight *uint64    `json:"anchorBlockHeight,omitempty"`
	AnchoredAt        *time.Time `json:"anchoredAt,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
}

// AnchorStatus reports the anchoring progress. A batch with a transaction id but no
// confirmed height is only submitted, never final.
func (b *MerkleBatch) AnchorStatus() AnchorStatus {
	switch {
	case b.AnchorTxID == "":
		return AnchorStatusSealed
	case b.AnchorBlockHeight == nil:
		return AnchorStatusSubmitted
	default:
		return AnchorStatusConfirmed
	}
}

// ReceiptIndex returns the position of the receipt with the given id, or -1.
func (b *MerkleBatch) ReceiptIndex(receiptID string) int {
	for i, r := range b.Receipts {
		if r.ID == receiptID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the batch.
func (b *MerkleBatch) Clone() *MerkleBatch {
	if b == nil {
		return nil
	}
	c := *b
	c.Receipts = append([]Receipt(nil), b.Receipts...)
	if b.AnchorBlockHeight != nil {
		h := *b.AnchorBlockHeight
		c.AnchorBlockHeight = &h
	}
	if b.AnchoredAt != nil {
		t := *b.AnchoredAt
		c.AnchoredAt = &t
	}
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}
