package postgres

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// Chain selectors and nonces use the full uint64 range, so they are stored as NUMERIC(20,0)
// and travel as decimal strings.
func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseUint(column, v string) (uint64, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", column, v, err)
	}
	return n, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

type messageRow struct {
	Seq              int64        `db:"seq"`
	ID               string       `db:"id"`
	SourceChain      string       `db:"source_chain"`
	DestinationChain string       `db:"destination_chain"`
	Sender           string       `db:"sender"`
	Nonce            string       `db:"nonce"`
	Payload          []byte       `db:"payload"`
	SourceTxHash     []byte       `db:"source_tx_hash"`
	State            string       `db:"state"`
	FailureReason    string       `db:"failure_reason"`
	SubmittedAt      time.Time    `db:"submitted_at"`
	AttestingSince   sql.NullTime `db:"attesting_since"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

const messageColumns = `seq, id, source_chain, destination_chain, sender, nonce, payload, source_tx_hash,
	state, failure_reason, submitted_at, attesting_since, updated_at`

func (r *messageRow) toModel() (*protocol.CrossChainMessage, error) {
	source, err := parseUint("source_chain", r.SourceChain)
	if err != nil {
		return nil, err
	}
	dest, err := parseUint("destination_chain", r.DestinationChain)
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint("nonce", r.Nonce)
	if err != nil {
		return nil, err
	}
	if len(r.SourceTxHash) != len(protocol.Bytes32{}) {
		return nil, fmt.Errorf("message %s has a %d byte source tx hash", r.ID, len(r.SourceTxHash))
	}

	msg := &protocol.CrossChainMessage{
		ID:               protocol.MessageID(r.ID),
		SourceChain:      protocol.ChainSelector(source),
		DestinationChain: protocol.ChainSelector(dest),
		Payload:          protocol.ByteSlice(r.Payload),
		Nonce:            protocol.Nonce(nonce),
		Sender:           r.Sender,
		Sequence:         uint64(r.Seq), //nolint:gosec // BIGSERIAL is always positive
		SubmittedAt:      r.SubmittedAt,
		State:            protocol.MessageState(r.State),
		FailureReason:    protocol.FailureReason(r.FailureReason),
		UpdatedAt:        r.UpdatedAt,
	}
	copy(msg.SourceTxHash[:], r.SourceTxHash)
	if r.AttestingSince.Valid {
		since := r.AttestingSince.Time
		msg.AttestingSince = &since
	}
	return msg, nil
}

type attestationRow struct {
	MessageID   string    `db:"message_id"`
	ValidatorID string    `db:"validator_id"`
	Signature   []byte    `db:"signature"`
	ObservedAt  time.Time `db:"observed_at"`
	Correction  bool      `db:"correction"`
}

func (r *attestationRow) toModel() *protocol.Attestation {
	return &protocol.Attestation{
		MessageID:   protocol.MessageID(r.MessageID),
		ValidatorID: protocol.ValidatorID(r.ValidatorID),
		Signature:   protocol.ByteSlice(r.Signature),
		ObservedAt:  r.ObservedAt,
		Correction:  r.Correction,
	}
}

type batchRow struct {
	Seq               int64          `db:"seq"`
	Root              []byte         `db:"root"`
	CreatedAt         time.Time      `db:"created_at"`
	AnchorTxID        sql.NullString `db:"anchor_tx_id"`
	AnchorBlockHeight sql.NullInt64  `db:"anchor_block_height"`
	AnchoredAt        sql.NullTime   `db:"anchored_at"`
	ConfirmedAt       sql.NullTime   `db:"confirmed_at"`
}

const batchColumns = `seq, root, created_at, anchor_tx_id, anchor_block_height, anchored_at, confirmed_at`

type receiptRow struct {
	BatchSeq          int64  `db:"batch_seq"`
	Position          int    `db:"position"`
	ReceiptID         string `db:"receipt_id"`
	DataHash          []byte `db:"data_hash"`
	TimestampUnixNano int64  `db:"timestamp_unix_nano"`
}

func (r *batchRow) toModel(receipts []receiptRow) *protocol.MerkleBatch {
	b := &protocol.MerkleBatch{
		Sequence:  uint64(r.Seq), //nolint:gosec // BIGSERIAL is always positive
		CreatedAt: r.CreatedAt,
		Receipts:  make([]protocol.Receipt, 0, len(receipts)),
	}
	copy(b.Root[:], r.Root)
	if r.AnchorTxID.Valid {
		b.AnchorTxID = r.AnchorTxID.String
	}
	if r.AnchorBlockHeight.Valid {
		height := uint64(r.AnchorBlockHeight.Int64) //nolint:gosec // block heights are stored from uint64
		b.AnchorBlockHeight = &height
	}
	if r.AnchoredAt.Valid {
		at := r.AnchoredAt.Time
		b.AnchoredAt = &at
	}
	if r.ConfirmedAt.Valid {
		at := r.ConfirmedAt.Time
		b.ConfirmedAt = &at
	}
	for _, rr := range receipts {
		receipt := protocol.Receipt{
			ID:        rr.ReceiptID,
			Timestamp: time.Unix(0, rr.TimestampUnixNano).UTC(),
		}
		copy(receipt.DataHash[:], rr.DataHash)
		b.Receipts = append(b.Receipts, receipt)
	}
	return b
}
