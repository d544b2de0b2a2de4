// Package postgres implements the coordinator storage on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/sqlutil"
)

const foreignKeyViolation = "23503"

var _ common.CoordinatorStorage = (*DatabaseStorage)(nil)

type DatabaseStorage struct {
	ds           sqlutil.DataSource
	lggr         logger.SugaredLogger
	timeProvider common.TimeProvider
}

func NewDatabaseStorage(ds sqlutil.DataSource, lggr logger.SugaredLogger) *DatabaseStorage {
	return &DatabaseStorage{
		ds:           ds,
		lggr:         lggr,
		timeProvider: common.NewRealTimeProvider(),
	}
}

func (d *DatabaseStorage) logger(ctx context.Context) logger.SugaredLogger {
	return scope.AugmentLogger(ctx, d.lggr)
}

func (d *DatabaseStorage) HealthCheck(ctx context.Context) *common.ComponentHealth {
	result := &common.ComponentHealth{
		Name:      "postgres_storage",
		Timestamp: d.timeProvider.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := d.ds.GetContext(ctx, &one, "SELECT 1"); err != nil {
		result.Status = common.HealthStatusUnhealthy
		result.Message = fmt.Sprintf("query failed: %v", err)
		return result
	}

	result.Status = common.HealthStatusHealthy
	result.Message = "connected and responsive"
	return result
}

func (d *DatabaseStorage) SubmitMessage(ctx context.Context, msg *protocol.CrossChainMessage) (protocol.MessageID, error) {
	if msg == nil {
		return "", fmt.Errorf("message cannot be nil")
	}

	id := msg.ID
	if id == "" {
		id = protocol.MessageID(uuid.NewString())
	}
	now := d.timeProvider.Now()

	stmt := `INSERT INTO cross_chain_messages
		(id, source_chain, destination_chain, sender, nonce, payload, source_tx_hash,
		 state, failure_reason, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $9)
		ON CONFLICT DO NOTHING
		RETURNING seq`

	var seq int64
	err := d.ds.GetContext(ctx, &seq, stmt,
		string(id),
		formatUint(uint64(msg.SourceChain)),
		formatUint(uint64(msg.DestinationChain)),
		msg.Sender,
		formatUint(uint64(msg.Nonce)),
		nonNil(msg.Payload),
		msg.SourceTxHash[:],
		string(protocol.MessageStatePending),
		now,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", protocol.ErrDuplicateSubmission, msg.ReplayKey())
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	d.logger(ctx).Debugw("Message stored", "messageID", id, "seq", seq)
	return id, nil
}

func (d *DatabaseStorage) GetMessage(ctx context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error) {
	var row messageRow
	err := d.ds.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM cross_chain_messages WHERE id = $1`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", protocol.ErrUnknownEntity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.toModel()
}

func (d *DatabaseStorage) ListPendingMessages(ctx context.Context) ([]*protocol.CrossChainMessage, error) {
	var rows []messageRow
	stmt := `SELECT ` + messageColumns + ` FROM cross_chain_messages
		WHERE state IN ('pending', 'attesting')
		ORDER BY seq`
	if err := d.ds.SelectContext(ctx, &rows, stmt); err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}

	out := make([]*protocol.CrossChainMessage, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (d *DatabaseStorage) TransitionMessage(ctx context.Context, id protocol.MessageID, to protocol.MessageState, reason protocol.FailureReason, at time.Time) (*protocol.CrossChainMessage, error) {
	var updated *protocol.CrossChainMessage
	err := sqlutil.TransactDataSource(ctx, d.ds, nil, func(tx sqlutil.DataSource) error {
		var current string
		err := tx.GetContext(ctx, &current, `SELECT state FROM cross_chain_messages WHERE id = $1 FOR UPDATE`, string(id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: message %s", protocol.ErrUnknownEntity, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock message: %w", err)
		}

		from := protocol.MessageState(current)
		if !protocol.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s for message %s", protocol.ErrInvalidTransition, from, to, id)
		}

		failureReason := protocol.FailureReasonNone
		if to == protocol.MessageStateFailed {
			failureReason = reason
		}

		stmt := `UPDATE cross_chain_messages
			SET state = $2,
				failure_reason = $3,
				updated_at = $4,
				attesting_since = CASE WHEN $2 = 'attesting' THEN $4 ELSE attesting_since END
			WHERE id = $1
			RETURNING ` + messageColumns

		var row messageRow
		if err := tx.GetContext(ctx, &row, stmt, string(id), string(to), string(failureReason), at); err != nil {
			return fmt.Errorf("failed to update message state: %w", err)
		}
		updated, err = row.toModel()
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *DatabaseStorage) SaveAttestation(ctx context.Context, att *protocol.Attestation, replace bool) error {
	if att == nil {
		return fmt.Errorf("attestation cannot be nil")
	}

	conflict := `DO NOTHING`
	if replace {
		conflict = `DO UPDATE SET signature = EXCLUDED.signature,
			observed_at = EXCLUDED.observed_at,
			correction = EXCLUDED.correction,
			recorded_at = NOW()`
	}
	stmt := `INSERT INTO attestations (message_id, validator_id, signature, observed_at, correction)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, validator_id) ` + conflict + `
		RETURNING validator_id`

	var validator string
	err := d.ds.GetContext(ctx, &validator, stmt,
		string(att.MessageID),
		string(att.ValidatorID),
		nonNil(att.Signature),
		att.ObservedAt,
		att.Correction,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: validator %s for message %s", protocol.ErrDuplicateAttestation, att.ValidatorID, att.MessageID)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: message %s", protocol.ErrUnknownEntity, att.MessageID)
	}
	if err != nil {
		return fmt.Errorf("failed to save attestation: %w", err)
	}
	return nil
}

func (d *DatabaseStorage) ListAttestations(ctx context.Context, id protocol.MessageID) ([]*protocol.Attestation, error) {
	var rows []attestationRow
	stmt := `SELECT message_id, validator_id, signature, observed_at, correction
		FROM attestations WHERE message_id = $1 ORDER BY validator_id`
	if err := d.ds.SelectContext(ctx, &rows, stmt, string(id)); err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}

	out := make([]*protocol.Attestation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (d *DatabaseStorage) SaveBatch(ctx context.Context, batch *protocol.MerkleBatch) (uint64, error) {
	if batch == nil {
		return 0, fmt.Errorf("batch cannot be nil")
	}

	var seq int64
	err := sqlutil.TransactDataSource(ctx, d.ds, nil, func(tx sqlutil.DataSource) error {
		stmt := `INSERT INTO merkle_batches (root, created_at) VALUES ($1, $2)
			ON CONFLICT (root) DO NOTHING
			RETURNING seq`
		err := tx.GetContext(ctx, &seq, stmt, batch.Root[:], batch.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("batch with root %s already stored", batch.Root)
		}
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		if len(batch.Receipts) == 0 {
			return nil
		}

		positions := make([]int64, len(batch.Receipts))
		ids := make([]string, len(batch.Receipts))
		hashes := make([][]byte, len(batch.Receipts))
		timestamps := make([]int64, len(batch.Receipts))
		for i, r := range batch.Receipts {
			positions[i] = int64(i)
			ids[i] = r.ID
			hashes[i] = r.DataHash[:]
			timestamps[i] = r.Timestamp.UnixNano()
		}

		receiptsStmt := `INSERT INTO batch_receipts (batch_seq, position, receipt_id, data_hash, timestamp_unix_nano)
			SELECT $1, r.position, r.receipt_id, r.data_hash, r.ts
			FROM unnest($2::integer[], $3::text[], $4::bytea[], $5::bigint[]) AS r(position, receipt_id, data_hash, ts)`
		if _, err := tx.ExecContext(ctx, receiptsStmt, seq,
			pq.Array(positions), pq.Array(ids), pq.Array(hashes), pq.Array(timestamps)); err != nil {
			return fmt.Errorf("failed to insert batch receipts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	d.logger(ctx).Infow("Batch stored", "seq", seq, "root", batch.Root.String(), "receipts", len(batch.Receipts))
	return uint64(seq), nil //nolint:gosec // BIGSERIAL is always positive
}

func (d *DatabaseStorage) loadBatches(ctx context.Context, where string, args ...any) ([]*protocol.MerkleBatch, error) {
	var rows []batchRow
	if err := d.ds.SelectContext(ctx, &rows, `SELECT `+batchColumns+` FROM merkle_batches `+where, args...); err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	seqs := make([]int64, len(rows))
	for i, r := range rows {
		seqs[i] = r.Seq
	}

	var receipts []receiptRow
	stmt := `SELECT batch_seq, position, receipt_id, data_hash, timestamp_unix_nano
		FROM batch_receipts WHERE batch_seq = ANY($1)
		ORDER BY batch_seq, position`
	if err := d.ds.SelectContext(ctx, &receipts, stmt, pq.Array(seqs)); err != nil {
		return nil, fmt.Errorf("failed to query batch receipts: %w", err)
	}

	bySeq := make(map[int64][]receiptRow, len(rows))
	for _, r := range receipts {
		bySeq[r.BatchSeq] = append(bySeq[r.BatchSeq], r)
	}

	out := make([]*protocol.MerkleBatch, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel(bySeq[rows[i].Seq]))
	}
	return out, nil
}

func (d *DatabaseStorage) loadOneBatch(ctx context.Context, notFound string, where string, args ...any) (*protocol.MerkleBatch, error) {
	batches, err := d.loadBatches(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownEntity, notFound)
	}
	return batches[0], nil
}

func (d *DatabaseStorage) GetBatch(ctx context.Context, sequence uint64) (*protocol.MerkleBatch, error) {
	if sequence == 0 || sequence > 1<<62 {
		return nil, fmt.Errorf("%w: batch %d", protocol.ErrUnknownEntity, sequence)
	}
	return d.loadOneBatch(ctx, fmt.Sprintf("batch %d", sequence), `WHERE seq = $1`, int64(sequence)) //nolint:gosec // bounded above
}

func (d *DatabaseStorage) GetBatchByRoot(ctx context.Context, root protocol.Bytes32) (*protocol.MerkleBatch, error) {
	return d.loadOneBatch(ctx, fmt.Sprintf("batch with root %s", root), `WHERE root = $1`, root[:])
}

func (d *DatabaseStorage) LatestUnanchoredBatch(ctx context.Context) (*protocol.MerkleBatch, error) {
	return d.loadOneBatch(ctx, "no unanchored batch", `WHERE anchor_tx_id IS NULL ORDER BY seq DESC LIMIT 1`)
}

func (d *DatabaseStorage) ListUnanchoredBatches(ctx context.Context) ([]*protocol.MerkleBatch, error) {
	return d.loadBatches(ctx, `WHERE anchor_tx_id IS NULL ORDER BY seq`)
}

func (d *DatabaseStorage) ListUnconfirmedBatches(ctx context.Context) ([]*protocol.MerkleBatch, error) {
	return d.loadBatches(ctx, `WHERE anchor_tx_id IS NOT NULL AND anchor_block_height IS NULL ORDER BY seq`)
}

func (d *DatabaseStorage) RecordAnchor(ctx context.Context, root protocol.Bytes32, txID string, at time.Time) (string, error) {
	stmt := `WITH updated AS (
			UPDATE merkle_batches SET anchor_tx_id = $2, anchored_at = $3
			WHERE root = $1 AND anchor_tx_id IS NULL
			RETURNING anchor_tx_id
		)
		SELECT anchor_tx_id FROM updated
		UNION ALL
		SELECT anchor_tx_id FROM merkle_batches WHERE root = $1 AND NOT EXISTS (SELECT 1 FROM updated)`

	var stored sql.NullString
	err := d.ds.GetContext(ctx, &stored, stmt, root[:], txID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: batch with root %s", protocol.ErrUnknownEntity, root)
	}
	if err != nil {
		return "", fmt.Errorf("failed to record anchor: %w", err)
	}
	if stored.String != txID {
		d.logger(ctx).Infow("Anchor already recorded for root", "root", root.String(), "stored", stored.String, "ignored", txID)
	}
	return stored.String, nil
}

func (d *DatabaseStorage) RecordConfirmation(ctx context.Context, root protocol.Bytes32, blockHeight uint64, at time.Time) error {
	var row batchRow
	err := d.ds.GetContext(ctx, &row, `SELECT `+batchColumns+` FROM merkle_batches WHERE root = $1`, root[:])
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: batch with root %s", protocol.ErrUnknownEntity, root)
	}
	if err != nil {
		return fmt.Errorf("failed to get batch: %w", err)
	}
	if !row.AnchorTxID.Valid {
		return fmt.Errorf("batch %d has no anchor to confirm", row.Seq)
	}

	_, err = d.ds.ExecContext(ctx, `UPDATE merkle_batches
		SET anchor_block_height = $2, confirmed_at = $3
		WHERE root = $1 AND anchor_block_height IS NULL`,
		root[:], int64(blockHeight), at) //nolint:gosec // block heights fit in int64
	if err != nil {
		return fmt.Errorf("failed to record confirmation: %w", err)
	}
	return nil
}
