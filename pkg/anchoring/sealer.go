package anchoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/batcher"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/merkle"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// runSealer consumes closed batches until the batcher shuts down. It keeps running after stopCh
// is closed so the final shutdown batch is still persisted.
func (s *Service) runSealer() {
	for result := range s.batcher.OutChannel() {
		batch, err := s.seal(result)
		if result.Trigger == batcher.TriggerFlush {
			s.deliver(result.Seq, sealResult{batch: batch, err: err})
		}
	}

	if len(s.carry) > 0 {
		s.lggr.Errorw("Shutting down with receipts that could not be sealed", "receipts", len(s.carry))
	}
}

func (s *Service) seal(result batcher.BatchResult[protocol.Receipt]) (*protocol.MerkleBatch, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sealTimeout)
	defer cancel()

	receipts := append(s.carry, result.Items...)
	root, err := merkle.ReceiptRoot(receipts)
	if err != nil {
		return nil, err
	}
	ctx = scope.WithBatchRoot(ctx, root)
	lggr := s.logger(ctx)

	batch := &protocol.MerkleBatch{
		Root:      root,
		Receipts:  receipts,
		CreatedAt: s.timeProvider.Now().UTC(),
	}
	seq, err := s.store.SaveBatch(ctx, batch)
	if err != nil {
		s.carry = receipts
		s.setSealHealth(err)
		lggr.Errorw("Failed to persist sealed batch, receipts move to the next batch",
			"error", err,
			"receipts", len(receipts),
			"trigger", result.Trigger)
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}
	s.carry = nil
	s.setSealHealth(nil)
	batch.Sequence = seq

	s.monitoring.Metrics().IncrementBatchesSealed(ctx, len(receipts))
	lggr.Infow("Batch sealed", "sequence", seq, "receipts", len(receipts), "trigger", result.Trigger)
	s.publish(batchEvent(protocol.EventTypeBatchSealed, batch))
	s.enqueueAnchor(ctx, root)
	return batch, nil
}

func (s *Service) setSealHealth(err error) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.lastSealErr = err
	s.carried = len(s.carry)
}

// deliver hands a flush result to the caller waiting on seq. A nil entry marks a waiter that gave up.
func (s *Service) deliver(seq uint64, r sealResult) {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()

	ch, ok := s.results[seq]
	if ok && ch == nil {
		delete(s.results, seq)
		return
	}
	if !ok {
		ch = make(chan sealResult, 1)
		s.results[seq] = ch
	}
	ch <- r
}

func (s *Service) awaitSeal(ctx context.Context, seq uint64) (*protocol.MerkleBatch, error) {
	s.resultsMu.Lock()
	ch, ok := s.results[seq]
	if !ok {
		ch = make(chan sealResult, 1)
		s.results[seq] = ch
	}
	s.resultsMu.Unlock()

	select {
	case r := <-ch:
		s.resultsMu.Lock()
		delete(s.results, seq)
		s.resultsMu.Unlock()
		return r.batch, r.err
	case <-ctx.Done():
		s.resultsMu.Lock()
		defer s.resultsMu.Unlock()
		select {
		case <-ch:
			delete(s.results, seq)
		default:
			s.results[seq] = nil
		}
		return nil, ctx.Err()
	}
}

func (s *Service) runScheduler() {
	ctx, cancel := s.stopCh.NewCtx()
	defer cancel()

	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()

	s.lggr.Infow("Starting batch scheduler", "interval", s.cfg.BatchInterval, "maxBatchSize", s.cfg.MaxBatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := s.ScheduledBatch(ctx)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				s.lggr.Errorw("Scheduled batch failed", "error", err)
			case batch == nil:
				s.lggr.Debug("Scheduled batch skipped, no pending receipts")
			}
		}
	}
}
