package anchoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// SubmitAnchor anchors the batch with the given root and returns the anchor transaction id.
// Anchoring is idempotent per root: a root that already has an anchor returns the existing id.
func (s *Service) SubmitAnchor(ctx context.Context, root protocol.Bytes32) (string, error) {
	if s.anchor == nil {
		return "", fmt.Errorf("%w: anchor service", protocol.ErrNotConfigured)
	}
	if txID, ok := s.anchored.Get(root); ok {
		return txID, nil
	}

	ctx = scope.WithBatchRoot(ctx, root)
	v, err, shared := s.inflight.Do(root.String(), func() (any, error) {
		return s.submitAnchor(ctx, root)
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.logger(ctx).Debug("Joined in-flight anchor submission")
	}
	txID, _ := v.(string)
	return txID, nil
}

func (s *Service) submitAnchor(ctx context.Context, root protocol.Bytes32) (string, error) {
	lggr := s.logger(ctx)
	metrics := s.monitoring.Metrics()

	batch, err := s.store.GetBatchByRoot(ctx, root)
	if err != nil {
		return "", err
	}
	if batch.AnchorTxID != "" {
		s.anchored.Add(root, batch.AnchorTxID)
		metrics.IncrementAnchorSubmissions(ctx, "duplicate")
		return batch.AnchorTxID, nil
	}

	txID, err := s.anchor.SubmitAnchor(ctx, root)
	if err != nil {
		if protocol.IsIndeterminate(err) || errors.Is(err, context.DeadlineExceeded) {
			metrics.IncrementAnchorSubmissions(ctx, "indeterminate")
			lggr.Warnw("Anchor submission indeterminate", "error", err)
			return "", fmt.Errorf("%w: root %s: %w", protocol.ErrAnchorIndeterminate, root, err)
		}
		metrics.IncrementAnchorSubmissions(ctx, "error")
		lggr.Errorw("Anchor submission failed", "error", err)
		return "", fmt.Errorf("failed to submit anchor for root %s: %w", root, err)
	}

	stored, err := s.store.RecordAnchor(ctx, root, txID, s.timeProvider.Now().UTC())
	if err != nil {
		lggr.Errorw("Anchor submitted but not recorded", "anchorTxId", txID, "error", err)
		return "", fmt.Errorf("failed to record anchor %s for root %s: %w", txID, root, err)
	}
	if stored != txID {
		lggr.Warnw("Root was anchored concurrently, keeping the first anchor", "stored", stored, "ignored", txID)
	}
	s.anchored.Add(root, stored)
	metrics.IncrementAnchorSubmissions(ctx, "submitted")

	batch.AnchorTxID = stored
	lggr.Infow("Batch anchored", "sequence", batch.Sequence, "anchorTxId", stored)
	s.publish(batchEvent(protocol.EventTypeBatchAnchored, batch))
	return stored, nil
}

// enqueueAnchor schedules root for asynchronous anchoring. A full queue is not an error:
// the confirmation poller re-enqueues every unanchored batch.
func (s *Service) enqueueAnchor(ctx context.Context, root protocol.Bytes32) {
	if s.anchor == nil {
		return
	}
	select {
	case s.queue <- root:
	default:
		s.logger(ctx).Warnw("Anchor queue full, deferring to the next poll", "queueSize", cap(s.queue))
	}
}

func (s *Service) runAnchorWorker() {
	ctx, cancel := s.stopCh.NewCtx()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case root := <-s.queue:
			if _, err := s.SubmitAnchor(ctx, root); err != nil && !errors.Is(err, context.Canceled) {
				s.logger(scope.WithBatchRoot(ctx, root)).Warnw("Asynchronous anchor failed, will retry", "error", err)
			}
		}
	}
}
