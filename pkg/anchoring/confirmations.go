package anchoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func (s *Service) runConfirmationPoller() {
	ctx, cancel := s.stopCh.NewCtx()
	defer cancel()

	ticker := time.NewTicker(s.cfg.ConfirmationPollInterval)
	defer ticker.Stop()

	s.lggr.Infow("Starting confirmation poller",
		"interval", s.cfg.ConfirmationPollInterval,
		"concurrency", s.cfg.ConfirmationConcurrency)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.PollConfirmations(ctx)
			if errors.Is(err, context.Canceled) {
				return
			}
			s.healthMu.Lock()
			s.lastPollErr = err
			s.lastPollTime = s.timeProvider.Now()
			s.healthMu.Unlock()
			if err != nil {
				s.lggr.Warnw("Confirmation poll finished with errors", "error", err)
			}
		}
	}
}

// PollConfirmations re-enqueues unanchored batches and checks every submitted anchor for inclusion.
func (s *Service) PollConfirmations(ctx context.Context) error {
	if s.anchor == nil {
		return fmt.Errorf("%w: anchor service", protocol.ErrNotConfigured)
	}

	unanchored, err := s.store.ListUnanchoredBatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unanchored batches: %w", err)
	}
	for _, b := range unanchored {
		s.enqueueAnchor(ctx, b.Root)
	}

	unconfirmed, err := s.store.ListUnconfirmedBatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unconfirmed batches: %w", err)
	}

	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.ConfirmationConcurrency, 1))
	for _, b := range unconfirmed {
		g.Go(func() error {
			if err := s.checkConfirmation(gctx, b); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("batch %d: %w", b.Sequence, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.lggr.Debugw("Confirmation poll finished", "unanchored", len(unanchored), "unconfirmed", len(unconfirmed), "errors", len(errs))
	return errors.Join(errs...)
}

func (s *Service) checkConfirmation(ctx context.Context, batch *protocol.MerkleBatch) error {
	ctx = scope.WithBatchRoot(ctx, batch.Root)
	lggr := s.logger(ctx)

	conf, err := s.anchor.GetConfirmation(ctx, batch.AnchorTxID)
	if err != nil {
		lggr.Warnw("Failed to get anchor confirmation", "anchorTxId", batch.AnchorTxID, "error", err)
		return err
	}
	if conf.Pending {
		return nil
	}

	now := s.timeProvider.Now().UTC()
	if err := s.store.RecordConfirmation(ctx, batch.Root, conf.BlockHeight, now); err != nil {
		return fmt.Errorf("failed to record confirmation: %w", err)
	}
	if batch.AnchoredAt != nil {
		s.monitoring.Metrics().RecordAnchorConfirmationLag(ctx, now.Sub(*batch.AnchoredAt))
	}

	height := conf.BlockHeight
	batch.AnchorBlockHeight = &height
	batch.ConfirmedAt = &now
	lggr.Infow("Anchor confirmed", "sequence", batch.Sequence, "anchorTxId", batch.AnchorTxID, "blockHeight", height)
	s.publish(batchEvent(protocol.EventTypeBatchConfirmed, batch))
	return nil
}
