package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func (e *Engine) Start(_ context.Context) error {
	return e.StartOnce("VerificationEngine", func() error {
		e.wg.Go(e.runSweeper)
		return nil
	})
}

func (e *Engine) Close() error {
	return e.StopOnce("VerificationEngine", func() error {
		close(e.stopCh)
		e.wg.Wait()
		return nil
	})
}

func (e *Engine) Name() string {
	return e.lggr.Name()
}

func (e *Engine) HealthReport() map[string]error {
	return map[string]error{e.Name(): e.healthError()}
}

func (e *Engine) healthError() error {
	if err := e.Ready(); err != nil {
		return err
	}
	e.sweepMu.RLock()
	defer e.sweepMu.RUnlock()
	if e.consecutivePanics >= maxConsecutivePanics {
		return fmt.Errorf("deadline sweeper panicked %d times in a row", e.consecutivePanics)
	}
	return nil
}

// HealthCheck reports degraded when the last sweep failed.
func (e *Engine) HealthCheck(_ context.Context) *common.ComponentHealth {
	now := e.timeProvider.Now()
	if err := e.healthError(); err != nil {
		return common.HealthFromError("verification_engine", err, now)
	}
	e.sweepMu.RLock()
	defer e.sweepMu.RUnlock()
	h := common.HealthFromError("verification_engine", nil, now)
	if !e.lastSweep.IsZero() {
		h.Message = "last sweep at " + e.lastSweep.Format(time.RFC3339)
	}
	if e.lastSweepErr != nil {
		h.Status = common.HealthStatusDegraded
		h.Message = fmt.Sprintf("last sweep failed: %v", e.lastSweepErr)
	}
	return h
}

func (e *Engine) runSweeper() {
	ctx, cancel := e.stopCh.NewCtx()
	defer cancel()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	e.lggr.Infow("Starting deadline sweeper",
		"interval", e.cfg.SweepInterval,
		"attestationDeadline", e.cfg.AttestationDeadline)

	for {
		select {
		case <-ctx.Done():
			e.lggr.Info("Deadline sweeper stopping")
			return
		case <-ticker.C:
			err := e.Sweep(ctx)
			e.sweepMu.Lock()
			e.lastSweep = e.timeProvider.Now()
			e.lastSweepErr = err
			e.sweepMu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				e.lggr.Errorw("Deadline sweep failed", "error", err)
			}
		}
	}
}

// Sweep evaluates every attesting message once. A panic while evaluating one message
// is contained to that message.
func (e *Engine) Sweep(ctx context.Context) error {
	pending, err := e.ledger.ListPendingMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}
	e.monitoring.Metrics().SetPendingMessages(ctx, len(pending))

	var panicked bool
	var evaluated, failed int
	for _, msg := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg.State != protocol.MessageStateAttesting {
			continue
		}
		didPanic, err := e.evaluateSafely(ctx, msg.ID)
		panicked = panicked || didPanic
		evaluated++
		if err != nil {
			failed++
		}
	}

	e.sweepMu.Lock()
	if panicked {
		e.consecutivePanics++
	} else {
		e.consecutivePanics = 0
	}
	e.sweepMu.Unlock()

	e.lggr.Debugw("Deadline sweep finished", "pending", len(pending), "evaluated", evaluated, "errors", failed)
	return nil
}

func (e *Engine) evaluateSafely(ctx context.Context, id protocol.MessageID) (didPanic bool, err error) {
	ctx = scope.WithMessageID(ctx, id)
	defer func() {
		if r := recover(); r != nil {
			e.logger(ctx).Errorw("Panic while evaluating message", "panic", r)
			e.monitoring.Metrics().IncrementPanics(ctx)
			didPanic = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if _, err = e.Evaluate(ctx, id); err != nil {
		e.logger(ctx).Warnw("Failed to evaluate message", "error", err)
	}
	return false, err
}
