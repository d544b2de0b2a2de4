// Package resilience bounds every call to an external collaborator with a bulkhead, retries and a
// per-attempt timeout, and maps the outcome onto the coordinator's error taxonomy.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/bulkhead"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const jitterFactor = 0.25

// permanentError marks a failure that repeating the call cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Clients use it for rejections such as 4xx responses.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is a definitive answer from the collaborator.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) ||
		errors.Is(err, protocol.ErrTxNotFound) ||
		errors.Is(err, protocol.ErrInvalidInput) ||
		errors.Is(err, protocol.ErrUnknownEntity)
}

// Executor runs calls to one collaborator. Policies from outermost to innermost:
// Bulkhead -> Retry -> Timeout. The bulkhead is shared by every call so a slow collaborator
// cannot hold more than MaxConcurrent goroutines.
type Executor struct {
	name     string
	cfg      model.ExternalCallConfig
	retrying failsafe.Executor[any]
	once     failsafe.Executor[any]
	lggr     logger.SugaredLogger
}

func NewExecutor(name string, cfg model.ExternalCallConfig, lggr logger.SugaredLogger) *Executor {
	bh := bulkhead.NewBuilder[any](uint(max(cfg.MaxConcurrent, 1))).
		WithMaxWaitTime(cfg.MaxWait).
		OnFull(func(failsafe.ExecutionEvent[any]) {
			lggr.Warnw("Bulkhead is full", "collaborator", name, "max_concurrent_requests", cfg.MaxConcurrent)
		}).
		Build()

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !IsPermanent(err)
		}).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.InitialBackoff, max(cfg.MaxBackoff, cfg.InitialBackoff)).
		WithJitterFactor(jitterFactor).
		ReturnLastFailure().
		OnRetry(func(event failsafe.ExecutionEvent[any]) {
			lggr.Debugw("Retrying external call", "collaborator", name, "attempt", event.Attempts(), "error", event.LastError())
		}).
		OnRetriesExceeded(func(event failsafe.ExecutionEvent[any]) {
			lggr.Warnw("Max retries exceeded", "collaborator", name, "max_retries", cfg.MaxRetries, "error", event.LastError())
		}).
		Build()

	to := timeout.NewBuilder[any](cfg.Timeout).
		OnTimeoutExceeded(func(failsafe.ExecutionDoneEvent[any]) {
			lggr.Warnw("External call timeout exceeded", "collaborator", name, "timeout", cfg.Timeout)
		}).
		Build()

	return &Executor{
		name:     name,
		cfg:      cfg,
		retrying: failsafe.With[any](bh, retry, to),
		once:     failsafe.With[any](bh, to),
		lggr:     lggr,
	}
}

func (e *Executor) Name() string {
	return e.name
}

// Do runs fn with retries.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, e, e.retrying, op, fn)
}

// DoOnce runs fn without retries, for calls whose repetition has side effects.
func DoOnce[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, e, e.once, op, fn)
}

func run[T any](ctx context.Context, e *Executor, executor failsafe.Executor[any], op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	result, err := executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return fn(exec.Context())
	})
	err = e.classify(ctx, op, err)
	observe(e.name, op, outcomeOf(err), time.Since(start))

	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("%s %s: unexpected result type %T", e.name, op, result)
	}
	return typed, nil
}

// classify maps a failsafe outcome onto the protocol errors. Definitive answers pass through,
// saturation becomes ErrBusy and everything else means the outcome is unknown.
func (e *Executor) classify(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bulkhead.ErrFull):
		return fmt.Errorf("%w: %s %s", protocol.ErrBusy, e.name, op)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case IsPermanent(err):
		var pe *permanentError
		if errors.As(err, &pe) {
			return fmt.Errorf("%s %s: %w", e.name, op, pe.err)
		}
		return fmt.Errorf("%s %s: %w", e.name, op, err)
	case protocol.IsRetryable(err):
		return fmt.Errorf("%s %s: %w", e.name, op, err)
	default:
		return fmt.Errorf("%w: %s %s: %w", protocol.ErrIndeterminate, e.name, op, err)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, protocol.ErrBusy):
		return "busy"
	case errors.Is(err, protocol.ErrIndeterminate):
		return "indeterminate"
	default:
		return "rejected"
	}
}
