package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

// Trigger is the reason a batch was closed.
type Trigger string

const (
	TriggerSize     Trigger = "size"
	TriggerTimer    Trigger = "timer"
	TriggerFlush    Trigger = "flush"
	TriggerShutdown Trigger = "shutdown"
)

var errStopped = errors.New("batcher stopped")

// Batcher accumulates items and closes them into batches on size, time, explicit flush or shutdown.
// A single goroutine owns the open buffer, so Add is safe for any number of concurrent callers and
// every close is serialized. Closed batches are delivered on OutChannel in close order, each with a
// strictly increasing Seq.
type Batcher[T any] struct {
	services.StateMachine
	wg     sync.WaitGroup
	stopCh services.StopChan

	maxSize int
	maxWait time.Duration
	addCh   chan []T
	flushCh chan chan uint64

	outCh chan BatchResult[T]
}

// BatchResult carries a closed batch.
type BatchResult[T any] struct {
	// Seq is the close sequence number, starting at 1.
	Seq     uint64
	Trigger Trigger
	Items   []T
}

// NewBatcher creates a new Batcher instance.
// maxSize: number of items that closes the open batch (0 disables size-based closing)
// maxWait: maximum age of a non-empty open batch (0 disables time-based closing)
// outChannelSize: buffer of the output channel. Consumers must drain it until it is closed.
func NewBatcher[T any](maxSize int, maxWait time.Duration, outChannelSize int) *Batcher[T] {
	return &Batcher[T]{
		maxSize: maxSize,
		maxWait: maxWait,
		outCh:   make(chan BatchResult[T], outChannelSize),
		addCh:   make(chan []T),
		flushCh: make(chan chan uint64),
		stopCh:  make(chan struct{}),
	}
}

func (b *Batcher[T]) Start(_ context.Context) error {
	return b.StartOnce("Batcher", func() error {
		b.wg.Go(b.run)
		return nil
	})
}

// Close stops accepting items, emits the remaining buffer as a final batch and closes OutChannel.
func (b *Batcher[T]) Close() error {
	return b.StopOnce("Batcher", func() error {
		close(b.stopCh)
		b.wg.Wait()
		close(b.outCh)
		return nil
	})
}

func (b *Batcher[T]) OutChannel() <-chan BatchResult[T] {
	return b.outCh
}

// Add appends items to the open batch. It returns an error if the batcher is not running.
func (b *Batcher[T]) Add(item ...T) error {
	if err := b.Ready(); err != nil {
		return err
	}

	select {
	case b.addCh <- item:
		return nil
	case <-b.stopCh:
		return b.Ready()
	}
}

// Flush closes the open batch immediately and returns its Seq, or 0 when the open batch was empty.
// The batch itself is delivered on OutChannel after every batch closed before it.
func (b *Batcher[T]) Flush(ctx context.Context) (uint64, error) {
	if err := b.Ready(); err != nil {
		return 0, err
	}

	resp := make(chan uint64, 1)
	select {
	case b.flushCh <- resp:
	case <-b.stopCh:
		return 0, errStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case seq := <-resp:
		return seq, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *Batcher[T]) run() {
	ctx, cancel := b.stopCh.NewCtx()
	defer cancel()

	var buffer []T
	var seq uint64

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)

	emit := func(trigger Trigger) uint64 {
		if len(buffer) == 0 {
			return 0
		}
		stopTimer(timer)
		seq++
		batch := BatchResult[T]{Seq: seq, Trigger: trigger, Items: buffer}
		buffer = nil
		// Blocks until the consumer takes the batch so no item is ever dropped.
		b.outCh <- batch
		return seq
	}

	defer func() {
		stopTimer(timer)
		emit(TriggerShutdown)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case items := <-b.addCh:
			if len(buffer) == 0 && b.maxWait > 0 {
				timer.Reset(b.maxWait)
			}
			buffer = append(buffer, items...)
			if b.maxSize > 0 && len(buffer) >= b.maxSize {
				emit(TriggerSize)
			}
		case resp := <-b.flushCh:
			resp <- emit(TriggerFlush)
		case <-timer.C:
			emit(TriggerTimer)
		}
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
