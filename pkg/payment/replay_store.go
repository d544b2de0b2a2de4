package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// ReplayStore is the set of consumed payment references. A reference is reserved while its
// payment is being verified, then either committed for good or released.
type ReplayStore interface {
	// Reserve returns protocol.ErrPaymentReplay when ref is committed and
	// protocol.ErrPaymentInFlight when another verification holds it.
	Reserve(ctx context.Context, ref string) error
	// Commit marks ref as consumed. It never expires.
	Commit(ctx context.Context, ref string) error
	// Release drops a reservation that did not lead to an accepted payment.
	Release(ctx context.Context, ref string) error
}

type reservation struct {
	committed bool
	expiresAt time.Time
}

// InMemoryReplayStore keeps consumed references for the lifetime of the process.
type InMemoryReplayStore struct {
	mu           sync.Mutex
	refs         map[string]reservation
	pendingTTL   time.Duration
	timeProvider common.TimeProvider
}

var _ ReplayStore = (*InMemoryReplayStore)(nil)

func NewInMemoryReplayStore(pendingTTL time.Duration, timeProvider common.TimeProvider) *InMemoryReplayStore {
	if timeProvider == nil {
		timeProvider = common.NewRealTimeProvider()
	}
	return &InMemoryReplayStore{
		refs:         make(map[string]reservation),
		pendingTTL:   pendingTTL,
		timeProvider: timeProvider,
	}
}

func (s *InMemoryReplayStore) Reserve(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeProvider.Now()
	if r, ok := s.refs[ref]; ok {
		if r.committed {
			return fmt.Errorf("%w: %s", protocol.ErrPaymentReplay, ref)
		}
		if now.Before(r.expiresAt) {
			return fmt.Errorf("%w: %s", protocol.ErrPaymentInFlight, ref)
		}
	}
	s.refs[ref] = reservation{expiresAt: now.Add(s.pendingTTL)}
	return nil
}

func (s *InMemoryReplayStore) Commit(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref] = reservation{committed: true}
	return nil
}

func (s *InMemoryReplayStore) Release(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.refs[ref]; ok && !r.committed {
		delete(s.refs, ref)
	}
	return nil
}
