// Package anchoring accumulates receipts into Merkle batches and anchors batch roots on an
// external immutable ledger.
package anchoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/batcher"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/merkle"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const (
	sealTimeout       = 30 * time.Second
	sealedChannelSize = 16
)

type Params struct {
	Config model.AnchoringConfig
	Store  common.BatchStore
	// Anchor may be nil, in which case batches are sealed but never anchored.
	Anchor       protocol.AnchorService
	Events       common.EventSink
	Monitoring   common.CoordinatorMonitoring
	TimeProvider common.TimeProvider
	Logger       logger.SugaredLogger
}

// BatchVerification is the result of recomputing a stored batch root.
type BatchVerification struct {
	Sequence     uint64                `json:"sequence"`
	StoredRoot   protocol.Bytes32      `json:"storedRoot"`
	ComputedRoot protocol.Bytes32      `json:"computedRoot"`
	Valid        bool                  `json:"valid"`
	AnchorStatus protocol.AnchorStatus `json:"anchorStatus"`
	AnchorTxID   string                `json:"anchorTxId,omitempty"`
}

// InclusionProof links one receipt to the root of the batch that contains it.
type InclusionProof struct {
	Sequence     uint64                `json:"sequence"`
	Root         protocol.Bytes32      `json:"root"`
	Receipt      protocol.Receipt      `json:"receipt"`
	Index        int                   `json:"index"`
	Proof        []merkle.ProofStep    `json:"proof"`
	AnchorStatus protocol.AnchorStatus `json:"anchorStatus"`
	AnchorTxID   string                `json:"anchorTxId,omitempty"`
}

type sealResult struct {
	batch *protocol.MerkleBatch
	err   error
}

// Service owns the open batch. Closing a batch and computing its root happen on a single
// sealer goroutine in close order, anchoring runs afterwards outside of that path.
type Service struct {
	services.StateMachine
	wg     sync.WaitGroup
	stopCh services.StopChan

	cfg          model.AnchoringConfig
	store        common.BatchStore
	anchor       protocol.AnchorService
	events       common.EventSink
	monitoring   common.CoordinatorMonitoring
	timeProvider common.TimeProvider
	lggr         logger.SugaredLogger

	batcher *batcher.Batcher[protocol.Receipt]
	queue   chan protocol.Bytes32

	inflight singleflight.Group
	anchored *expirable.LRU[protocol.Bytes32, string]

	resultsMu sync.Mutex
	results   map[uint64]chan sealResult

	// carry holds receipts of a batch that could not be persisted. Owned by the sealer.
	carry []protocol.Receipt

	healthMu     sync.RWMutex
	lastSealErr  error
	carried      int
	lastPollErr  error
	lastPollTime time.Time
}

var _ services.Service = (*Service)(nil)

func NewService(p Params) (*Service, error) {
	if p.Store == nil {
		return nil, errors.New("batch store is required")
	}
	if p.TimeProvider == nil {
		p.TimeProvider = common.NewRealTimeProvider()
	}
	queueSize := p.Config.AnchorQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	cacheSize := p.Config.RootCacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}

	return &Service{
		stopCh:       make(chan struct{}),
		cfg:          p.Config,
		store:        p.Store,
		anchor:       p.Anchor,
		events:       p.Events,
		monitoring:   p.Monitoring,
		timeProvider: p.TimeProvider,
		lggr:         p.Logger,
		batcher:      batcher.NewBatcher[protocol.Receipt](p.Config.MaxBatchSize, 0, sealedChannelSize),
		queue:        make(chan protocol.Bytes32, queueSize),
		anchored:     expirable.NewLRU[protocol.Bytes32, string](cacheSize, nil, p.Config.RootCacheTTL),
		results:      make(map[uint64]chan sealResult),
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	return s.StartOnce("AnchoringService", func() error {
		if err := s.batcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start batcher: %w", err)
		}
		s.wg.Go(s.runSealer)
		if s.cfg.BatchInterval > 0 {
			s.wg.Go(s.runScheduler)
		}
		if s.anchor != nil {
			s.wg.Go(s.runAnchorWorker)
			s.wg.Go(s.runConfirmationPoller)
		}
		return nil
	})
}

// Close seals whatever is left in the open batch and waits for the background tasks.
// Sealed batches that were not anchored yet are picked up after the next start.
func (s *Service) Close() error {
	return s.StopOnce("AnchoringService", func() error {
		close(s.stopCh)
		err := s.batcher.Close()
		s.wg.Wait()
		return err
	})
}

func (s *Service) Name() string {
	return s.lggr.Name()
}

func (s *Service) HealthReport() map[string]error {
	return map[string]error{s.Name(): s.Ready()}
}

func (s *Service) HealthCheck(_ context.Context) *common.ComponentHealth {
	h := common.HealthFromError("anchoring", s.Ready(), s.timeProvider.Now())
	if h.Status != common.HealthStatusHealthy {
		return h
	}

	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	switch {
	case s.lastSealErr != nil:
		h.Status = common.HealthStatusDegraded
		h.Message = fmt.Sprintf("%d receipts waiting, last seal failed: %v", s.carried, s.lastSealErr)
	case s.lastPollErr != nil:
		h.Status = common.HealthStatusDegraded
		h.Message = fmt.Sprintf("confirmation poll failed: %v", s.lastPollErr)
	case !s.lastPollTime.IsZero():
		h.Message = "last confirmation poll at " + s.lastPollTime.Format(time.RFC3339)
	}
	return h
}

func (s *Service) logger(ctx context.Context) logger.SugaredLogger {
	return scope.AugmentLogger(ctx, s.lggr)
}

// Append adds receipt to the open batch. The id and timestamp are assigned when missing.
func (s *Service) Append(_ context.Context, receipt protocol.Receipt) (protocol.Receipt, error) {
	if receipt.DataHash.IsEmpty() {
		return protocol.Receipt{}, fmt.Errorf("%w: receipt requires a data hash", protocol.ErrInvalidInput)
	}
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	if receipt.Timestamp.IsZero() {
		receipt.Timestamp = s.timeProvider.Now()
	}
	receipt.Timestamp = receipt.Timestamp.UTC()

	if err := s.batcher.Add(receipt); err != nil {
		return protocol.Receipt{}, fmt.Errorf("anchoring service is not accepting receipts: %w", err)
	}
	return receipt, nil
}

// BatchNow closes the open batch and returns it once sealed.
// It returns protocol.ErrEmptyBatch when there are no pending receipts.
func (s *Service) BatchNow(ctx context.Context) (*protocol.MerkleBatch, error) {
	batch, err := s.closeOpenBatch(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: no pending receipts", protocol.ErrEmptyBatch)
	}
	return batch, nil
}

// ScheduledBatch behaves like BatchNow but returns nil, nil when the open batch is empty.
func (s *Service) ScheduledBatch(ctx context.Context) (*protocol.MerkleBatch, error) {
	return s.closeOpenBatch(ctx)
}

// FastAnchor closes the open batch and anchors it before returning. With an empty open batch
// the most recent sealed batch that has no anchor is anchored instead.
func (s *Service) FastAnchor(ctx context.Context) (*protocol.MerkleBatch, error) {
	if s.anchor == nil {
		return nil, fmt.Errorf("%w: anchor service", protocol.ErrNotConfigured)
	}

	batch, err := s.closeOpenBatch(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		batch, err = s.store.LatestUnanchoredBatch(ctx)
		if errors.Is(err, protocol.ErrUnknownEntity) {
			return nil, fmt.Errorf("%w: no pending receipts and no unanchored batch", protocol.ErrEmptyBatch)
		}
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.SubmitAnchor(ctx, batch.Root); err != nil {
		return nil, err
	}
	return s.store.GetBatchByRoot(ctx, batch.Root)
}

func (s *Service) closeOpenBatch(ctx context.Context) (*protocol.MerkleBatch, error) {
	seq, err := s.batcher.Flush(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to close open batch: %w", err)
	}
	if seq == 0 {
		return nil, nil
	}
	return s.awaitSeal(ctx, seq)
}

func (s *Service) GetBatch(ctx context.Context, sequence uint64) (*protocol.MerkleBatch, error) {
	return s.store.GetBatch(ctx, sequence)
}

func (s *Service) GetBatchByRoot(ctx context.Context, root protocol.Bytes32) (*protocol.MerkleBatch, error) {
	return s.store.GetBatchByRoot(ctx, root)
}

// VerifyBatch recomputes the root of a stored batch from its receipts.
func (s *Service) VerifyBatch(ctx context.Context, sequence uint64) (*BatchVerification, error) {
	batch, err := s.store.GetBatch(ctx, sequence)
	if err != nil {
		return nil, err
	}
	computed, err := merkle.ReceiptRoot(batch.Receipts)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute root of batch %d: %w", sequence, err)
	}

	result := &BatchVerification{
		Sequence:     batch.Sequence,
		StoredRoot:   batch.Root,
		ComputedRoot: computed,
		Valid:        computed == batch.Root,
		AnchorStatus: batch.AnchorStatus(),
		AnchorTxID:   batch.AnchorTxID,
	}
	if !result.Valid {
		s.logger(scope.WithBatchRoot(ctx, batch.Root)).Errorw("Stored batch root does not match its receipts",
			"sequence", sequence,
			"computedRoot", computed.String())
	}
	return result, nil
}

// InclusionProof returns the Merkle path of receiptID inside batch sequence.
func (s *Service) InclusionProof(ctx context.Context, sequence uint64, receiptID string) (*InclusionProof, error) {
	batch, err := s.store.GetBatch(ctx, sequence)
	if err != nil {
		return nil, err
	}
	idx := batch.ReceiptIndex(receiptID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: receipt %s in batch %d", protocol.ErrUnknownEntity, receiptID, sequence)
	}
	proof, err := merkle.Proof(merkle.ReceiptLeaves(batch.Receipts), idx)
	if err != nil {
		return nil, err
	}
	return &InclusionProof{
		Sequence:     batch.Sequence,
		Root:         batch.Root,
		Receipt:      batch.Receipts[idx],
		Index:        idx,
		Proof:        proof,
		AnchorStatus: batch.AnchorStatus(),
		AnchorTxID:   batch.AnchorTxID,
	}, nil
}

func (s *Service) publish(evt protocol.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}

func batchEvent(eventType protocol.EventType, batch *protocol.MerkleBatch) protocol.Event {
	return protocol.Event{
		Type:     eventType,
		EntityID: batch.Root.String(),
		Data: protocol.BatchAnchorChange{
			Sequence:    batch.Sequence,
			Root:        batch.Root,
			Status:      batch.AnchorStatus(),
			AnchorTxID:  batch.AnchorTxID,
			BlockHeight: batch.AnchorBlockHeight,
			Receipts:    len(batch.Receipts),
		},
	}
}
