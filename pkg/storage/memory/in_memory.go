// Package memory provides an in-process storage backend for the coordinator.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

var _ common.CoordinatorStorage = (*InMemoryStorage)(nil)

// InMemoryStorage keeps messages, attestations and batches in maps guarded by per-collection locks.
type InMemoryStorage struct {
	messagesMu   sync.RWMutex
	messages     map[protocol.MessageID]*protocol.CrossChainMessage
	replayIndex  map[protocol.ReplayKey]protocol.MessageID
	order        []protocol.MessageID
	lastSequence uint64

	attestationsMu sync.RWMutex
	attestations   map[protocol.MessageID]map[protocol.ValidatorID]*protocol.Attestation

	batchesMu sync.RWMutex
	batches   []*protocol.MerkleBatch
	byRoot    map[protocol.Bytes32]int

	timeProvider common.TimeProvider
}

// NewInMemoryStorage creates an empty storage.
func NewInMemoryStorage() *InMemoryStorage {
	return NewInMemoryStorageWithTimeProvider(common.NewRealTimeProvider())
}

// NewInMemoryStorageWithTimeProvider creates an empty storage using the given clock.
func NewInMemoryStorageWithTimeProvider(timeProvider common.TimeProvider) *InMemoryStorage {
	return &InMemoryStorage{
		messages:     make(map[protocol.MessageID]*protocol.CrossChainMessage),
		replayIndex:  make(map[protocol.ReplayKey]protocol.MessageID),
		attestations: make(map[protocol.MessageID]map[protocol.ValidatorID]*protocol.Attestation),
		byRoot:       make(map[protocol.Bytes32]int),
		timeProvider: timeProvider,
	}
}

func (s *InMemoryStorage) SubmitMessage(_ context.Context, msg *protocol.CrossChainMessage) (protocol.MessageID, error) {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()

	key := msg.ReplayKey()
	if existing, ok := s.replayIndex[key]; ok {
		return "", fmt.Errorf("%w: %s already submitted as %s", protocol.ErrDuplicateSubmission, key, existing)
	}

	stored := msg.Clone()
	if stored.ID == "" {
		stored.ID = protocol.MessageID(uuid.NewString())
	}
	if _, ok := s.messages[stored.ID]; ok {
		return "", fmt.Errorf("%w: message id %s already exists", protocol.ErrDuplicateSubmission, stored.ID)
	}

	now := s.timeProvider.Now()
	s.lastSequence++
	stored.Sequence = s.lastSequence
	stored.SubmittedAt = now
	stored.UpdatedAt = now
	stored.State = protocol.MessageStatePending
	stored.FailureReason = protocol.FailureReasonNone
	stored.AttestingSince = nil

	s.messages[stored.ID] = stored
	s.replayIndex[key] = stored.ID
	s.order = append(s.order, stored.ID)
	return stored.ID, nil
}

func (s *InMemoryStorage) GetMessage(_ context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error) {
	s.messagesMu.RLock()
	defer s.messagesMu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", protocol.ErrUnknownEntity, id)
	}
	return msg.Clone(), nil
}

func (s *InMemoryStorage) ListPendingMessages(_ context.Context) ([]*protocol.CrossChainMessage, error) {
	s.messagesMu.RLock()
	defer s.messagesMu.RUnlock()

	var pending []*protocol.CrossChainMessage
	for _, id := range s.order {
		if msg := s.messages[id]; !msg.State.IsTerminal() {
			pending = append(pending, msg.Clone())
		}
	}
	return pending, nil
}

func (s *InMemoryStorage) TransitionMessage(_ context.Context, id protocol.MessageID, to protocol.MessageState, reason protocol.FailureReason, at time.Time) (*protocol.CrossChainMessage, error) {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", protocol.ErrUnknownEntity, id)
	}
	if !protocol.CanTransition(msg.State, to) {
		return nil, fmt.Errorf("%w: %s -> %s for message %s", protocol.ErrInvalidTransition, msg.State, to, id)
	}

	msg.State = to
	msg.UpdatedAt = at
	if to == protocol.MessageStateAttesting {
		since := at
		msg.AttestingSince = &since
	}
	if to == protocol.MessageStateFailed {
		msg.FailureReason = reason
	}
	return msg.Clone(), nil
}

func (s *InMemoryStorage) SaveAttestation(_ context.Context, att *protocol.Attestation, replace bool) error {
	s.attestationsMu.Lock()
	defer s.attestationsMu.Unlock()

	byValidator, ok := s.attestations[att.MessageID]
	if !ok {
		byValidator = make(map[protocol.ValidatorID]*protocol.Attestation)
		s.attestations[att.MessageID] = byValidator
	}
	if _, exists := byValidator[att.ValidatorID]; exists && !replace {
		return fmt.Errorf("%w: validator %s for message %s", protocol.ErrDuplicateAttestation, att.ValidatorID, att.MessageID)
	}

	stored := *att
	stored.Signature = append(protocol.ByteSlice{}, att.Signature...)
	byValidator[att.ValidatorID] = &stored
	return nil
}

func (s *InMemoryStorage) ListAttestations(_ context.Context, id protocol.MessageID) ([]*protocol.Attestation, error) {
	s.attestationsMu.RLock()
	defer s.attestationsMu.RUnlock()

	byValidator := s.attestations[id]
	out := make([]*protocol.Attestation, 0, len(byValidator))
	for _, att := range byValidator {
		c := *att
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorID < out[j].ValidatorID })
	return out, nil
}

func (s *InMemoryStorage) SaveBatch(_ context.Context, batch *protocol.MerkleBatch) (uint64, error) {
	s.batchesMu.Lock()
	defer s.batchesMu.Unlock()

	if _, ok := s.byRoot[batch.Root]; ok {
		return 0, fmt.Errorf("batch with root %s already stored", batch.Root)
	}

	stored := batch.Clone()
	stored.Sequence = uint64(len(s.batches)) + 1
	s.batches = append(s.batches, stored)
	s.byRoot[stored.Root] = len(s.batches) - 1
	return stored.Sequence, nil
}

func (s *InMemoryStorage) GetBatch(_ context.Context, sequence uint64) (*protocol.MerkleBatch, error) {
	s.batchesMu.RLock()
	defer s.batchesMu.RUnlock()

	if sequence == 0 || sequence > uint64(len(s.batches)) {
		return nil, fmt.Errorf("%w: batch %d", protocol.ErrUnknownEntity, sequence)
	}
	return s.batches[sequence-1].Clone(), nil
}

func (s *InMemoryStorage) GetBatchByRoot(_ context.Context, root protocol.Bytes32) (*protocol.MerkleBatch, error) {
	s.batchesMu.RLock()
	defer s.batchesMu.RUnlock()

	idx, ok := s.byRoot[root]
	if !ok {
		return nil, fmt.Errorf("%w: batch with root %s", protocol.ErrUnknownEntity, root)
	}
	return s.batches[idx].Clone(), nil
}

func (s *InMemoryStorage) LatestUnanchoredBatch(_ context.Context) (*protocol.MerkleBatch, error) {
	s.batchesMu.RLock()
	defer s.batchesMu.RUnlock()

	for i := len(s.batches) - 1; i >= 0; i-- {
		if s.batches[i].AnchorTxID == "" {
			return s.batches[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no unanchored batch", protocol.ErrUnknownEntity)
}

func (s *InMemoryStorage) ListUnanchoredBatches(_ context.Context) ([]*protocol.MerkleBatch, error) {
	s.batchesMu.RLock()
	defer s.batchesMu.RUnlock()

	var out []*protocol.MerkleBatch
	for _, b := range s.batches {
		if b.AnchorTxID == "" {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStorage) ListUnconfirmedBatches(_ context.Context) ([]*protocol.MerkleBatch, error) {
	s.batchesMu.RLock()
	defer s.batchesMu.RUnlock()

	var out []*protocol.MerkleBatch
	for _, b := range s.batches {
		if b.AnchorStatus() == protocol.AnchorStatusSubmitted {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStorage) RecordAnchor(_ context.Context, root protocol.Bytes32, txID string, at time.Time) (string, error) {
	s.batchesMu.Lock()
	defer s.batchesMu.Unlock()

	idx, ok := s.byRoot[root]
	if !ok {
		return "", fmt.Errorf("%w: batch with root %s", protocol.ErrUnknownEntity, root)
	}
	b := s.batches[idx]
	if b.AnchorTxID != "" {
		return b.AnchorTxID, nil
	}
	anchoredAt := at
	b.AnchorTxID = txID
	b.AnchoredAt = &anchoredAt
	return txID, nil
}

func (s *InMemoryStorage) RecordConfirmation(_ context.Context, root protocol.Bytes32, blockHeight uint64, at time.Time) error {
	s.batchesMu.Lock()
	defer s.batchesMu.Unlock()

	idx, ok := s.byRoot[root]
	if !ok {
		return fmt.Errorf("%w: batch with root %s", protocol.ErrUnknownEntity, root)
	}
	b := s.batches[idx]
	if b.AnchorTxID == "" {
		return fmt.Errorf("batch %d has no anchor to confirm", b.Sequence)
	}
	if b.AnchorBlockHeight != nil {
		return nil
	}
	height := blockHeight
	confirmedAt := at
	b.AnchorBlockHeight = &height
	b.ConfirmedAt = &confirmedAt
	return nil
}

func (s *InMemoryStorage) HealthCheck(_ context.Context) *common.ComponentHealth {
	return common.HealthFromError("storage", nil, s.timeProvider.Now())
}
