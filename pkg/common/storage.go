// Package common provides the interfaces shared by the coordinator components.
package common

import (
	"context"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// MessageLedger is the authoritative store of cross-chain messages and their lifecycle state.
type MessageLedger interface {
	// SubmitMessage persists msg in the pending state and assigns its id and sequence.
	// It returns protocol.ErrDuplicateSubmission when the (sourceChain, sender, nonce) triple exists.
	SubmitMessage(ctx context.Context, msg *protocol.CrossChainMessage) (protocol.MessageID, error)
	// GetMessage returns protocol.ErrUnknownEntity when the message does not exist.
	GetMessage(ctx context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error)
	// ListPendingMessages returns all non-terminal messages in submission order.
	ListPendingMessages(ctx context.Context) ([]*protocol.CrossChainMessage, error)
	// TransitionMessage moves a message to the given state. It is the only mutator of message state
	// and returns protocol.ErrInvalidTransition when the edge is not permitted.
	TransitionMessage(ctx context.Context, id protocol.MessageID, to protocol.MessageState, reason protocol.FailureReason, at time.Time) (*protocol.CrossChainMessage, error)
}

// AttestationStore holds at most one attestation per (message, validator).
type AttestationStore interface {
	// SaveAttestation returns protocol.ErrDuplicateAttestation when the validator already attested,
	// unless replace is set, in which case the earlier attestation is overwritten.
	SaveAttestation(ctx context.Context, att *protocol.Attestation, replace bool) error
	// ListAttestations returns the attestations of a message ordered by validator id.
	ListAttestations(ctx context.Context, id protocol.MessageID) ([]*protocol.Attestation, error)
}

// BatchStore persists sealed Merkle batches and their anchor references.
type BatchStore interface {
	// SaveBatch stores a sealed batch and returns its assigned sequence.
	SaveBatch(ctx context.Context, batch *protocol.MerkleBatch) (uint64, error)
	GetBatch(ctx context.Context, sequence uint64) (*protocol.MerkleBatch, error)
	GetBatchByRoot(ctx context.Context, root protocol.Bytes32) (*protocol.MerkleBatch, error)
	// LatestUnanchoredBatch returns the most recent batch without an anchor, or protocol.ErrUnknownEntity.
	LatestUnanchoredBatch(ctx context.Context) (*protocol.MerkleBatch, error)
	// ListUnanchoredBatches returns sealed batches without an anchor in sequence order.
	ListUnanchoredBatches(ctx context.Context) ([]*protocol.MerkleBatch, error)
	// ListUnconfirmedBatches returns anchored batches that have no confirmed block height.
	ListUnconfirmedBatches(ctx context.Context) ([]*protocol.MerkleBatch, error)
	// RecordAnchor sets the anchor tx id for every batch with root unless one is already set.
	// It returns the tx id that is stored after the call.
	RecordAnchor(ctx context.Context, root protocol.Bytes32, txID string, at time.Time) (string, error)
	// RecordConfirmation sets the confirmed block height for the anchor transaction.
	RecordConfirmation(ctx context.Context, root protocol.Bytes32, blockHeight uint64, at time.Time) error
}

// CoordinatorStorage is implemented by every storage backend.
type CoordinatorStorage interface {
	MessageLedger
	AttestationStore
	BatchStore
	HealthChecker
}
