package protocol

import (
	"fmt"
	"time"
)

// MessageState is the verification lifecycle state of a cross-chain message.
type MessageState string

const (
	// MessageStatePending means the message was submitted and no attestation has been accepted yet.
	MessageStatePending MessageState = "pending"
	// MessageStateAttesting means at least one attestation was accepted and verification is not finished.
	MessageStateAttesting MessageState = "attesting"
	// MessageStateVerified means quorum was reached and the source transaction was independently confirmed.
	MessageStateVerified MessageState = "verified"
	// MessageStateFailed means a validity check failed or the attestation deadline elapsed.
	MessageStateFailed MessageState = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s MessageState) IsTerminal() bool {
	return s == MessageStateVerified || s == MessageStateFailed
}

// IsValid reports whether s is one of the known states.
func (s MessageState) IsValid() bool {
	switch s {
	case MessageStatePending, MessageStateAttesting, MessageStateVerified, MessageStateFailed:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[MessageState][]MessageState{
	MessageStatePending:   {MessageStateAttesting},
	MessageStateAttesting: {MessageStateVerified, MessageStateFailed},
}

// CanTransition reports whether the state machine permits the edge from -> to.
func CanTransition(from, to MessageState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureReason explains why a message ended in the failed state.
type FailureReason string

const (
	FailureReasonNone                FailureReason = ""
	FailureReasonAttestationMismatch FailureReason = "attestation_mismatch"
	FailureReasonAttestationTimeout  FailureReason = "attestation_timeout"
	FailureReasonInvalidClaim        FailureReason = "invalid_claim"
	// FailureReasonLookupUnavailable is used once the chain lookup stayed indeterminate for
	// the configured number of verification rounds after quorum.
	FailureReasonLookupUnavailable FailureReason = "lookup_unavailable"
)

// CrossChainMessage is a message observed on a source chain whose delivery is being verified.
type CrossChainMessage struct {
	ID               MessageID     `json:"id"`
	SourceChain      ChainSelector `json:"sourceChain"`
	DestinationChain ChainSelector `json:"destinationChain"`
	Payload          ByteSlice     `json:"payload"`
	Nonce            Nonce         `json:"nonce"`
	Sender           string        `json:"sender"`
	// SourceTxHash references the source chain transaction that emitted the message.
	SourceTxHash Bytes32 `json:"sourceTxHash"`
	// Sequence is the logical submission timestamp. It is strictly increasing in submission order.
	Sequence       uint64        `json:"sequence"`
	SubmittedAt    time.Time     `json:"submittedAt"`
	State          MessageState  `json:"state"`
	FailureReason  FailureReason `json:"failureReason,omitempty"`
	AttestingSince *time.Time    `json:"attestingSince,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// ReplayKey is the (sourceChain, sender, nonce) triple that must be unique across submissions.
type ReplayKey struct {
	SourceChain ChainSelector
	Sender      string
	Nonce       Nonce
}

func (k ReplayKey) String() string {
	return fmt.Sprintf("%d/%s/%d", k.SourceChain, k.Sender, k.Nonce)
}

// ReplayKey returns the uniqueness triple of the message.
func (m *CrossChainMessage) ReplayKey() ReplayKey {
	return ReplayKey{SourceChain: m.SourceChain, Sender: m.Sender, Nonce: m.Nonce}
}

// PayloadDigest returns the keccak256 digest of the payload, compared against the chain lookup result.
func (m *CrossChainMessage) PayloadDigest() Bytes32 {
	return Keccak256(m.Payload)
}

// Clone returns a deep copy so that stores never hand out shared mutable state.
func (m *CrossChainMessage) Clone() *CrossChainMessage {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append(ByteSlice{}, m.Payload...)
	}
	if m.AttestingSince != nil {
		t := *m.AttestingSince
		c.AttestingSince = &t
	}
	return &c
}
