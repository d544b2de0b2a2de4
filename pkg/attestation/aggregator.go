// Package attestation counts distinct validator attestations per message.
//
// The aggregator is agnostic to the quorum policy: callers pass the required count
// and receive a Tally whose Crossed flag is the quorum signal. Recording for a given
// message must be serialized by the caller for Crossed to fire exactly once.
package attestation

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// Tally is the attestation count of a message after a recording.
type Tally struct {
	MessageID     protocol.MessageID `json:"messageId"`
	Count         int                `json:"count"`
	Required      int                `json:"required"`
	QuorumReached bool               `json:"quorumReached"`
	// Crossed is true only on the recording that moved Count from below to at least Required.
	Crossed bool `json:"crossed"`
	// Replaced is true when a correction overwrote an earlier attestation.
	Replaced bool `json:"replaced,omitempty"`
}

type Aggregator struct {
	store            common.AttestationStore
	ledger           common.MessageLedger
	allowCorrections bool
	lggr             logger.SugaredLogger
}

func NewAggregator(store common.AttestationStore, ledger common.MessageLedger, allowCorrections bool, lggr logger.SugaredLogger) *Aggregator {
	return &Aggregator{
		store:            store,
		ledger:           ledger,
		allowCorrections: allowCorrections,
		lggr:             lggr,
	}
}

// Record stores att and returns the resulting tally.
// It fails with protocol.ErrUnknownEntity when the message does not exist and with
// protocol.ErrDuplicateAttestation when the validator already attested, unless att is a
// correction and corrections are enabled.
func (a *Aggregator) Record(ctx context.Context, att *protocol.Attestation, required int) (*Tally, error) {
	if att == nil || att.MessageID == "" || att.ValidatorID == "" {
		return nil, fmt.Errorf("%w: attestation requires message and validator ids", protocol.ErrInvalidInput)
	}
	if required < 1 {
		return nil, fmt.Errorf("%w: required count must be at least 1, got %d", protocol.ErrInvalidInput, required)
	}
	lggr := scope.AugmentLogger(ctx, a.lggr)

	if _, err := a.ledger.GetMessage(ctx, att.MessageID); err != nil {
		return nil, err
	}

	before, err := a.count(ctx, att.MessageID)
	if err != nil {
		return nil, err
	}

	replace := att.Correction && a.allowCorrections
	if err := a.store.SaveAttestation(ctx, att, replace); err != nil {
		if errors.Is(err, protocol.ErrDuplicateAttestation) {
			lggr.Debugw("Rejected duplicate attestation", "correction", att.Correction)
		}
		return nil, err
	}

	after, err := a.count(ctx, att.MessageID)
	if err != nil {
		return nil, err
	}

	tally := &Tally{
		MessageID:     att.MessageID,
		Count:         after,
		Required:      required,
		QuorumReached: after >= required,
		Crossed:       before < required && after >= required,
		Replaced:      replace && after == before,
	}
	if tally.Crossed {
		lggr.Infow("Quorum reached", "count", after, "required", required)
	}
	return tally, nil
}

// QuorumReached reports whether the message has at least required distinct attestations.
func (a *Aggregator) QuorumReached(ctx context.Context, id protocol.MessageID, required int) (bool, error) {
	tally, err := a.Tally(ctx, id, required)
	if err != nil {
		return false, err
	}
	return tally.QuorumReached, nil
}

// Tally returns the current count for a message without recording anything.
func (a *Aggregator) Tally(ctx context.Context, id protocol.MessageID, required int) (*Tally, error) {
	n, err := a.count(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Tally{MessageID: id, Count: n, Required: required, QuorumReached: n >= required}, nil
}

// Attestations returns the recorded attestations of a message ordered by validator id.
func (a *Aggregator) Attestations(ctx context.Context, id protocol.MessageID) ([]*protocol.Attestation, error) {
	return a.store.ListAttestations(ctx, id)
}

func (a *Aggregator) count(ctx context.Context, id protocol.MessageID) (int, error) {
	atts, err := a.store.ListAttestations(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to list attestations for %s: %w", id, err)
	}
	return len(atts), nil
}
