// Package quorum decides how many distinct attestations a message needs.
package quorum

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// Policy returns the current attestation threshold.
type Policy interface {
	RequiredCount(ctx context.Context) (int, error)
	String() string
}

var (
	_ Policy = AbsolutePolicy{}
	_ Policy = (*FractionPolicy)(nil)
)

// AbsolutePolicy requires a fixed number of distinct validators.
type AbsolutePolicy struct {
	Count int
}

func (p AbsolutePolicy) RequiredCount(context.Context) (int, error) {
	return p.Count, nil
}

func (p AbsolutePolicy) String() string {
	return fmt.Sprintf("absolute(%d)", p.Count)
}

// FractionPolicy requires ceil(n * Numerator / Denominator) of the current validator set, at least one.
type FractionPolicy struct {
	Numerator   int
	Denominator int
	Validators  protocol.ValidatorSetSource
}

func (p *FractionPolicy) RequiredCount(ctx context.Context) (int, error) {
	validators, err := p.Validators.CurrentValidators(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get validator set: %w", err)
	}
	if len(validators) == 0 {
		return 0, errors.New("validator set is empty")
	}
	return Threshold(len(validators), p.Numerator, p.Denominator), nil
}

func (p *FractionPolicy) String() string {
	return fmt.Sprintf("fraction(%d/%d)", p.Numerator, p.Denominator)
}

// Threshold returns ceil(size * num / den), never less than one.
func Threshold(size, num, den int) int {
	required := (size*num + den - 1) / den
	if required < 1 {
		return 1
	}
	return required
}

// NewPolicy builds the policy selected by cfg. validators may be nil in absolute mode.
func NewPolicy(cfg model.QuorumConfig, validators protocol.ValidatorSetSource) (Policy, error) {
	switch cfg.Mode {
	case model.QuorumModeAbsolute:
		return AbsolutePolicy{Count: cfg.Count}, nil
	case model.QuorumModeFraction:
		if validators == nil {
			return nil, fmt.Errorf("%w: fraction quorum needs a validator set source", protocol.ErrNotConfigured)
		}
		return &FractionPolicy{Numerator: cfg.Numerator, Denominator: cfg.Denominator, Validators: validators}, nil
	default:
		return nil, fmt.Errorf("unsupported quorum mode %q", cfg.Mode)
	}
}
