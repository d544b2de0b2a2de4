// Package verification drives cross-chain messages through their lifecycle.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/attestation"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/quorum"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const maxConsecutivePanics = 3

// MembershipChecker tells whether a validator belongs to the current set.
type MembershipChecker interface {
	IsMember(ctx context.Context, id protocol.ValidatorID) (bool, error)
}

// AttestationOutcome is the result of recording an attestation.
type AttestationOutcome struct {
	Message *protocol.CrossChainMessage `json:"message"`
	Tally   *attestation.Tally          `json:"tally"`
	// VerificationPending is set when quorum was reached but the chain lookup was indeterminate.
	// The sweeper retries the lookup.
	VerificationPending bool `json:"verificationPending,omitempty"`
}

type Params struct {
	Config       model.VerificationConfig
	Ledger       common.MessageLedger
	Aggregator   *attestation.Aggregator
	Policy       quorum.Policy
	Membership   MembershipChecker
	ChainLookup  protocol.ChainLookup
	Events       common.EventSink
	Monitoring   common.CoordinatorMonitoring
	TimeProvider common.TimeProvider
	Logger       logger.SugaredLogger
}

// Engine owns every message state transition. All work on a message runs under
// that message's lock so quorum evaluation and the resulting transition are atomic.
type Engine struct {
	services.StateMachine
	wg     sync.WaitGroup
	stopCh services.StopChan

	cfg          model.VerificationConfig
	ledger       common.MessageLedger
	aggregator   *attestation.Aggregator
	policy       quorum.Policy
	membership   MembershipChecker
	chainLookup  protocol.ChainLookup
	events       common.EventSink
	monitoring   common.CoordinatorMonitoring
	timeProvider common.TimeProvider
	lggr         logger.SugaredLogger

	supportedChains map[protocol.ChainSelector]struct{}
	locks           *keyedMutex[protocol.MessageID]

	roundsMu     sync.Mutex
	lookupRounds map[protocol.MessageID]int

	sweepMu           sync.RWMutex
	lastSweep         time.Time
	lastSweepErr      error
	consecutivePanics int
}

var _ services.Service = (*Engine)(nil)

func NewEngine(p Params) (*Engine, error) {
	if p.Ledger == nil || p.Aggregator == nil || p.Policy == nil {
		return nil, errors.New("ledger, aggregator and policy are required")
	}
	if p.ChainLookup == nil {
		return nil, fmt.Errorf("%w: chain lookup is required to verify messages", protocol.ErrNotConfigured)
	}
	if p.TimeProvider == nil {
		p.TimeProvider = common.NewRealTimeProvider()
	}

	supported := make(map[protocol.ChainSelector]struct{}, len(p.Config.SupportedChains))
	for _, selector := range p.Config.SupportedChains {
		supported[protocol.ChainSelector(selector)] = struct{}{}
	}

	return &Engine{
		stopCh:          make(chan struct{}),
		cfg:             p.Config,
		ledger:          p.Ledger,
		aggregator:      p.Aggregator,
		policy:          p.Policy,
		membership:      p.Membership,
		chainLookup:     p.ChainLookup,
		events:          p.Events,
		monitoring:      p.Monitoring,
		timeProvider:    p.TimeProvider,
		lggr:            p.Logger,
		supportedChains: supported,
		locks:           newKeyedMutex[protocol.MessageID](),
		lookupRounds:    make(map[protocol.MessageID]int),
	}, nil
}

func (e *Engine) logger(ctx context.Context) logger.SugaredLogger {
	return scope.AugmentLogger(ctx, e.lggr)
}

// SubmitMessage stores a new message in the pending state.
func (e *Engine) SubmitMessage(ctx context.Context, msg *protocol.CrossChainMessage) (protocol.MessageID, error) {
	if msg == nil || msg.Sender == "" {
		return "", fmt.Errorf("%w: message requires a sender", protocol.ErrInvalidInput)
	}

	id, err := e.ledger.SubmitMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	ctx = scope.WithMessageID(ctx, id)

	e.monitoring.Metrics().IncrementMessagesSubmitted(ctx)
	e.logger(ctx).Infow("Message submitted",
		"sourceChain", msg.SourceChain,
		"destinationChain", msg.DestinationChain,
		"nonce", msg.Nonce)
	e.publish(protocol.Event{
		Type:     protocol.EventTypeMessageSubmitted,
		EntityID: string(id),
		Data:     protocol.MessageStateChange{MessageID: id, To: protocol.MessageStatePending},
	})
	return id, nil
}

// GetMessage returns the current state of a message.
func (e *Engine) GetMessage(ctx context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error) {
	return e.ledger.GetMessage(ctx, id)
}

// ListPendingMessages returns all non-terminal messages in submission order.
func (e *Engine) ListPendingMessages(ctx context.Context) ([]*protocol.CrossChainMessage, error) {
	return e.ledger.ListPendingMessages(ctx)
}

// Attestations returns the attestations recorded for a message.
func (e *Engine) Attestations(ctx context.Context, id protocol.MessageID) ([]*protocol.Attestation, error) {
	if _, err := e.ledger.GetMessage(ctx, id); err != nil {
		return nil, err
	}
	return e.aggregator.Attestations(ctx, id)
}

// RecordAttestation records att and applies the resulting transitions.
// Attestations for terminal messages are stored without any transition.
func (e *Engine) RecordAttestation(ctx context.Context, att *protocol.Attestation) (*AttestationOutcome, error) {
	if att == nil || att.MessageID == "" || att.ValidatorID == "" {
		return nil, fmt.Errorf("%w: attestation requires message and validator ids", protocol.ErrInvalidInput)
	}
	ctx = scope.WithValidatorID(scope.WithMessageID(ctx, att.MessageID), att.ValidatorID)
	metrics := e.monitoring.Metrics()

	unlock := e.locks.Lock(att.MessageID)
	defer unlock()

	outcome, err := e.recordAttestation(ctx, att)
	switch {
	case err == nil:
		metrics.IncrementAttestations(ctx, "accepted")
	case errors.Is(err, protocol.ErrDuplicateAttestation):
		metrics.IncrementAttestations(ctx, "duplicate")
	case errors.Is(err, protocol.ErrUnknownValidator):
		metrics.IncrementAttestations(ctx, "unknown_validator")
	case errors.Is(err, protocol.ErrAttestationTimeout):
		metrics.IncrementAttestations(ctx, "late")
	default:
		metrics.IncrementAttestations(ctx, "error")
	}
	return outcome, err
}

func (e *Engine) recordAttestation(ctx context.Context, att *protocol.Attestation) (*AttestationOutcome, error) {
	lggr := e.logger(ctx)

	msg, err := e.ledger.GetMessage(ctx, att.MessageID)
	if err != nil {
		return nil, err
	}

	if e.membership != nil {
		member, err := e.membership.IsMember(ctx, att.ValidatorID)
		if err != nil {
			return nil, fmt.Errorf("%w: validator set unavailable: %w", protocol.ErrIndeterminate, err)
		}
		if !member {
			return nil, fmt.Errorf("%w: %w: %s", protocol.ErrUnknownEntity, protocol.ErrUnknownValidator, att.ValidatorID)
		}
	}

	required, err := e.requiredCount(ctx)
	if err != nil {
		return nil, err
	}

	if msg.State == protocol.MessageStateAttesting && e.deadlinePassed(msg) {
		reached, err := e.aggregator.QuorumReached(ctx, msg.ID, required)
		if err != nil {
			return nil, err
		}
		if !reached {
			if _, err := e.transition(ctx, msg, protocol.MessageStateFailed, protocol.FailureReasonAttestationTimeout); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: deadline of %s elapsed for message %s", protocol.ErrAttestationTimeout, e.cfg.AttestationDeadline, msg.ID)
		}
	}

	tally, err := e.aggregator.Record(ctx, att, required)
	if err != nil {
		return nil, err
	}
	outcome := &AttestationOutcome{Message: msg, Tally: tally}

	if msg.State.IsTerminal() {
		lggr.Debugw("Attestation recorded for terminal message", "state", msg.State)
		return outcome, nil
	}

	if msg.State == protocol.MessageStatePending {
		if msg, err = e.transition(ctx, msg, protocol.MessageStateAttesting, protocol.FailureReasonNone); err != nil {
			return nil, err
		}
		outcome.Message = msg
		if reason := e.claimViolation(msg); reason != "" {
			lggr.Warnw("Message claim is invalid", "violation", reason)
			outcome.Message, err = e.transition(ctx, msg, protocol.MessageStateFailed, protocol.FailureReasonInvalidClaim)
			return outcome, err
		}
	}

	// Only the recording that crossed quorum verifies inline. Later rounds belong to Evaluate and the sweeper.
	if tally.Crossed {
		outcome.Message, outcome.VerificationPending, err = e.verify(ctx, msg)
		if err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// Evaluate re-applies the deadline and verification rules to a message.
// It is idempotent: terminal and pending messages are returned unchanged.
func (e *Engine) Evaluate(ctx context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error) {
	ctx = scope.WithMessageID(ctx, id)

	unlock := e.locks.Lock(id)
	defer unlock()

	msg, err := e.ledger.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.State != protocol.MessageStateAttesting {
		return msg, nil
	}

	required, err := e.requiredCount(ctx)
	if err != nil {
		return nil, err
	}
	reached, err := e.aggregator.QuorumReached(ctx, id, required)
	if err != nil {
		return nil, err
	}

	if !reached {
		if e.deadlinePassed(msg) {
			return e.transition(ctx, msg, protocol.MessageStateFailed, protocol.FailureReasonAttestationTimeout)
		}
		return msg, nil
	}

	msg, _, err = e.verify(ctx, msg)
	return msg, err
}

// verify performs the independent chain lookup of a quorum-reached message.
// An indeterminate lookup leaves the message attesting until MaxLookupRounds is exhausted.
func (e *Engine) verify(ctx context.Context, msg *protocol.CrossChainMessage) (*protocol.CrossChainMessage, bool, error) {
	lggr := e.logger(ctx)

	tx, err := e.chainLookup.Lookup(ctx, msg.SourceChain, msg.SourceTxHash)
	switch {
	case errors.Is(err, protocol.ErrTxNotFound):
		lggr.Warnw("Source transaction not found", "sourceTxHash", msg.SourceTxHash.String())
		updated, err := e.transition(ctx, msg, protocol.MessageStateFailed, protocol.FailureReasonAttestationMismatch)
		return updated, false, err
	case err != nil:
		rounds := e.incrementLookupRounds(msg.ID)
		lggr.Warnw("Chain lookup indeterminate", "error", err, "round", rounds, "maxRounds", e.cfg.MaxLookupRounds)
		if rounds >= e.cfg.MaxLookupRounds {
			updated, err := e.transition(ctx, msg, protocol.MessageStateFailed, protocol.FailureReasonLookupUnavailable)
			return updated, false, err
		}
		return msg, true, nil
	}

	if !tx.Exists || tx.PayloadDigest != msg.PayloadDigest() {
		lggr.Warnw("Chain lookup contradicts attested claim",
			"exists", tx.Exists,
			"chainDigest", tx.PayloadDigest.String(),
			"claimedDigest", msg.PayloadDigest().String())
		updated, err := e.transition(ctx, msg, protocol.MessageStateFailed, protocol.FailureReasonAttestationMismatch)
		return updated, false, err
	}

	lggr.Infow("Source transaction confirmed", "blockHeight", tx.BlockHeight)
	updated, err := e.transition(ctx, msg, protocol.MessageStateVerified, protocol.FailureReasonNone)
	return updated, false, err
}

func (e *Engine) transition(ctx context.Context, msg *protocol.CrossChainMessage, to protocol.MessageState, reason protocol.FailureReason) (*protocol.CrossChainMessage, error) {
	now := e.timeProvider.Now()
	updated, err := e.ledger.TransitionMessage(ctx, msg.ID, to, reason, now)
	if err != nil {
		return nil, err
	}

	metrics := e.monitoring.Metrics()
	metrics.IncrementMessageTransitions(ctx, string(to))
	if to.IsTerminal() {
		metrics.RecordTimeToVerification(ctx, now.Sub(updated.SubmittedAt))
		e.clearLookupRounds(msg.ID)
	}

	e.logger(ctx).Infow("Message state changed", "from", msg.State, "to", to, "reason", reason)
	e.publish(protocol.Event{
		Type:     protocol.EventTypeMessageStateChanged,
		EntityID: string(msg.ID),
		Data: protocol.MessageStateChange{
			MessageID: msg.ID,
			From:      msg.State,
			To:        to,
			Reason:    reason,
		},
	})
	return updated, nil
}

// claimViolation returns a description of why the message claim is invalid, or "".
func (e *Engine) claimViolation(msg *protocol.CrossChainMessage) string {
	switch {
	case msg.SourceChain == msg.DestinationChain:
		return "source and destination chains are equal"
	case len(msg.Payload) == 0:
		return "payload is empty"
	case msg.SourceTxHash.IsEmpty():
		return "source transaction hash is missing"
	}
	if _, ok := e.supportedChains[msg.SourceChain]; !ok {
		return fmt.Sprintf("source chain %d is not supported", msg.SourceChain)
	}
	return ""
}

func (e *Engine) requiredCount(ctx context.Context) (int, error) {
	required, err := e.policy.RequiredCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: quorum policy %s: %w", protocol.ErrIndeterminate, e.policy, err)
	}
	return required, nil
}

func (e *Engine) deadlinePassed(msg *protocol.CrossChainMessage) bool {
	if msg.AttestingSince == nil {
		return false
	}
	return !e.timeProvider.Now().Before(msg.AttestingSince.Add(e.cfg.AttestationDeadline))
}

func (e *Engine) incrementLookupRounds(id protocol.MessageID) int {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()
	e.lookupRounds[id]++
	return e.lookupRounds[id]
}

func (e *Engine) clearLookupRounds(id protocol.MessageID) {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()
	delete(e.lookupRounds, id)
}

func (e *Engine) publish(evt protocol.Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}
