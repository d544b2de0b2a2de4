package resilience

import (
	"context"
	"math/big"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

var (
	_ protocol.ChainLookup        = (*ChainLookup)(nil)
	_ protocol.AnchorService      = (*AnchorService)(nil)
	_ protocol.PaymentFacilitator = (*PaymentFacilitator)(nil)
	_ protocol.ValidatorSetSource = (*ValidatorSetSource)(nil)
)

// ChainLookup decorates a protocol.ChainLookup. ErrTxNotFound is definitive and never retried.
type ChainLookup struct {
	delegate protocol.ChainLookup
	exec     *Executor
}

func NewChainLookup(delegate protocol.ChainLookup, exec *Executor) *ChainLookup {
	return &ChainLookup{delegate: delegate, exec: exec}
}

func (c *ChainLookup) Lookup(ctx context.Context, chain protocol.ChainSelector, txRef protocol.Bytes32) (*protocol.ChainTx, error) {
	return Do(ctx, c.exec, "lookup", func(ctx context.Context) (*protocol.ChainTx, error) {
		return c.delegate.Lookup(ctx, chain, txRef)
	})
}

// AnchorService decorates a protocol.AnchorService. Submissions are attempted once because a
// repeated submission could anchor the same root twice; confirmations are retried.
type AnchorService struct {
	delegate protocol.AnchorService
	exec     *Executor
}

func NewAnchorService(delegate protocol.AnchorService, exec *Executor) *AnchorService {
	return &AnchorService{delegate: delegate, exec: exec}
}

func (a *AnchorService) SubmitAnchor(ctx context.Context, root protocol.Bytes32) (string, error) {
	return DoOnce(ctx, a.exec, "submit_anchor", func(ctx context.Context) (string, error) {
		return a.delegate.SubmitAnchor(ctx, root)
	})
}

func (a *AnchorService) GetConfirmation(ctx context.Context, txID string) (*protocol.AnchorConfirmation, error) {
	return Do(ctx, a.exec, "get_confirmation", func(ctx context.Context) (*protocol.AnchorConfirmation, error) {
		return a.delegate.GetConfirmation(ctx, txID)
	})
}

type PaymentFacilitator struct {
	delegate protocol.PaymentFacilitator
	exec     *Executor
}

func NewPaymentFacilitator(delegate protocol.PaymentFacilitator, exec *Executor) *PaymentFacilitator {
	return &PaymentFacilitator{delegate: delegate, exec: exec}
}

func (p *PaymentFacilitator) RequestPayIntent(ctx context.Context, resourceID, assetKey string) (*protocol.PaymentOffer, error) {
	return Do(ctx, p.exec, "request_pay_intent", func(ctx context.Context) (*protocol.PaymentOffer, error) {
		return p.delegate.RequestPayIntent(ctx, resourceID, assetKey)
	})
}

func (p *PaymentFacilitator) VerifyPayment(ctx context.Context, assetKey, txHashOrID string, amount *big.Int) (*protocol.PaymentVerification, error) {
	return Do(ctx, p.exec, "verify_payment", func(ctx context.Context) (*protocol.PaymentVerification, error) {
		return p.delegate.VerifyPayment(ctx, assetKey, txHashOrID, amount)
	})
}

type ValidatorSetSource struct {
	delegate protocol.ValidatorSetSource
	exec     *Executor
}

func NewValidatorSetSource(delegate protocol.ValidatorSetSource, exec *Executor) *ValidatorSetSource {
	return &ValidatorSetSource{delegate: delegate, exec: exec}
}

func (v *ValidatorSetSource) CurrentValidators(ctx context.Context) ([]protocol.ValidatorID, error) {
	return Do(ctx, v.exec, "current_validators", func(ctx context.Context) ([]protocol.ValidatorID, error) {
		return v.delegate.CurrentValidators(ctx)
	})
}
