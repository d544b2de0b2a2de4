package protocol

import (
	"context"
	"math/big"
)

// ChainTx is what a chain lookup knows about a source transaction.
type ChainTx struct {
	Exists        bool
	PayloadDigest Bytes32
	BlockHeight   uint64
}

// ChainLookup independently reads source chain transactions.
type ChainLookup interface {
	// Lookup returns ErrTxNotFound when the transaction does not exist on the chain.
	Lookup(ctx context.Context, chain ChainSelector, txRef Bytes32) (*ChainTx, error)
}

// AnchorConfirmation is the inclusion status of an anchor transaction.
type AnchorConfirmation struct {
	Pending     bool
	BlockHeight uint64
}

// AnchorService commits batch roots to an immutable ledger.
type AnchorService interface {
	SubmitAnchor(ctx context.Context, root Bytes32) (string, error)
	GetConfirmation(ctx context.Context, txID string) (*AnchorConfirmation, error)
}

// PaymentFacilitator negotiates and verifies payments on behalf of the gate.
type PaymentFacilitator interface {
	RequestPayIntent(ctx context.Context, resourceID, assetKey string) (*PaymentOffer, error)
	VerifyPayment(ctx context.Context, assetKey, txHashOrID string, amount *big.Int) (*PaymentVerification, error)
}

// ValidatorSetSource provides the current validator membership.
type ValidatorSetSource interface {
	CurrentValidators(ctx context.Context) ([]ValidatorID, error)
}
