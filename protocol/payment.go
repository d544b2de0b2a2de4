package protocol

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// PaymentOffer is one acceptable way of paying for a gated resource.
type PaymentOffer struct {
	ID           string        `json:"id"`
	ResourceID   string        `json:"resourceId"`
	Asset        string        `json:"asset"`
	ChainID      ChainSelector `json:"chainId"`
	TokenAddress string        `json:"tokenAddress"`
	PayTo        string        `json:"payTo"`
	Amount       *big.Int      `json:"amount"`
	Currency     string        `json:"currency"`
	Deadline     time.Time     `json:"deadline"`
}

// AssetKey identifies the asset an offer is denominated in: chain id plus token address.
func (o *PaymentOffer) AssetKey() string {
	return NewAssetKey(o.ChainID, o.TokenAddress)
}

// IsExpired reports whether the offer deadline has passed at now.
func (o *PaymentOffer) IsExpired(now time.Time) bool {
	return !now.Before(o.Deadline)
}

// NewAssetKey builds the canonical asset key used to match proofs against offers.
func NewAssetKey(chainID ChainSelector, tokenAddress string) string {
	return fmt.Sprintf("%d:%s", uint64(chainID), strings.ToLower(tokenAddress))
}

// PaymentProof is the caller's claim that a payment was made.
type PaymentProof struct {
	AssetKey   string   `json:"assetKey"`
	TxHashOrID string   `json:"txHashOrId"`
	Amount     *big.Int `json:"amount"`
}

// PaymentVerification is the facilitator's verdict on a proof.
type PaymentVerification struct {
	OK    bool      `json:"ok"`
	Proof ByteSlice `json:"proof,omitempty"`
}

// PaymentGrant allows exactly one access to the resource it was issued for.
type PaymentGrant struct {
	Token      string    `json:"token"`
	ResourceID string    `json:"resourceId"`
	TxHashOrID string    `json:"txHashOrId"`
	OfferID    string    `json:"offerId"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
