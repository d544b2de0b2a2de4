package rest

import (
	"context"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

var _ protocol.PaymentFacilitator = (*FacilitatorClient)(nil)

type payIntentRequest struct {
	ResourceID string `json:"resourceId"`
	AssetKey   string `json:"assetKey"`
}

type verifyRequest struct {
	AssetKey   string   `json:"assetKey"`
	TxHashOrID string   `json:"txHashOrId"`
	Amount     *big.Int `json:"amount"`
}

type verifyResponse struct {
	Valid  bool   `json:"isValid"`
	Reason string `json:"invalidReason,omitempty"`
	Payer  string `json:"payer,omitempty"`

	// Proof is the facilitator's signed evidence of the settlement, when it provides one.
	Proof protocol.ByteSlice `json:"proof,omitempty"`
}

// FacilitatorClient talks to an x402 style payment facilitator.
//
//	POST /pay-intents {"resourceId", "assetKey"}             -> PaymentOffer
//	POST /verify      {"assetKey", "txHashOrId", "amount"}   -> {"isValid": true}
type FacilitatorClient struct {
	client *resty.Client
}

func NewFacilitatorClient(baseURL string, timeout time.Duration) *FacilitatorClient {
	return &FacilitatorClient{client: newClient(baseURL, timeout)}
}

func (f *FacilitatorClient) RequestPayIntent(ctx context.Context, resourceID, assetKey string) (*protocol.PaymentOffer, error) {
	var offer protocol.PaymentOffer
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(payIntentRequest{ResourceID: resourceID, AssetKey: assetKey}).
		SetResult(&offer).
		SetError(&errorBody{}).
		Post("/pay-intents")
	if err := checkResponse("request pay intent", resp, err); err != nil {
		return nil, err
	}
	return &offer, nil
}

// VerifyPayment returns OK=false when the facilitator examined the payment and found it invalid.
func (f *FacilitatorClient) VerifyPayment(ctx context.Context, assetKey, txHashOrID string, amount *big.Int) (*protocol.PaymentVerification, error) {
	var out verifyResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(verifyRequest{AssetKey: assetKey, TxHashOrID: txHashOrID, Amount: amount}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/verify")
	if err := checkResponse("verify payment", resp, err); err != nil {
		return nil, err
	}
	return &protocol.PaymentVerification{OK: out.Valid, Proof: out.Proof}, nil
}
