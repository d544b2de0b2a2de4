package rest

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

var _ protocol.AnchorService = (*AnchorClient)(nil)

type submitAnchorRequest struct {
	Root protocol.Bytes32 `json:"root"`
}

type submitAnchorResponse struct {
	TxID string `json:"txId"`
}

type confirmationResponse struct {
	TxID        string `json:"txId"`
	Pending     bool   `json:"pending"`
	BlockHeight uint64 `json:"blockHeight"`
}

// AnchorClient talks to an anchoring service that commits roots to a public ledger.
//
//	POST /anchors         {"root": "0x..."}  -> {"txId": "..."}
//	GET  /anchors/{txId}                     -> {"pending": false, "blockHeight": 123}
type AnchorClient struct {
	client *resty.Client
}

func NewAnchorClient(baseURL string, timeout time.Duration) *AnchorClient {
	return &AnchorClient{client: newClient(baseURL, timeout)}
}

func (a *AnchorClient) SubmitAnchor(ctx context.Context, root protocol.Bytes32) (string, error) {
	var out submitAnchorResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(submitAnchorRequest{Root: root}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/anchors")
	if err := checkResponse("submit anchor", resp, err); err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", errors.New("submit anchor: response carries no txId")
	}
	return out.TxID, nil
}

func (a *AnchorClient) GetConfirmation(ctx context.Context, txID string) (*protocol.AnchorConfirmation, error) {
	var out confirmationResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("txId", txID).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/anchors/{txId}")
	if err := checkResponse("get anchor confirmation", resp, err); err != nil {
		return nil, err
	}
	return &protocol.AnchorConfirmation{Pending: out.Pending, BlockHeight: out.BlockHeight}, nil
}
