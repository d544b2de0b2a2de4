package rest

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

var (
	_ protocol.ValidatorSetSource = (*ValidatorSetClient)(nil)
	_ protocol.ValidatorSetSource = StaticValidatorSet(nil)
)

type validatorSetResponse struct {
	Validators []protocol.ValidatorID `json:"validators"`
}

// ValidatorSetClient fetches the validator set from a URL answering {"validators": [...]}.
type ValidatorSetClient struct {
	client *resty.Client
	url    string
}

func NewValidatorSetClient(url string, timeout time.Duration) *ValidatorSetClient {
	return &ValidatorSetClient{client: newClient("", timeout), url: url}
}

func (v *ValidatorSetClient) CurrentValidators(ctx context.Context) ([]protocol.ValidatorID, error) {
	var out validatorSetResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Get(v.url)
	if err := checkResponse("fetch validator set", resp, err); err != nil {
		return nil, err
	}
	return out.Validators, nil
}

// StaticValidatorSet is a validator set fixed in configuration.
type StaticValidatorSet []protocol.ValidatorID

func NewStaticValidatorSet(ids []string) StaticValidatorSet {
	set := make(StaticValidatorSet, 0, len(ids))
	for _, id := range ids {
		set = append(set, protocol.ValidatorID(id))
	}
	return set
}

func (s StaticValidatorSet) CurrentValidators(context.Context) ([]protocol.ValidatorID, error) {
	return append([]protocol.ValidatorID(nil), s...), nil
}
