package rest

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/resilience"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestAnchorClient(t *testing.T) {
	root := protocol.Keccak256([]byte("root"))
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/anchors":
			var req submitAnchorRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Root != root {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad root"})
				return
			}
			writeJSON(w, http.StatusOK, submitAnchorResponse{TxID: "0xanchor"})
		case r.URL.Path == "/anchors/0xanchor":
			writeJSON(w, http.StatusOK, confirmationResponse{TxID: "0xanchor", BlockHeight: 99})
		case r.URL.Path == "/anchors/0xpending":
			writeJSON(w, http.StatusOK, confirmationResponse{TxID: "0xpending", Pending: true})
		case r.URL.Path == "/anchors/0xflaky":
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream node down"})
		default:
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown anchor"})
		}
	})
	client := NewAnchorClient(srv.URL, time.Second)
	ctx := context.Background()

	txID, err := client.SubmitAnchor(ctx, root)
	require.NoError(t, err)
	require.Equal(t, "0xanchor", txID)

	_, err = client.SubmitAnchor(ctx, protocol.Bytes32{})
	require.ErrorContains(t, err, "bad root")
	require.True(t, resilience.IsPermanent(err))

	conf, err := client.GetConfirmation(ctx, "0xanchor")
	require.NoError(t, err)
	require.False(t, conf.Pending)
	require.Equal(t, uint64(99), conf.BlockHeight)

	conf, err = client.GetConfirmation(ctx, "0xpending")
	require.NoError(t, err)
	require.True(t, conf.Pending)

	_, err = client.GetConfirmation(ctx, "0xflaky")
	require.ErrorContains(t, err, "upstream node down")
	require.False(t, resilience.IsPermanent(err))

	_, err = client.GetConfirmation(ctx, "0xmissing")
	require.ErrorIs(t, err, protocol.ErrUnknownEntity)
}

func TestFacilitatorClient(t *testing.T) {
	assetKey := protocol.NewAssetKey(84532, "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pay-intents":
			var req payIntentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusOK, protocol.PaymentOffer{
				ResourceID: req.ResourceID,
				ChainID:    84532,
				Amount:     big.NewInt(5000),
				PayTo:      "0x0000000000000000000000000000000000000b0b",
			})
		case "/verify":
			var req verifyRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			switch req.TxHashOrID {
			case "0xgood":
				writeJSON(w, http.StatusOK, map[string]any{"isValid": true, "proof": "0x01ff"})
			case "0xbad":
				writeJSON(w, http.StatusOK, map[string]any{"isValid": false, "invalidReason": "amount mismatch"})
			default:
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "chain unavailable"})
			}
		}
	})
	client := NewFacilitatorClient(srv.URL, time.Second)
	ctx := context.Background()

	offer, err := client.RequestPayIntent(ctx, "receipt-proof", assetKey)
	require.NoError(t, err)
	assert.Equal(t, "receipt-proof", offer.ResourceID)
	assert.Equal(t, big.NewInt(5000), offer.Amount)

	v, err := client.VerifyPayment(ctx, assetKey, "0xgood", big.NewInt(5000))
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, protocol.ByteSlice{0x01, 0xff}, v.Proof)

	v, err = client.VerifyPayment(ctx, assetKey, "0xbad", big.NewInt(5000))
	require.NoError(t, err)
	assert.False(t, v.OK)

	_, err = client.VerifyPayment(ctx, assetKey, "0xunknown", big.NewInt(5000))
	require.ErrorContains(t, err, "chain unavailable")
	require.False(t, resilience.IsPermanent(err))
}

func TestValidatorSets(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, validatorSetResponse{Validators: []protocol.ValidatorID{"v1", "v2", "v3"}})
	})

	got, err := NewValidatorSetClient(srv.URL+"/validators", time.Second).CurrentValidators(context.Background())
	require.NoError(t, err)
	require.Equal(t, []protocol.ValidatorID{"v1", "v2", "v3"}, got)

	static := NewStaticValidatorSet([]string{"a", "b"})
	got, err = static.CurrentValidators(context.Background())
	require.NoError(t, err)
	got[0] = "mutated"
	again, _ := static.CurrentValidators(context.Background())
	require.Equal(t, protocol.ValidatorID("a"), again[0])
}
