package payment

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func newGatedRouter(gate *Gate) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/proof", RequirePayment(gate, func(*gin.Context) string { return resourceID }), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"served": true})
	})
	r.GET("/missing", RequirePayment(gate, func(*gin.Context) string { return "missing" }), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func encodeProof(t *testing.T, p *protocol.PaymentProof) string {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func doGated(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodePaymentRequired(t *testing.T, w *httptest.ResponseRecorder) PaymentRequiredResponse {
	t.Helper()
	var resp PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequirePayment(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	r := newGatedRouter(f.gate)

	w := doGated(r, "/proof", nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	resp := decodePaymentRequired(t, w)
	assert.Equal(t, 1, resp.X402Version)
	require.Len(t, resp.Accepts, 2)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0xpaid", mock.Anything).
		Return(&protocol.PaymentVerification{OK: true}, nil).Once()
	headers := map[string]string{
		HeaderPayment:   encodeProof(t, proof(baseAsset, "0xpaid", 10000)),
		HeaderRequestID: "req-1",
	}
	w = doGated(r, "/proof", headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"served":true}`, w.Body.String())

	raw, err := base64.StdEncoding.DecodeString(w.Header().Get(HeaderPaymentResponse))
	require.NoError(t, err)
	var grant protocol.PaymentGrant
	require.NoError(t, json.Unmarshal(raw, &grant))
	assert.Equal(t, "0xpaid", grant.TxHashOrID)
	assert.Equal(t, RequestStateVerified, f.gate.RequestState("req-1"))

	w = doGated(r, "/proof", headers)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	resp = decodePaymentRequired(t, w)
	assert.Contains(t, resp.Error, "payment replay")
	assert.Len(t, resp.Accepts, 2, "a rejected proof is answered with fresh offers")

	w = doGated(r, "/proof", map[string]string{HeaderPaymentGrant: grant.Token})
	assert.Equal(t, http.StatusPaymentRequired, w.Code, "the grant was used by the paid request")
}

func TestRequirePayment_ErrorMapping(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	r := newGatedRouter(f.gate)
	f.presentOffers(t)

	t.Run("malformed header", func(t *testing.T) {
		w := doGated(r, "/proof", map[string]string{HeaderPayment: "%%%"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doGated(r, "/proof", map[string]string{HeaderPayment: base64.StdEncoding.EncodeToString([]byte("nope"))})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown resource", func(t *testing.T) {
		w := doGated(r, "/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("indeterminate verification", func(t *testing.T) {
		facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0xslow", mock.Anything).
			Return(nil, protocol.ErrIndeterminate).Once()
		w := doGated(r, "/proof", map[string]string{HeaderPayment: encodeProof(t, proof(baseAsset, "0xslow", 10000))})
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.True(t, decodePaymentRequired(t, w).Retryable)
	})

	t.Run("insufficient payment", func(t *testing.T) {
		w := doGated(r, "/proof", map[string]string{HeaderPayment: encodeProof(t, proof(baseAsset, "0xcheap", 1))})
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		resp := decodePaymentRequired(t, w)
		assert.Contains(t, resp.Error, "insufficient")
		assert.False(t, resp.Retryable)
	})
}
