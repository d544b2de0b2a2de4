package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

const (
	// HeaderPayment carries a base64 encoded JSON PaymentProof on the retried request.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentGrant carries a grant token obtained from a previously accepted proof.
	HeaderPaymentGrant = "X-PAYMENT-GRANT"
	// HeaderPaymentResponse carries the base64 encoded JSON grant used to serve the request.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderRequestID       = "X-Request-ID"

	x402Version = 1
)

// PaymentRequiredResponse is the 402 body listing every acceptable offer.
type PaymentRequiredResponse struct {
	X402Version int                      `json:"x402Version"`
	Error       string                   `json:"error,omitempty"`
	Accepts     []*protocol.PaymentOffer `json:"accepts"`
	Retryable   bool                     `json:"retryable,omitempty"`
}

// RequirePayment gates the handlers after it behind the resource returned by resourceID.
// A request without a usable grant or proof receives 402 with the offers. A request carrying a
// proof in HeaderPayment is verified and, when accepted, served exactly once.
func RequirePayment(gate *Gate, resourceID func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := scope.WithGivenRequestID(c.Request.Context(), c.GetHeader(HeaderRequestID))
		c.Request = c.Request.WithContext(ctx)
		resource := resourceID(c)

		grantToken := c.GetHeader(HeaderPaymentGrant)
		if encoded := c.GetHeader(HeaderPayment); encoded != "" && grantToken == "" {
			proof, err := decodeProof(encoded)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, PaymentRequiredResponse{X402Version: x402Version, Error: err.Error()})
				return
			}
			grant, err := gate.VerifyProof(ctx, resource, proof)
			if err != nil {
				abortWithPaymentError(c, gate, resource, err)
				return
			}
			grantToken = grant.Token
		}

		decision, err := gate.Evaluate(ctx, GatedRequest{ResourceID: resource, GrantToken: grantToken})
		if err != nil {
			abortWithPaymentError(c, gate, resource, err)
			return
		}
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, PaymentRequiredResponse{
				X402Version: x402Version,
				Error:       "payment required",
				Accepts:     decision.Offers,
			})
			return
		}

		if encoded, err := json.Marshal(decision.Grant); err == nil {
			c.Header(HeaderPaymentResponse, base64.StdEncoding.EncodeToString(encoded))
		}
		c.Next()
	}
}

func decodeProof(encoded string) (*protocol.PaymentProof, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("X-PAYMENT header is not valid base64")
	}
	var proof protocol.PaymentProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, errors.New("X-PAYMENT header is not a valid payment proof")
	}
	return &proof, nil
}

func abortWithPaymentError(c *gin.Context, gate *Gate, resource string, err error) {
	switch {
	case protocol.IsRetryable(err):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, PaymentRequiredResponse{X402Version: x402Version, Error: err.Error(), Retryable: true})
	case errors.Is(err, protocol.ErrUnknownEntity):
		c.AbortWithStatusJSON(http.StatusNotFound, PaymentRequiredResponse{X402Version: x402Version, Error: err.Error()})
	case errors.Is(err, protocol.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, PaymentRequiredResponse{X402Version: x402Version, Error: err.Error()})
	default:
		// Rejected proofs get a fresh set of offers so the client can pay again.
		resp := PaymentRequiredResponse{X402Version: x402Version, Error: err.Error()}
		if cfg, ok := gate.cfg.Resource(resource); ok {
			resp.Accepts = gate.presentOffers(c.Request.Context(), cfg)
		}
		c.AbortWithStatusJSON(http.StatusPaymentRequired, resp)
	}
}
