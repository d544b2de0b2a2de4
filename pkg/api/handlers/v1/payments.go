package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/payment"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type PaymentService interface {
	Evaluate(ctx context.Context, req payment.GatedRequest) (*payment.Decision, error)
	VerifyProof(ctx context.Context, resourceID string, proof *protocol.PaymentProof) (*protocol.PaymentGrant, error)
}

type SubmitProofRequest struct {
	ResourceID string                 `json:"resourceId" binding:"required"`
	Proof      *protocol.PaymentProof `json:"proof"      binding:"required"`
}

type PaymentHandler struct {
	gate PaymentService
	lggr logger.SugaredLogger
}

func NewPaymentHandler(gate PaymentService, lggr logger.SugaredLogger) *PaymentHandler {
	return &PaymentHandler{gate: gate, lggr: lggr}
}

// Evaluate handles POST /payments/evaluate. A request that must pay receives 402 with the offers.
func (h *PaymentHandler) Evaluate(c *gin.Context) {
	var req payment.GatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	decision, err := h.gate.Evaluate(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, gin.H{"success": decision.Allowed, "decision": decision})
}

// SubmitProof handles POST /payments/proofs and returns a single-use grant for the resource.
func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	var req SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	grant, err := h.gate.VerifyProof(c.Request.Context(), req.ResourceID, req.Proof)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "grant": grant})
}
