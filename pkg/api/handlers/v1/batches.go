package v1

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/anchoring"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// AnchoringService is the part of the anchoring service served over HTTP.
type AnchoringService interface {
	Append(ctx context.Context, receipt protocol.Receipt) (protocol.Receipt, error)
	BatchNow(ctx context.Context) (*protocol.MerkleBatch, error)
	FastAnchor(ctx context.Context) (*protocol.MerkleBatch, error)
	GetBatch(ctx context.Context, sequence uint64) (*protocol.MerkleBatch, error)
	VerifyBatch(ctx context.Context, sequence uint64) (*anchoring.BatchVerification, error)
	InclusionProof(ctx context.Context, sequence uint64, receiptID string) (*anchoring.InclusionProof, error)
}

type AppendReceiptRequest struct {
	ID        string           `json:"id"`
	DataHash  protocol.Bytes32 `json:"dataHash"`
	Timestamp time.Time        `json:"timestamp"`
}

type BatchHandler struct {
	anchoring AnchoringService
	lggr      logger.SugaredLogger
}

func NewBatchHandler(anchoring AnchoringService, lggr logger.SugaredLogger) *BatchHandler {
	return &BatchHandler{anchoring: anchoring, lggr: lggr}
}

// AppendReceipt handles POST /receipts.
func (h *BatchHandler) AppendReceipt(c *gin.Context) {
	var req AppendReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	receipt, err := h.anchoring.Append(c.Request.Context(), protocol.Receipt{
		ID:        req.ID,
		DataHash:  req.DataHash,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "receipt": receipt})
}

// BatchNow handles POST /batches.
func (h *BatchHandler) BatchNow(c *gin.Context) {
	batch, err := h.anchoring.BatchNow(c.Request.Context())
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "batch": batch, "anchorStatus": batch.AnchorStatus()})
}

// FastAnchor handles POST /batches/fast-anchor.
func (h *BatchHandler) FastAnchor(c *gin.Context) {
	batch, err := h.anchoring.FastAnchor(c.Request.Context())
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batch": batch, "anchorStatus": batch.AnchorStatus()})
}

// Get handles GET /batches/:seq.
func (h *BatchHandler) Get(c *gin.Context) {
	seq, ok := parseSequence(c)
	if !ok {
		return
	}
	batch, err := h.anchoring.GetBatch(c.Request.Context(), seq)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batch": batch, "anchorStatus": batch.AnchorStatus()})
}

// Verify handles GET /batches/:seq/verify.
func (h *BatchHandler) Verify(c *gin.Context) {
	seq, ok := parseSequence(c)
	if !ok {
		return
	}
	result, err := h.anchoring.VerifyBatch(c.Request.Context(), seq)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "verification": result})
}

// InclusionProof handles GET /batches/:seq/receipts/:receiptId/proof.
func (h *BatchHandler) InclusionProof(c *gin.Context) {
	seq, ok := parseSequence(c)
	if !ok {
		return
	}
	proof, err := h.anchoring.InclusionProof(c.Request.Context(), seq, c.Param("receiptId"))
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "proof": proof})
}

func parseSequence(c *gin.Context) (uint64, bool) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil || seq == 0 {
		badRequest(c, fmt.Errorf("invalid batch sequence %q", c.Param("seq")))
		return 0, false
	}
	return seq, true
}
