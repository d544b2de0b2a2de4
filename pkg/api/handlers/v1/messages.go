package v1

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/verification"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// MessageService is the part of the verification engine served over HTTP.
type MessageService interface {
	SubmitMessage(ctx context.Context, msg *protocol.CrossChainMessage) (protocol.MessageID, error)
	GetMessage(ctx context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error)
	ListPendingMessages(ctx context.Context) ([]*protocol.CrossChainMessage, error)
	Attestations(ctx context.Context, id protocol.MessageID) ([]*protocol.Attestation, error)
	RecordAttestation(ctx context.Context, att *protocol.Attestation) (*verification.AttestationOutcome, error)
	Evaluate(ctx context.Context, id protocol.MessageID) (*protocol.CrossChainMessage, error)
}

type SubmitMessageRequest struct {
	SourceChain      protocol.ChainSelector `json:"sourceChain"      binding:"required"`
	DestinationChain protocol.ChainSelector `json:"destinationChain" binding:"required"`
	Payload          protocol.ByteSlice     `json:"payload"`
	Nonce            protocol.Nonce         `json:"nonce"`
	Sender           string                 `json:"sender"           binding:"required"`
	SourceTxHash     protocol.Bytes32       `json:"sourceTxHash"`
}

type RecordAttestationRequest struct {
	ValidatorID protocol.ValidatorID `json:"validatorId" binding:"required"`
	Signature   protocol.ByteSlice   `json:"signature"`
	ObservedAt  time.Time            `json:"observedAt"`
	Correction  bool                 `json:"correction"`
}

type MessageHandler struct {
	engine MessageService
	lggr   logger.SugaredLogger
}

func NewMessageHandler(engine MessageService, lggr logger.SugaredLogger) *MessageHandler {
	return &MessageHandler{engine: engine, lggr: lggr}
}

// Submit handles POST /messages.
func (h *MessageHandler) Submit(c *gin.Context) {
	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, err := h.engine.SubmitMessage(c.Request.Context(), &protocol.CrossChainMessage{
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		Payload:          req.Payload,
		Nonce:            req.Nonce,
		Sender:           req.Sender,
		SourceTxHash:     req.SourceTxHash,
	})
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "messageId": id})
}

// Get handles GET /messages/:id. The response includes the recorded attestations.
func (h *MessageHandler) Get(c *gin.Context) {
	id := protocol.MessageID(c.Param("id"))
	ctx := scope.WithMessageID(c.Request.Context(), id)

	msg, err := h.engine.GetMessage(ctx, id)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	attestations, err := h.engine.Attestations(ctx, id)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "attestations": attestations})
}

// List handles GET /messages?state=pending. Only the pending view is supported.
func (h *MessageHandler) List(c *gin.Context) {
	if state := c.DefaultQuery("state", "pending"); state != "pending" {
		badRequest(c, fmt.Errorf("unsupported state filter %q (supported: pending)", state))
		return
	}
	messages, err := h.engine.ListPendingMessages(c.Request.Context())
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

// RecordAttestation handles POST /messages/:id/attestations.
func (h *MessageHandler) RecordAttestation(c *gin.Context) {
	var req RecordAttestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := protocol.MessageID(c.Param("id"))

	outcome, err := h.engine.RecordAttestation(c.Request.Context(), &protocol.Attestation{
		MessageID:   id,
		ValidatorID: req.ValidatorID,
		Signature:   req.Signature,
		ObservedAt:  req.ObservedAt,
		Correction:  req.Correction,
	})
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
}

// Evaluate handles POST /messages/:id/evaluate.
func (h *MessageHandler) Evaluate(c *gin.Context) {
	id := protocol.MessageID(c.Param("id"))
	msg, err := h.engine.Evaluate(scope.WithMessageID(c.Request.Context(), id), id)
	if err != nil {
		writeError(c, h.lggr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}
