// Package api exposes the coordinator over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/api/middleware"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/health"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/payment"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	v1 "github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/api/handlers/v1"
)

// ProofResourceID is the gated resource that serves receipt inclusion proofs.
const ProofResourceID = "receipt-proof"

const eventsPath = "/v1/events"

type Params struct {
	Config     model.ServerConfig
	Engine     v1.MessageService
	Anchoring  v1.AnchoringService
	Gate       *payment.Gate
	Events     v1.EventSource
	Health     *health.Handlers
	Monitoring common.CoordinatorMonitoring
	Logger     logger.SugaredLogger
}

func NewV1API(p Params) *gin.Engine {
	lggr := p.Logger
	router := gin.New()
	router.Use(
		middleware.SecureRecovery(lggr, p.Monitoring),
		middleware.RequestID(),
		middleware.ActiveRequestsMiddleware(p.Monitoring, middleware.RoutePath, lggr),
		middleware.RateLimit(lggr, p.Config.RateLimit),
		middleware.RequestTimeout(p.Config.RequestTimeout, eventsPath),
	)

	if p.Health != nil {
		p.Health.Register(router)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1Group := router.Group("/v1")
	v1Group.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	messages := v1.NewMessageHandler(p.Engine, lggr)
	v1Group.POST("/messages", messages.Submit)
	v1Group.GET("/messages", messages.List)
	v1Group.GET("/messages/:id", messages.Get)
	v1Group.POST("/messages/:id/attestations", messages.RecordAttestation)
	v1Group.POST("/messages/:id/evaluate", messages.Evaluate)

	batches := v1.NewBatchHandler(p.Anchoring, lggr)
	v1Group.POST("/receipts", batches.AppendReceipt)
	v1Group.POST("/batches", batches.BatchNow)
	v1Group.POST("/batches/fast-anchor", batches.FastAnchor)
	v1Group.GET("/batches/:seq", batches.Get)
	v1Group.GET("/batches/:seq/verify", batches.Verify)

	proofRoute := []gin.HandlerFunc{batches.InclusionProof}
	if p.Gate != nil {
		if p.Gate.Gates(ProofResourceID) {
			proofRoute = append([]gin.HandlerFunc{payment.RequirePayment(p.Gate, func(*gin.Context) string {
				return ProofResourceID
			})}, proofRoute...)
		} else {
			lggr.Warnw("Inclusion proofs are served without payment", "resource", ProofResourceID)
		}

		payments := v1.NewPaymentHandler(p.Gate, lggr)
		v1Group.POST("/payments/evaluate", payments.Evaluate)
		v1Group.POST("/payments/proofs", payments.SubmitProof)
	}
	v1Group.GET("/batches/:seq/receipts/:receiptId/proof", proofRoute...)

	if p.Events != nil {
		v1Group.GET("/events", v1.NewEventHandler(p.Events, lggr).Stream)
	}

	return router
}
