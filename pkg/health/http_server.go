package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type ReadinessResponse struct {
	Status     common.HealthStatus       `json:"status"`
	Components []*common.ComponentHealth `json:"components"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// Handlers serves the probes from a Manager. They are mounted on the API router and on the
// dedicated health server.
type Handlers struct {
	manager *Manager
	lggr    logger.SugaredLogger
}

func NewHandlers(manager *Manager, lggr logger.SugaredLogger) *Handlers {
	return &Handlers{manager: manager, lggr: lggr}
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
	r.GET("/health", h.Readiness)
}

func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.CheckLiveness(c.Request.Context()))
}

// Readiness answers 503 only when a component is unhealthy. A degraded component still serves.
func (h *Handlers) Readiness(c *gin.Context) {
	status, components := h.manager.CheckReadiness(c.Request.Context())
	response := ReadinessResponse{
		Status:     status,
		Components: components,
		Timestamp:  h.manager.timeProvider.Now(),
	}

	switch status {
	case common.HealthStatusUnhealthy:
		h.lggr.Errorw("Service unhealthy", "components", components)
		c.JSON(http.StatusServiceUnavailable, response)
	case common.HealthStatusDegraded:
		h.lggr.Warnw("Service degraded", "components", components)
		c.JSON(http.StatusOK, response)
	default:
		c.JSON(http.StatusOK, response)
	}
}

type HTTPHealthServer struct {
	handlers *Handlers
	logger   logger.SugaredLogger
	server   *http.Server
}

func NewHTTPHealthServer(manager *Manager, port string, lggr logger.SugaredLogger) *HTTPHealthServer {
	router := gin.New()
	router.Use(gin.Recovery())
	handlers := NewHandlers(manager, lggr)
	handlers.Register(router)

	return &HTTPHealthServer{
		handlers: handlers,
		logger:   lggr,
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
}

func (h *HTTPHealthServer) Start() error {
	h.logger.Infow("Starting HTTP health server", "addr", h.server.Addr)
	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPHealthServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP health server")
	return h.server.Shutdown(ctx)
}
