package v1

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/events"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type EventSource interface {
	Subscribe(bufferSize int) *events.Subscription
}

type EventHandler struct {
	source EventSource
	lggr   logger.SugaredLogger
}

func NewEventHandler(source EventSource, lggr logger.SugaredLogger) *EventHandler {
	return &EventHandler{source: source, lggr: lggr}
}

// Stream handles GET /events as server-sent events. The optional types query parameter is a
// comma separated list of event types to forward. Heartbeats are always forwarded.
func (h *EventHandler) Stream(c *gin.Context) {
	filter := make(map[protocol.EventType]struct{})
	if types := c.Query("types"); types != "" {
		for t := range strings.SplitSeq(types, ",") {
			filter[protocol.EventType(strings.TrimSpace(t))] = struct{}{}
		}
	}

	sub := h.source.Subscribe(0)
	defer sub.Close()
	h.lggr.Debugw("Event subscriber connected", "subscriber", sub.ID())

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			if _, wanted := filter[evt.Type]; len(filter) > 0 && !wanted && !evt.IsHeartbeat() {
				return true
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		}
	})
	h.lggr.Debugw("Event subscriber disconnected", "subscriber", sub.ID(), "dropped", sub.Dropped())
}
