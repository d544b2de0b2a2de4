package v1_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/events"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/monitoring"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	v1 "github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/api/handlers/v1"
)

func TestEventStream_ForwardsFilteredEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lggr := logger.Sugared(logger.Test(t))
	publisher := events.NewPublisher(events.Params{
		Config:     model.EventsConfig{HeartbeatInterval: time.Hour, SubscriberBufferSize: 8},
		Monitoring: monitoring.NewNoopCoordinatorMonitoring(),
		Logger:     lggr,
	})
	require.NoError(t, publisher.Start(context.Background()))

	r := gin.New()
	r.GET("/events", v1.NewEventHandler(publisher, lggr).Stream)

	w := gin.CreateTestResponseRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events?types=message.state_changed,message.submitted", nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return publisher.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	publisher.Publish(protocol.Event{Type: protocol.EventTypeMessageSubmitted, EntityID: "m-1"})
	publisher.Publish(protocol.Event{Type: protocol.EventTypeBatchSealed, EntityID: "batch-1"})
	publisher.Publish(protocol.Event{Type: protocol.EventTypeMessageStateChanged, EntityID: "m-1"})

	// Closing the publisher closes the subscription once its buffered events are drained.
	require.NoError(t, publisher.Close())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end after the publisher closed")
	}

	body := w.Body.String()
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event:message.submitted")
	assert.Contains(t, body, "event:message.state_changed")
	assert.NotContains(t, body, "batch.sealed")
	assert.Less(t, strings.Index(body, "message.submitted"), strings.Index(body, "message.state_changed"))
	assert.Contains(t, body, `"sequence":2`)
}

func TestEventStream_EndsWhenServerShutsDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lggr := logger.Sugared(logger.Test(t))
	publisher := events.NewPublisher(events.Params{
		Config:     model.EventsConfig{HeartbeatInterval: time.Hour},
		Monitoring: monitoring.NewNoopCoordinatorMonitoring(),
		Logger:     lggr,
	})
	require.NoError(t, publisher.Start(context.Background()))
	t.Cleanup(func() { _ = publisher.Close() })

	r := gin.New()
	r.GET("/events", v1.NewEventHandler(publisher, lggr).Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	srv.Config.RegisterOnShutdown(publisher.CloseSubscriptions)

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return publisher.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Config.Shutdown(ctx), "an open event stream must not hold up shutdown")

	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
}
