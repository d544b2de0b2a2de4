package monitoring

import (
	"context"
	"time"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
)

var (
	_ common.CoordinatorMonitoring    = (*NoopCoordinatorMonitoring)(nil)
	_ common.CoordinatorMetricLabeler = (*NoopCoordinatorMetricLabeler)(nil)
)

type NoopCoordinatorMonitoring struct{}

func NewNoopCoordinatorMonitoring() *NoopCoordinatorMonitoring {
	return &NoopCoordinatorMonitoring{}
}

func (m *NoopCoordinatorMonitoring) Metrics() common.CoordinatorMetricLabeler {
	return NewNoopCoordinatorMetricLabeler()
}

type NoopCoordinatorMetricLabeler struct{}

func NewNoopCoordinatorMetricLabeler() *NoopCoordinatorMetricLabeler {
	return &NoopCoordinatorMetricLabeler{}
}

func (c *NoopCoordinatorMetricLabeler) With(...string) common.CoordinatorMetricLabeler {
	return c
}

func (c *NoopCoordinatorMetricLabeler) IncrementActiveRequestsCounter(ctx context.Context) {}

func (c *NoopCoordinatorMetricLabeler) DecrementActiveRequestsCounter(ctx context.Context) {}

func (c *NoopCoordinatorMetricLabeler) RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, path, method string, status int) {}

func (c *NoopCoordinatorMetricLabeler) IncrementMessagesSubmitted(ctx context.Context) {}

func (c *NoopCoordinatorMetricLabeler) IncrementAttestations(ctx context.Context, outcome string) {}

func (c *NoopCoordinatorMetricLabeler) IncrementMessageTransitions(ctx context.Context, to string) {}

func (c *NoopCoordinatorMetricLabeler) RecordTimeToVerification(ctx context.Context, duration time.Duration) {}

func (c *NoopCoordinatorMetricLabeler) SetPendingMessages(ctx context.Context, count int) {}

func (c *NoopCoordinatorMetricLabeler) IncrementBatchesSealed(ctx context.Context, receipts int) {}

func (c *NoopCoordinatorMetricLabeler) IncrementAnchorSubmissions(ctx context.Context, outcome string) {}

func (c *NoopCoordinatorMetricLabeler) RecordAnchorConfirmationLag(ctx context.Context, duration time.Duration) {}

func (c *NoopCoordinatorMetricLabeler) IncrementPaymentDecisions(ctx context.Context, outcome string) {}

func (c *NoopCoordinatorMetricLabeler) SetSubscribers(ctx context.Context, count int) {}

func (c *NoopCoordinatorMetricLabeler) IncrementDroppedEvents(ctx context.Context) {}

func (c *NoopCoordinatorMetricLabeler) IncrementPanics(ctx context.Context) {}
