package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/metrics"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// CoordinatorMetrics holds every instrument recorded by the coordinator.
type CoordinatorMetrics struct {
	activeRequests      metric.Int64UpDownCounter
	httpRequestDuration metric.Float64Histogram

	// Message lifecycle metrics
	messagesSubmitted  metric.Int64Counter
	attestations       metric.Int64Counter
	messageTransitions metric.Int64Counter
	timeToVerification metric.Float64Histogram
	pendingMessages    metric.Int64Gauge

	// Batch and anchor metrics
	batchesSealed         metric.Int64Counter
	batchSize             metric.Int64Histogram
	anchorSubmissions     metric.Int64Counter
	anchorConfirmationLag metric.Float64Histogram

	paymentDecisions metric.Int64Counter

	// Event stream metrics
	subscribers   metric.Int64Gauge
	droppedEvents metric.Int64Counter

	// Worker health metrics
	panics metric.Int64Counter
}

func MetricViews() []sdkmetric.View {
	latencyBuckets := []float64{0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "coordinator_http_request_duration_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyBuckets}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "coordinator_time_to_verification_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "coordinator_batch_size"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "coordinator_anchor_confirmation_lag_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			}},
		),
	}
}

func InitMetrics() (cm *CoordinatorMetrics, err error) {
	cm = &CoordinatorMetrics{}

	cm.activeRequests, err = beholder.GetMeter().Int64UpDownCounter(
		"coordinator_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_active_requests: %w", err)
	}

	cm.httpRequestDuration, err = beholder.GetMeter().Float64Histogram(
		"coordinator_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_http_request_duration_seconds: %w", err)
	}

	cm.messagesSubmitted, err = beholder.GetMeter().Int64Counter(
		"coordinator_messages_submitted",
		metric.WithDescription("Total number of accepted message submissions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_messages_submitted: %w", err)
	}

	cm.attestations, err = beholder.GetMeter().Int64Counter(
		"coordinator_attestations",
		metric.WithDescription("Total number of attestation recordings by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_attestations: %w", err)
	}

	cm.messageTransitions, err = beholder.GetMeter().Int64Counter(
		"coordinator_message_transitions",
		metric.WithDescription("Total number of message state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_message_transitions: %w", err)
	}

	cm.timeToVerification, err = beholder.GetMeter().Float64Histogram(
		"coordinator_time_to_verification_seconds",
		metric.WithDescription("Time from submission to a terminal message state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_time_to_verification_seconds: %w", err)
	}

	cm.pendingMessages, err = beholder.GetMeter().Int64Gauge(
		"coordinator_pending_messages",
		metric.WithDescription("Number of non-terminal messages"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_pending_messages: %w", err)
	}

	cm.batchesSealed, err = beholder.GetMeter().Int64Counter(
		"coordinator_batches_sealed",
		metric.WithDescription("Total number of sealed receipt batches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_batches_sealed: %w", err)
	}

	cm.batchSize, err = beholder.GetMeter().Int64Histogram(
		"coordinator_batch_size",
		metric.WithDescription("Number of receipts per sealed batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_batch_size: %w", err)
	}

	cm.anchorSubmissions, err = beholder.GetMeter().Int64Counter(
		"coordinator_anchor_submissions",
		metric.WithDescription("Total number of anchor submissions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_anchor_submissions: %w", err)
	}

	cm.anchorConfirmationLag, err = beholder.GetMeter().Float64Histogram(
		"coordinator_anchor_confirmation_lag_seconds",
		metric.WithDescription("Time between anchor submission and confirmation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_anchor_confirmation_lag_seconds: %w", err)
	}

	cm.paymentDecisions, err = beholder.GetMeter().Int64Counter(
		"coordinator_payment_decisions",
		metric.WithDescription("Total number of payment gate decisions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_payment_decisions: %w", err)
	}

	cm.subscribers, err = beholder.GetMeter().Int64Gauge(
		"coordinator_event_subscribers",
		metric.WithDescription("Number of connected event subscribers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_event_subscribers: %w", err)
	}

	cm.droppedEvents, err = beholder.GetMeter().Int64Counter(
		"coordinator_dropped_events",
		metric.WithDescription("Total number of events dropped for slow subscribers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_dropped_events: %w", err)
	}

	cm.panics, err = beholder.GetMeter().Int64Counter(
		"coordinator_panics",
		metric.WithDescription("Total number of panics recovered by background workers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register coordinator_panics: %w", err)
	}

	return cm, nil
}

// CoordinatorMetricLabeler records metrics with a set of labels attached.
type CoordinatorMetricLabeler struct {
	metrics.Labeler
	cm *CoordinatorMetrics
}

func NewCoordinatorMetricLabeler(labeler metrics.Labeler, cm *CoordinatorMetrics) common.CoordinatorMetricLabeler {
	return &CoordinatorMetricLabeler{
		Labeler: labeler,
		cm:      cm,
	}
}

func (c *CoordinatorMetricLabeler) With(keyValues ...string) common.CoordinatorMetricLabeler {
	return &CoordinatorMetricLabeler{c.Labeler.With(keyValues...), c.cm}
}

func (c *CoordinatorMetricLabeler) attrs() metric.MeasurementOption {
	return metric.WithAttributes(beholder.OtelAttributes(c.Labels).AsStringAttributes()...)
}

func (c *CoordinatorMetricLabeler) IncrementActiveRequestsCounter(ctx context.Context) {
	c.cm.activeRequests.Add(ctx, 1, c.attrs())
}

func (c *CoordinatorMetricLabeler) DecrementActiveRequestsCounter(ctx context.Context) {
	c.cm.activeRequests.Add(ctx, -1, c.attrs())
}

func (c *CoordinatorMetricLabeler) RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, path, method string, status int) {
	l := c.Labeler.With("path", path, "method", method, "status", strconv.Itoa(status))
	otelLabels := beholder.OtelAttributes(l.Labels).AsStringAttributes()
	c.cm.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(otelLabels...))
}

func (c *CoordinatorMetricLabeler) IncrementMessagesSubmitted(ctx context.Context) {
	c.cm.messagesSubmitted.Add(ctx, 1, c.attrs())
}

func (c *CoordinatorMetricLabeler) IncrementAttestations(ctx context.Context, outcome string) {
	c.cm.attestations.Add(ctx, 1, c.with("outcome", outcome).attrs())
}

func (c *CoordinatorMetricLabeler) IncrementMessageTransitions(ctx context.Context, to string) {
	c.cm.messageTransitions.Add(ctx, 1, c.with("state", to).attrs())
}

func (c *CoordinatorMetricLabeler) RecordTimeToVerification(ctx context.Context, duration time.Duration) {
	c.cm.timeToVerification.Record(ctx, duration.Seconds(), c.attrs())
}

func (c *CoordinatorMetricLabeler) SetPendingMessages(ctx context.Context, count int) {
	c.cm.pendingMessages.Record(ctx, int64(count), c.attrs())
}

func (c *CoordinatorMetricLabeler) IncrementBatchesSealed(ctx context.Context, receipts int) {
	c.cm.batchesSealed.Add(ctx, 1, c.attrs())
	c.cm.batchSize.Record(ctx, int64(receipts), c.attrs())
}

func (c *CoordinatorMetricLabeler) IncrementAnchorSubmissions(ctx context.Context, outcome string) {
	c.cm.anchorSubmissions.Add(ctx, 1, c.with("outcome", outcome).attrs())
}

func (c *CoordinatorMetricLabeler) RecordAnchorConfirmationLag(ctx context.Context, duration time.Duration) {
	c.cm.anchorConfirmationLag.Record(ctx, duration.Seconds(), c.attrs())
}

func (c *CoordinatorMetricLabeler) IncrementPaymentDecisions(ctx context.Context, outcome string) {
	c.cm.paymentDecisions.Add(ctx, 1, c.with("outcome", outcome).attrs())
}

func (c *CoordinatorMetricLabeler) SetSubscribers(ctx context.Context, count int) {
	c.cm.subscribers.Record(ctx, int64(count), c.attrs())
}

func (c *CoordinatorMetricLabeler) IncrementDroppedEvents(ctx context.Context) {
	c.cm.droppedEvents.Add(ctx, 1, c.attrs())
}

func (c *CoordinatorMetricLabeler) IncrementPanics(ctx context.Context) {
	c.cm.panics.Add(ctx, 1, c.attrs())
}

func (c *CoordinatorMetricLabeler) with(keyValues ...string) *CoordinatorMetricLabeler {
	return &CoordinatorMetricLabeler{c.Labeler.With(keyValues...), c.cm}
}
