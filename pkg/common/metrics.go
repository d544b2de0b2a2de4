package common

import (
	"context"
	"time"
)

// CoordinatorMonitoring provides access to coordinator monitoring capabilities.
type CoordinatorMonitoring interface {
	// Metrics returns a CoordinatorMetricLabeler for recording metrics.
	Metrics() CoordinatorMetricLabeler
}

// CoordinatorMetricLabeler provides methods for recording coordinator metrics.
type CoordinatorMetricLabeler interface {
	// With returns a new CoordinatorMetricLabeler with additional key-value labels.
	With(keyValues ...string) CoordinatorMetricLabeler
	// IncrementActiveRequestsCounter increments the active HTTP requests gauge.
	IncrementActiveRequestsCounter(ctx context.Context)
	// DecrementActiveRequestsCounter decrements the active HTTP requests gauge.
	DecrementActiveRequestsCounter(ctx context.Context)
	// RecordHTTPRequestDuration records the duration of a served HTTP request.
	RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, path, method string, status int)
	// IncrementMessagesSubmitted counts accepted message submissions.
	IncrementMessagesSubmitted(ctx context.Context)
	// IncrementAttestations counts attestation recordings by outcome.
	IncrementAttestations(ctx context.Context, outcome string)
	// IncrementMessageTransitions counts message state transitions by target state.
	IncrementMessageTransitions(ctx context.Context, to string)
	// RecordTimeToVerification records the time from submission to a terminal state.
	RecordTimeToVerification(ctx context.Context, duration time.Duration)
	// SetPendingMessages sets the gauge of non-terminal messages seen by the deadline sweeper.
	SetPendingMessages(ctx context.Context, count int)
	// IncrementBatchesSealed counts closed batches.
	IncrementBatchesSealed(ctx context.Context, receipts int)
	// IncrementAnchorSubmissions counts anchor submissions by outcome.
	IncrementAnchorSubmissions(ctx context.Context, outcome string)
	// RecordAnchorConfirmationLag records the time between anchor submission and confirmation.
	RecordAnchorConfirmationLag(ctx context.Context, duration time.Duration)
	// IncrementPaymentDecisions counts payment gate outcomes.
	IncrementPaymentDecisions(ctx context.Context, outcome string)
	// SetSubscribers sets the gauge of connected event subscribers.
	SetSubscribers(ctx context.Context, count int)
	// IncrementDroppedEvents counts events dropped for slow subscribers.
	IncrementDroppedEvents(ctx context.Context)
	// IncrementPanics increments the counter for panics recovered by background workers.
	IncrementPanics(ctx context.Context)
}
