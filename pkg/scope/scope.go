// Package scope carries per-request identifiers in a context so logs can be tagged with them.
package scope

import (
	"context"

	"github.com/google/uuid"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

type contextKey string

const (
	requestIDKey   contextKey = "request-id"
	messageIDKey   contextKey = "message-id"
	validatorIDKey contextKey = "validator-id"
	batchKey       contextKey = "batch"
	resourceIDKey  contextKey = "resource-id"
)

var contextKeys = []contextKey{
	requestIDKey,
	messageIDKey,
	validatorIDKey,
	batchKey,
	resourceIDKey,
}

// WithRequestID tags ctx with a fresh request id unless one is already present.
func WithRequestID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestIDKey).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, uuid.New().String())
}

// WithGivenRequestID tags ctx with a caller supplied request id, or a fresh one when id is empty.
func WithGivenRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return WithRequestID(ctx)
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithMessageID(ctx context.Context, id protocol.MessageID) context.Context {
	return context.WithValue(ctx, messageIDKey, string(id))
}

func WithValidatorID(ctx context.Context, id protocol.ValidatorID) context.Context {
	return context.WithValue(ctx, validatorIDKey, string(id))
}

// WithBatchRoot tags ctx with the root of the batch being processed.
func WithBatchRoot(ctx context.Context, root protocol.Bytes32) context.Context {
	return context.WithValue(ctx, batchKey, root.String())
}

func WithResourceID(ctx context.Context, resourceID string) context.Context {
	return context.WithValue(ctx, resourceIDKey, resourceID)
}

// AugmentLogger returns lggr with every scope value found in ctx attached.
func AugmentLogger(ctx context.Context, lggr logger.SugaredLogger) logger.SugaredLogger {
	for _, key := range contextKeys {
		lggr = augmentLoggerIfOk(ctx, lggr, key)
	}
	return lggr
}

func augmentLoggerIfOk(ctx context.Context, lggr logger.SugaredLogger, key contextKey) logger.SugaredLogger {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return lggr
	}
	return lggr.With(string(key), value)
}
