// Package reporter publishes operations that were dropped after exhausting
// their replays, so the loss is visible outside the client.
package reporter

import (
	"context"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
)

// FailureReporter is told exactly once about every dropped operation.
type FailureReporter interface {
	ReportDropped(ctx context.Context, op domain.QueuedOperation, cause error) error
}

// DroppedOperation is the payload published for a dropped operation.
type DroppedOperation struct {
	OperationID string               `json:"operation_id"`
	Operation   string               `json:"operation"`
	Kind        string               `json:"kind"`
	OwnerID     string               `json:"owner_id"`
	Data        domain.OperationData `json:"data"`
	QueuedAt    time.Time            `json:"queued_at"`
	RetryCount  int                  `json:"retry_count"`
	Cause       string               `json:"cause,omitempty"`
	DroppedAt   time.Time            `json:"dropped_at"`
}

func newDroppedOperation(op domain.QueuedOperation, cause error) DroppedOperation {
	d := DroppedOperation{
		OperationID: op.ID,
		Operation:   op.Operation.String(),
		Kind:        op.Kind.String(),
		OwnerID:     op.OwnerID,
		Data:        op.Data,
		QueuedAt:    op.Timestamp,
		RetryCount:  op.RetryCount,
		DroppedAt:   time.Now().UTC(),
	}
	if cause != nil {
		d.Cause = cause.Error()
	}
	return d
}

// LogReporter writes dropped operations to the log.
type LogReporter struct {
	log logrus.FieldLogger
}

func NewLogReporter(log logrus.FieldLogger) *LogReporter {
	return &LogReporter{log: log.WithField("component", "reporter")}
}

func (r *LogReporter) ReportDropped(_ context.Context, op domain.QueuedOperation, cause error) error {
	r.log.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"operation":    op.Operation,
		"kind":         op.Kind,
		"product_id":   op.Data.ProductID,
		"retry_count":  op.RetryCount,
	}).WithError(cause).Error("dropping queued operation after max retries")
	return nil
}

// Multi fans a report out to several reporters and returns the first error.
type Multi []FailureReporter

func (m Multi) ReportDropped(ctx context.Context, op domain.QueuedOperation, cause error) error {
	var first error
	for _, r := range m {
		if err := r.ReportDropped(ctx, op, cause); err != nil && first == nil {
			first = err
		}
	}
	return first
}
