package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
)

// Inventory commits or releases the stock reserved for an order. Both calls
// run inside the caller's unit of work; an error aborts it.
type Inventory interface {
	CommitOnSuccess(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID) error
	RestoreOnFailure(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID) error
}

// Notifier delivers payment events. Delivery is best effort and happens after
// the state change it describes has committed.
type Notifier interface {
	Notify(ctx context.Context, event models.PaymentEvent) error
}

// Accounting mirrors a paid order into the invoice ledger.
type Accounting interface {
	RecordPaidOrder(ctx context.Context, uow repository.UnitOfWork, order *models.Order, intent *models.PaymentIntent) error
}

// JobNotifier is poked after a commission job commits so the worker can pick
// it up without waiting for the next poll.
type JobNotifier interface {
	Notify()
}

// MetricsRecorder is the subset of the CloudWatch client the services use.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// Clock returns the current time. Tests substitute a fixed one.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

type noopMetrics struct{}

func (noopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }

type noopJobNotifier struct{}

func (noopJobNotifier) Notify() {}

func recordMetric(m MetricsRecorder, name string, dims map[string]string) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.RecordCount(ctx, name, dims)
	}()
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
