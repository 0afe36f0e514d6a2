package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// expirer fails one overdue pending intent. It is shared by the sweeper and
// by completion attempts that arrive too late.
type expirer struct {
	store     repository.Store
	inventory Inventory
	events    eventPublisher
	metrics   MetricsRecorder
	clock     Clock
	logger    *zap.Logger
}

// expire runs in its own transaction. It reports false without error when the
// intent is no longer pending or not yet due, which makes it safe to race.
func (e *expirer) expire(ctx context.Context, intentID uuid.UUID, trigger string) (bool, error) {
	now := e.clock.now()
	var (
		intent *models.PaymentIntent
		order  *models.Order
	)
	current, err := e.store.Intents().FindByID(ctx, intentID)
	if err != nil {
		return false, err
	}
	err = e.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		// link before intent, the same order payment creation locks them in
		link, err := uow.PaymentLinks().FindByOrderID(ctx, current.OrderID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		intent, err = uow.Intents().FindByIDForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if !intent.Expired(now) {
			intent = nil
			return nil
		}

		intent.Status = models.PaymentStatusFailed
		intent.FailureReason = strPtr(models.FailureReasonExpired)
		intent.FailedAt = timePtr(now)
		intent.ResponseMetadata = datatypes.NewJSONType(models.ExpiryMetadata(models.ExpiryDetails{
			ExpiredAt: now,
			Trigger:   trigger,
		}))
		ok, err := uow.Intents().Transition(ctx, intent, models.PaymentStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			intent = nil
			return nil
		}

		if err := e.inventory.RestoreOnFailure(ctx, uow, intent.OrderID); err != nil {
			return err
		}

		order, err = uow.Orders().FindByID(ctx, intent.OrderID)
		if err != nil {
			return err
		}
		if order.Status.Payable() {
			order.Status = models.OrderStatusCancelled
			order.CancelledAt = timePtr(now)
			if err := uow.Orders().Save(ctx, order); err != nil {
				return err
			}
		}

		if link != nil && link.PaymentIntentID != nil && *link.PaymentIntentID == intent.ID {
			link.Status = models.LinkStatusFailed
			return uow.PaymentLinks().Save(ctx, link)
		}
		return nil
	})
	if err != nil || intent == nil {
		return false, err
	}

	e.logger.Info("Payment expired",
		zap.String("payment_id", intent.ID.String()),
		zap.String("order_id", intent.OrderID.String()),
		zap.String("trigger", trigger),
	)
	recordMetric(e.metrics, awspkg.MetricPaymentExpired, map[string]string{"Provider": string(intent.Provider)})

	event := paymentEvent(models.EventPaymentFailed, intent, order, now)
	event.Message = "Payment expired"
	e.events.publish(ctx, event)
	return true, nil
}

// expiryWarning builds the advisory event for an intent about to expire.
func expiryWarning(intent *models.PaymentIntent, now time.Time) models.PaymentEvent {
	e := paymentEvent(models.EventExpiryWarning, intent, nil, now)
	if intent.ExpiresAt != nil {
		e.Details = map[string]any{
			"expires_at":        intent.ExpiresAt.UTC(),
			"remaining_seconds": int64(intent.ExpiresAt.Sub(now).Seconds()),
		}
	}
	e.Message = "Payment is about to expire"
	return e
}
