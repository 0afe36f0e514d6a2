package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yashrajoria/payment-engine/models"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"go.uber.org/zap"
)

// SNSNotifier publishes payment events to an SNS topic. The event type is
// carried as a message attribute so subscribers can filter on it.
type SNSNotifier struct {
	sns      awspkg.SNSPublisher
	topicArn string
}

func NewSNSNotifier(sns awspkg.SNSPublisher, topicArn string) *SNSNotifier {
	return &SNSNotifier{sns: sns, topicArn: topicArn}
}

func (n *SNSNotifier) Notify(ctx context.Context, event models.PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.sns.Publish(ctx, n.topicArn, payload, map[string]string{"event_type": event.Type}); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// LogNotifier only logs events. Used when no event sink is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event models.PaymentEvent) error {
	n.logger.Info("Payment event",
		zap.String("event_type", event.Type),
		zap.String("order_id", event.OrderID),
		zap.String("payment_id", event.PaymentID),
		zap.String("refund_id", event.RefundID),
		zap.String("status", event.Status),
		zap.Int64("amount", event.Amount),
	)
	return nil
}

// eventPublisher wraps a Notifier so callers never fail on delivery errors.
type eventPublisher struct {
	notifier Notifier
	logger   *zap.Logger
}

func (p eventPublisher) publish(ctx context.Context, event models.PaymentEvent) {
	if p.notifier == nil {
		return
	}
	// The request may already be finishing; delivery must not inherit its cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := p.notifier.Notify(ctx, event); err != nil {
		p.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
