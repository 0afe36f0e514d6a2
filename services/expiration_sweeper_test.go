package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-engine/models"
	"go.uber.org/zap"
)

func newSweeper(f *fixture) *ExpirationSweeper {
	return NewExpirationSweeper(f.store, f.inventory, f.notifier, nil, SweeperConfig{
		WarningWindow: 3 * time.Minute,
		BatchSize:     10,
		Workers:       3,
	}, Clock(f.clock.Now), zap.NewNop())
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sweeper := newSweeper(f)

	stale := f.seedOrder("ORD8001", 100000, models.MethodBankTransfer)
	staleView := f.createVietQR(t, stale.Order.ID)
	f.clock.Advance(10 * time.Minute)
	fresh := f.seedOrder("ORD8002", 100000, models.MethodBankTransfer)
	freshView := f.createVietQR(t, fresh.Order.ID)
	f.clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, sweeper.SweepExpired(ctx))

	intent, _ := f.store.Intents().FindByID(ctx, staleView.PaymentID)
	assert.Equal(t, models.PaymentStatusFailed, intent.Status)
	assert.Equal(t, models.FailureReasonExpired, *intent.FailureReason)
	meta := intent.ResponseMetadata.Data()
	require.NotNil(t, meta.Expiry)
	assert.Equal(t, "sweeper", meta.Expiry.Trigger)

	order, _ := f.store.Orders().FindByID(ctx, stale.Order.ID)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	link, _ := f.store.PaymentLinks().FindByOrderID(ctx, stale.Order.ID)
	assert.Equal(t, models.LinkStatusFailed, link.Status)

	untouched, _ := f.store.Intents().FindByID(ctx, freshView.PaymentID)
	assert.Equal(t, models.PaymentStatusPending, untouched.Status)

	_, restored := f.inventory.counts()
	assert.Equal(t, 1, restored)
	assert.Equal(t, 1, f.notifier.count(models.EventPaymentFailed))

	// a second sweep finds nothing left to do
	assert.Equal(t, 0, sweeper.SweepExpired(ctx))
}

func TestSweepExpiredSkipsCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sweeper := newSweeper(f)

	_, paymentID := f.paidOrder(t, "ORD8003", 100000)
	f.clock.Advance(time.Hour)

	assert.Equal(t, 0, sweeper.SweepExpired(ctx))
	intent, _ := f.store.Intents().FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusSucceeded, intent.Status)
}

func TestSweepWarnings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sweeper := newSweeper(f)

	seeded := f.seedOrder("ORD8004", 100000, models.MethodBankTransfer)
	view := f.createVietQR(t, seeded.Order.ID)

	assert.Equal(t, 0, sweeper.SweepWarnings(ctx))

	f.clock.Advance(13 * time.Minute)
	assert.Equal(t, 1, sweeper.SweepWarnings(ctx))
	f.clock.Advance(30 * time.Second)
	assert.Equal(t, 0, sweeper.SweepWarnings(ctx), "each intent is warned once")
	assert.Equal(t, 1, f.notifier.count(models.EventExpiryWarning))

	intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
	assert.Equal(t, models.PaymentStatusPending, intent.Status)
}
