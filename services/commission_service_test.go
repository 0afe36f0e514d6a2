package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-engine/models"
	"go.uber.org/zap"
)

func newCommissionService(f *fixture) CommissionCalculator {
	clock := Clock(f.clock.Now)
	return NewCommissionService(f.store, DefaultCommissionPolicy(), NewLedgerAccounting(clock), clock, zap.NewNop())
}

func TestCommissionCalculate(t *testing.T) {
	ctx := context.Background()

	t.Run("Two Referrers", func(t *testing.T) {
		f := newFixture(t)
		calc := newCommissionService(f)
		seeded, paymentID := f.paidOrder(t, "ORD9001", 100000)
		l1, l2 := uuid.New(), uuid.New()
		f.store.SeedReferral(l1, seeded.Order.CustomerID, 1)
		f.store.SeedReferral(l2, seeded.Order.CustomerID, 2)
		f.store.SeedCategoryTier(seeded.Items[0].CategoryID, "premium")
		f.store.SeedCartItem(models.CartItem{CustomerID: seeded.Order.CustomerID, ProductID: seeded.Items[0].ProductID, Quantity: 1})
		f.store.SeedCartItem(models.CartItem{CustomerID: seeded.Order.CustomerID, ProductID: uuid.New(), Quantity: 1})

		out, err := calc.Calculate(ctx, seeded.Order.ID)
		require.NoError(t, err)
		assert.False(t, out.Skipped)
		assert.Equal(t, 6, out.Records)
		assert.Equal(t, int64(0), out.UnpaidAmount)
		assert.Equal(t, int64(1), out.CartCleared)

		records, _ := f.store.Commissions().ListRecords(ctx, seeded.Order.ID)
		byTier := map[models.CommissionTier]int64{}
		for _, r := range records {
			byTier[r.Tier] += r.Amount
		}
		// line 1: 60000 premium -> pool 16200; line 2: 40000 standard -> pool 7200
		assert.Equal(t, int64(8100+3600), byTier[models.TierPurchaser])
		assert.Equal(t, int64(4860+2160), byTier[models.TierReferrerL1])
		assert.Equal(t, int64(3240+1440), byTier[models.TierReferrerL2])

		summaries, _ := f.store.Commissions().ListSummaries(ctx, seeded.Order.ID)
		assert.Len(t, summaries, 2)

		payments := f.store.InvoicePayments(paymentID)
		require.Len(t, payments, 1)
		assert.Equal(t, int64(100000), payments[0].Amount)
		assert.Len(t, f.store.CartItems(seeded.Order.CustomerID), 1)
	})

	t.Run("Missing Tier Is Unpaid", func(t *testing.T) {
		f := newFixture(t)
		calc := newCommissionService(f)
		seeded, _ := f.paidOrder(t, "ORD9002", 100000)
		f.store.SeedReferral(uuid.New(), seeded.Order.CustomerID, 1)

		out, err := calc.Calculate(ctx, seeded.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, out.Records)
		// standard rate on both lines: pool 18000, depth-2 share 3600
		assert.Equal(t, int64(3600), out.UnpaidAmount)
	})

	t.Run("No Referrers Still Invoices", func(t *testing.T) {
		f := newFixture(t)
		calc := newCommissionService(f)
		seeded, paymentID := f.paidOrder(t, "ORD9003", 100000)

		out, err := calc.Calculate(ctx, seeded.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, out.Records)
		assert.Len(t, f.store.InvoicePayments(paymentID), 1)
	})

	t.Run("Second Run Is Skipped", func(t *testing.T) {
		f := newFixture(t)
		calc := newCommissionService(f)
		seeded, _ := f.paidOrder(t, "ORD9004", 100000)
		f.store.SeedReferral(uuid.New(), seeded.Order.CustomerID, 1)

		_, err := calc.Calculate(ctx, seeded.Order.ID)
		require.NoError(t, err)
		out, err := calc.Calculate(ctx, seeded.Order.ID)
		require.NoError(t, err)
		assert.True(t, out.Skipped)

		records, _ := f.store.Commissions().ListRecords(ctx, seeded.Order.ID)
		assert.Len(t, records, 4)
	})

	t.Run("Unpaid Order Is Skipped", func(t *testing.T) {
		f := newFixture(t)
		calc := newCommissionService(f)
		seeded := f.seedOrder("ORD9005", 100000, models.MethodBankTransfer)

		out, err := calc.Calculate(ctx, seeded.Order.ID)
		require.NoError(t, err)
		assert.True(t, out.Skipped)
	})

	t.Run("Unknown Order", func(t *testing.T) {
		f := newFixture(t)
		_, err := newCommissionService(f).Calculate(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}
