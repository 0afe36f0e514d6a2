package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-engine/models"
)

func TestSplitCommission(t *testing.T) {
	policy := DefaultCommissionPolicy()

	t.Run("Worked Example", func(t *testing.T) {
		line := SplitCommission(100000, decimal.RequireFromString("0.20"), policy)
		assert.Equal(t, int64(18000), line.Pool)
		assert.Equal(t, int64(2000), line.PlatformFee)
		assert.Equal(t, int64(9000), line.Amounts[models.TierPurchaser])
		assert.Equal(t, int64(5400), line.Amounts[models.TierReferrerL1])
		assert.Equal(t, int64(3600), line.Amounts[models.TierReferrerL2])
	})

	t.Run("Remainder Goes To Purchaser", func(t *testing.T) {
		line := SplitCommission(12345, decimal.RequireFromString("0.20"), policy)
		// 12345 * 0.2 * 0.9 = 2222.1 -> 2222
		assert.Equal(t, int64(2222), line.Pool)
		assert.Equal(t, int64(444), line.Amounts[models.TierReferrerL2])
		assert.Equal(t, int64(666), line.Amounts[models.TierReferrerL1])
		assert.Equal(t, int64(1112), line.Amounts[models.TierPurchaser])

		var sum int64
		for _, a := range line.Amounts {
			sum += a
		}
		assert.Equal(t, line.Pool, sum)
	})

	t.Run("Fee On Subtotal", func(t *testing.T) {
		p := policy
		p.FeeOnSubtotal = true
		line := SplitCommission(100000, decimal.RequireFromString("0.20"), p)
		assert.Equal(t, int64(10000), line.Pool)
		assert.Equal(t, int64(10000), line.PlatformFee)
	})

	t.Run("Fee Larger Than Commission", func(t *testing.T) {
		p := policy
		p.FeeOnSubtotal = true
		line := SplitCommission(100000, decimal.RequireFromString("0.05"), p)
		assert.Equal(t, int64(0), line.Pool)
		assert.Equal(t, int64(0), line.Amounts[models.TierPurchaser])
	})
}

func TestNewCommissionPolicy(t *testing.T) {
	t.Run("Shares Must Sum To One", func(t *testing.T) {
		_, err := NewCommissionPolicy(map[string]string{"standard": "0.2"}, "standard", "0.1", "commission", []string{"0.5", "0.3", "0.3"})
		assert.Error(t, err)
	})

	t.Run("Default Tier Needs A Rate", func(t *testing.T) {
		_, err := NewCommissionPolicy(map[string]string{"premium": "0.3"}, "standard", "0.1", "commission", []string{"0.5", "0.3", "0.2"})
		assert.Error(t, err)
	})

	t.Run("Rate Lookup Falls Back", func(t *testing.T) {
		p, err := NewCommissionPolicy(map[string]string{"standard": "0.2", "premium": "0.3"}, "standard", "0.1", "subtotal", []string{"0.5", "0.3", "0.2"})
		require.NoError(t, err)
		assert.True(t, p.FeeOnSubtotal)

		name, rate := p.RateFor("premium")
		assert.Equal(t, "premium", name)
		assert.True(t, rate.Equal(decimal.RequireFromString("0.3")))

		name, rate = p.RateFor("unknown")
		assert.Equal(t, "standard", name)
		assert.True(t, rate.Equal(decimal.RequireFromString("0.2")))
	})
}
