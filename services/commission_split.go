package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yashrajoria/payment-engine/models"
)

// CommissionPolicy holds the commission rates and split proportions.
type CommissionPolicy struct {
	TierRates   map[string]decimal.Decimal
	DefaultTier string
	PlatformFee decimal.Decimal
	// FeeOnSubtotal takes the platform cut from the line subtotal instead of
	// from the rate-based commission.
	FeeOnSubtotal bool
	// Shares for purchaser, depth-1 and depth-2 beneficiaries.
	Shares [3]decimal.Decimal
}

var commissionTiers = [3]models.CommissionTier{models.TierPurchaser, models.TierReferrerL1, models.TierReferrerL2}

// NewCommissionPolicy parses textual configuration into a policy.
func NewCommissionPolicy(rates map[string]string, defaultTier, platformFee, feeBase string, shares []string) (CommissionPolicy, error) {
	p := CommissionPolicy{
		TierRates:     make(map[string]decimal.Decimal, len(rates)),
		DefaultTier:   defaultTier,
		FeeOnSubtotal: strings.EqualFold(feeBase, "subtotal"),
	}
	for name, raw := range rates {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
			return p, fmt.Errorf("invalid rate %q for tier %s", raw, name)
		}
		p.TierRates[name] = d
	}
	if _, ok := p.TierRates[defaultTier]; !ok {
		return p, fmt.Errorf("default tier %q has no rate", defaultTier)
	}

	fee, err := decimal.NewFromString(platformFee)
	if err != nil || fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(1)) {
		return p, fmt.Errorf("invalid platform fee %q", platformFee)
	}
	p.PlatformFee = fee

	if len(shares) != len(p.Shares) {
		return p, fmt.Errorf("expected %d shares, got %d", len(p.Shares), len(shares))
	}
	sum := decimal.Zero
	for i, raw := range shares {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return p, fmt.Errorf("invalid share %q", raw)
		}
		p.Shares[i] = d
		sum = sum.Add(d)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return p, fmt.Errorf("shares must sum to 1, got %s", sum)
	}
	return p, nil
}

// DefaultCommissionPolicy is 20/30/50% by tier, a 10% platform cut and a
// 50/30/20 split.
func DefaultCommissionPolicy() CommissionPolicy {
	p, _ := NewCommissionPolicy(
		map[string]string{"standard": "0.20", "premium": "0.30", "exclusive": "0.50"},
		"standard", "0.10", "commission", []string{"0.50", "0.30", "0.20"},
	)
	return p
}

// RateFor resolves a category tier name to its rate, falling back to the
// default tier.
func (p CommissionPolicy) RateFor(tier string) (string, decimal.Decimal) {
	if r, ok := p.TierRates[tier]; ok {
		return tier, r
	}
	return p.DefaultTier, p.TierRates[p.DefaultTier]
}

// LineSplit is the commission computed for one order line.
type LineSplit struct {
	Rate        decimal.Decimal
	PlatformFee int64
	Pool        int64
	Amounts     map[models.CommissionTier]int64
}

// SplitCommission computes the pool for a line subtotal and splits it.
// Referrer shares are floored; the purchaser takes the remainder so the
// amounts always add up to the pool.
func SplitCommission(subtotal int64, rate decimal.Decimal, p CommissionPolicy) LineSplit {
	p0 := decimal.NewFromInt(subtotal)
	gross := p0.Mul(rate)

	var pool decimal.Decimal
	if p.FeeOnSubtotal {
		pool = gross.Sub(p0.Mul(p.PlatformFee))
	} else {
		pool = gross.Mul(decimal.NewFromInt(1).Sub(p.PlatformFee))
	}
	if pool.IsNegative() {
		pool = decimal.Zero
	}
	poolMinor := pool.Floor().IntPart()

	out := LineSplit{
		Rate:        rate,
		PlatformFee: gross.Floor().IntPart() - poolMinor,
		Pool:        poolMinor,
		Amounts:     make(map[models.CommissionTier]int64, len(commissionTiers)),
	}
	if out.PlatformFee < 0 {
		out.PlatformFee = 0
	}
	rest := poolMinor
	for i := len(commissionTiers) - 1; i >= 1; i-- {
		amt := decimal.NewFromInt(poolMinor).Mul(p.Shares[i]).Floor().IntPart()
		out.Amounts[commissionTiers[i]] = amt
		rest -= amt
	}
	out.Amounts[models.TierPurchaser] = rest
	return out
}
