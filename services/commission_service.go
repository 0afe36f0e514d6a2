package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
)

// CommissionOutcome summarises one calculation.
type CommissionOutcome struct {
	OrderID      uuid.UUID
	Skipped      bool
	SkipReason   string
	Records      int
	PaidAmount   int64
	UnpaidAmount int64
	CartCleared  int64
}

type CommissionCalculator interface {
	Calculate(ctx context.Context, orderID uuid.UUID) (*CommissionOutcome, error)
}

type commissionServiceImpl struct {
	store      repository.Store
	policy     CommissionPolicy
	accounting Accounting
	clock      Clock
	logger     *zap.Logger
}

func NewCommissionService(store repository.Store, policy CommissionPolicy, accounting Accounting, clock Clock, logger *zap.Logger) CommissionCalculator {
	return &commissionServiceImpl{
		store:      store,
		policy:     policy,
		accounting: accounting,
		clock:      clock,
		logger:     logger,
	}
}

// Calculate splits commissions for a completed order, mirrors it into the
// invoice ledger and clears the purchased items from the cart, all in one
// transaction. An order that already has an invoice is skipped, which makes
// redelivered jobs harmless.
func (s *commissionServiceImpl) Calculate(ctx context.Context, orderID uuid.UUID) (*CommissionOutcome, error) {
	out := &CommissionOutcome{OrderID: orderID}
	err := s.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		done, err := uow.Invoices().ExistsForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if done {
			out.Skipped, out.SkipReason = true, "already processed"
			return nil
		}

		order, err := uow.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusCompleted {
			out.Skipped, out.SkipReason = true, "order is "+string(order.Status)
			return nil
		}
		intent, err := paidIntent(ctx, uow, order.ID)
		if err != nil {
			return err
		}
		items, err := uow.Orders().FindItems(ctx, order.ID)
		if err != nil {
			return err
		}

		ancestors, err := uow.Referrals().Ancestors(ctx, order.CustomerID, 2)
		if err != nil {
			return err
		}
		if len(ancestors) > 0 {
			if err := s.split(ctx, uow, order, items, ancestors, intent.Currency, out); err != nil {
				return err
			}
		}

		if err := s.accounting.RecordPaidOrder(ctx, uow, order, intent); err != nil {
			return err
		}

		products := make([]uuid.UUID, 0, len(items))
		for _, it := range items {
			products = append(products, it.ProductID)
		}
		out.CartCleared, err = uow.Carts().RemoveItems(ctx, order.CustomerID, products)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Commission calculated",
		zap.String("order_id", orderID.String()),
		zap.Bool("skipped", out.Skipped),
		zap.String("skip_reason", out.SkipReason),
		zap.Int("records", out.Records),
		zap.Int64("paid", out.PaidAmount),
		zap.Int64("unpaid", out.UnpaidAmount),
	)
	return out, nil
}

func (s *commissionServiceImpl) split(
	ctx context.Context,
	uow repository.UnitOfWork,
	order *models.Order,
	items []models.OrderItem,
	ancestors []models.ReferralClosure,
	currency string,
	out *CommissionOutcome,
) error {
	beneficiaries := map[models.CommissionTier]uuid.UUID{models.TierPurchaser: order.CustomerID}
	for _, a := range ancestors {
		switch a.Depth {
		case 1:
			beneficiaries[models.TierReferrerL1] = a.AncestorID
		case 2:
			beneficiaries[models.TierReferrerL2] = a.AncestorID
		}
	}

	categoryIDs := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		categoryIDs = append(categoryIDs, it.CategoryID)
	}
	tiers, err := uow.Commissions().CategoryTiers(ctx, categoryIDs)
	if err != nil {
		return err
	}

	var (
		records   []models.CommissionRecord
		summaries []models.CommissionSummary
	)
	for _, it := range items {
		tierName, rate := s.policy.RateFor(tiers[it.CategoryID])
		line := SplitCommission(it.Subtotal, rate, s.policy)

		summary := models.CommissionSummary{
			ID:           uuid.New(),
			OrderID:      order.ID,
			OrderItemID:  it.ID,
			LineSubtotal: it.Subtotal,
			CategoryTier: tierName,
			Rate:         rate.String(),
			PlatformFee:  line.PlatformFee,
			Pool:         line.Pool,
		}
		for i, tier := range commissionTiers {
			amount := line.Amounts[tier]
			who, ok := beneficiaries[tier]
			if !ok {
				summary.UnpaidAmount += amount
				continue
			}
			records = append(records, models.CommissionRecord{
				ID:            uuid.New(),
				OrderID:       order.ID,
				OrderItemID:   it.ID,
				Tier:          tier,
				BeneficiaryID: who,
				Share:         s.policy.Shares[i].String(),
				Amount:        amount,
				Currency:      currency,
			})
			summary.PaidAmount += amount
			summary.Beneficiaries++
		}
		out.PaidAmount += summary.PaidAmount
		out.UnpaidAmount += summary.UnpaidAmount
		summaries = append(summaries, summary)
	}

	if err := uow.Commissions().CreateRecords(ctx, records); err != nil {
		return err
	}
	out.Records = len(records)
	return uow.Commissions().CreateSummaries(ctx, summaries)
}

func paidIntent(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID) (*models.PaymentIntent, error) {
	link, err := uow.PaymentLinks().FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if link.PaymentIntentID == nil {
		return nil, errors.New("order has no paid payment")
	}
	return uow.Intents().FindByID(ctx, *link.PaymentIntentID)
}
