package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
)

// LedgerAccounting writes invoice mirrors into the engine's own database.
type LedgerAccounting struct {
	clock Clock
}

func NewLedgerAccounting(clock Clock) *LedgerAccounting {
	return &LedgerAccounting{clock: clock}
}

func (a *LedgerAccounting) RecordPaidOrder(ctx context.Context, uow repository.UnitOfWork, order *models.Order, intent *models.PaymentIntent) error {
	issuedAt := a.clock.now()
	paidAt := issuedAt
	if intent.SucceededAt != nil {
		paidAt = *intent.SucceededAt
	}
	invoice := &models.Invoice{
		OrderID:     order.ID,
		Number:      "INV-" + order.Code,
		CustomerID:  order.CustomerID,
		TotalAmount: intent.Amount,
		Currency:    intent.Currency,
		Status:      "paid",
		IssuedAt:    issuedAt,
	}
	payment := &models.InvoicePayment{
		PaymentIntentID: intent.ID,
		Method:          string(intent.Method),
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		PaidAt:          paidAt,
	}
	if err := uow.Invoices().Create(ctx, invoice, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicatedKey) {
			return fmt.Errorf("invoice for order %s already exists: %w", order.Code, err)
		}
		return err
	}
	return nil
}
