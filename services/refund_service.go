package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/common/logger"
	"github.com/yashrajoria/payment-engine/models"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
)

type CreateRefundInput struct {
	PaymentID uuid.UUID
	Amount    int64
	Reason    string
	Items     []models.RefundItem
	Actor     string
}

type SettleRefundInput struct {
	RefundID    uuid.UUID
	ProviderRef string
	SettledAt   *time.Time
	Actor       string
}

type RefundableAmount struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	Original   int64     `json:"original"`
	Refunded   int64     `json:"refunded"`
	Refundable int64     `json:"refundable"`
	Currency   string    `json:"currency"`
}

// SettlementResult describes what a settlement did to the payment and order.
type SettlementResult struct {
	Refund         *models.RefundRequest `json:"refund"`
	FullRefund     bool                  `json:"full_refund"`
	PaymentStatus  models.PaymentStatus  `json:"payment_status"`
	OrderStatus    models.OrderStatus    `json:"order_status"`
	AlreadySettled bool                  `json:"already_settled,omitempty"`
}

// RefundService runs refunds through requested -> approved -> settled, with
// cancellation allowed until settlement.
type RefundService interface {
	CreateRefund(ctx context.Context, in CreateRefundInput) (*models.RefundRequest, error)
	ApproveRefund(ctx context.Context, refundID uuid.UUID, note, actor string) (*models.RefundRequest, error)
	SettleRefund(ctx context.Context, in SettleRefundInput) (*SettlementResult, error)
	CancelRefund(ctx context.Context, refundID uuid.UUID, reason, actor string) (*models.RefundRequest, error)
	FailRefund(ctx context.Context, refundID uuid.UUID, reason, actor string) (*models.RefundRequest, error)
	GetRefund(ctx context.Context, refundID uuid.UUID) (*models.RefundRequest, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error)
	GetRefundableAmount(ctx context.Context, paymentID uuid.UUID) (*RefundableAmount, error)
}

type refundServiceImpl struct {
	store   repository.Store
	grammar ReferenceGrammar
	events  eventPublisher
	metrics MetricsRecorder
	clock   Clock
	logger  *zap.Logger
}

func NewRefundService(store repository.Store, grammar ReferenceGrammar, notifier Notifier, metrics MetricsRecorder, clock Clock, logger *zap.Logger) RefundService {
	return &refundServiceImpl{
		store:   store,
		grammar: grammar,
		events:  eventPublisher{notifier: notifier, logger: logger},
		metrics: metrics,
		clock:   clock,
		logger:  logger,
	}
}

func (s *refundServiceImpl) CreateRefund(ctx context.Context, in CreateRefundInput) (*models.RefundRequest, error) {
	if in.Amount <= 0 {
		return nil, apperrors.Validation(ReasonInvalidAmount, "refund amount must be positive")
	}
	if strings.TrimSpace(in.Actor) == "" {
		return nil, apperrors.Validation(ReasonInvalidRequest, "requesting actor is required")
	}

	now := s.clock.now()
	var refund *models.RefundRequest
	err := s.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		intent, err := lockIntent(ctx, uow, in.PaymentID)
		if err != nil {
			return err
		}
		if intent.Status != models.PaymentStatusSucceeded {
			return apperrors.Conflict(ReasonPaymentStateConflict, "only succeeded payments can be refunded")
		}

		committed, err := uow.Refunds().SumByStatus(ctx, intent.ID, models.CommittedRefundStatuses...)
		if err != nil {
			return err
		}
		if refundable := intent.Amount - committed; in.Amount > refundable {
			return apperrors.Validation(ReasonRefundExceedsRefundable,
				fmt.Sprintf("refund %d exceeds refundable amount %d", in.Amount, refundable))
		}
		if err := checkRefundItems(ctx, uow, intent.OrderID, in.Items); err != nil {
			return err
		}

		refund = &models.RefundRequest{
			ID:              uuid.New(),
			PaymentIntentID: intent.ID,
			OrderID:         intent.OrderID,
			Amount:          in.Amount,
			Currency:        intent.Currency,
			Status:          models.RefundStatusRequested,
			Reason:          strings.TrimSpace(in.Reason),
			Items:           in.Items,
			RequestedBy:     in.Actor,
		}
		if err := uow.Refunds().Create(ctx, refund); err != nil {
			return err
		}
		refundID := refund.ID
		if err := uow.Transactions().Append(ctx, &models.TransactionRecord{
			ID:              uuid.New(),
			PaymentIntentID: intent.ID,
			OrderID:         intent.OrderID,
			RefundID:        &refundID,
			Type:            models.TransactionRefund,
			Amount:          in.Amount,
			Currency:        intent.Currency,
			Reference:       s.grammar.RefundReference(refund.ID),
		}); err != nil {
			return err
		}

		order, err := uow.Orders().FindByID(ctx, intent.OrderID)
		if err != nil {
			return err
		}
		if order.RefundRequestedAt == nil {
			order.RefundRequestedAt = timePtr(now)
			return uow.Orders().Save(ctx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("Refund requested",
		zap.String("refund_id", refund.ID.String()),
		zap.String("payment_id", refund.PaymentIntentID.String()),
		zap.Int64("amount", refund.Amount),
		zap.String("actor", in.Actor),
	)
	s.publish(ctx, refund, now, "Refund requested")
	return refund, nil
}

func checkRefundItems(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID, items []models.RefundItem) error {
	if len(items) == 0 {
		return nil
	}
	lines, err := uow.Orders().FindItems(ctx, orderID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]models.OrderItem, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}
	for _, it := range items {
		line, ok := byID[it.OrderItemID]
		if !ok {
			return apperrors.Validation(ReasonInvalidRequest, "refund item does not belong to the order")
		}
		if it.Quantity <= 0 || it.Quantity > line.Quantity {
			return apperrors.Validation(ReasonInvalidRequest, "refund item quantity is out of range")
		}
	}
	return nil
}

func (s *refundServiceImpl) ApproveRefund(ctx context.Context, refundID uuid.UUID, note, actor string) (*models.RefundRequest, error) {
	now := s.clock.now()
	refund, err := s.transition(ctx, refundID, []models.RefundStatus{models.RefundStatusRequested}, func(r *models.RefundRequest) {
		r.Status = models.RefundStatusApproved
		r.ApprovedBy = strPtr(actor)
		r.ApprovedAt = timePtr(now)
		if note = strings.TrimSpace(note); note != "" {
			r.ApprovalNote = strPtr(note)
		}
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("Refund approved", zap.String("refund_id", refundID.String()), zap.String("actor", actor))
	s.publish(ctx, refund, now, "Refund approved")
	return refund, nil
}

// CancelRefund withdraws a refund that has not been settled. Cancelling an
// already cancelled refund returns it unchanged.
func (s *refundServiceImpl) CancelRefund(ctx context.Context, refundID uuid.UUID, reason, actor string) (*models.RefundRequest, error) {
	current, err := s.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.RefundStatusCancelled {
		return current, nil
	}

	now := s.clock.now()
	refund, err := s.transition(ctx, refundID, []models.RefundStatus{models.RefundStatusRequested, models.RefundStatusApproved}, func(r *models.RefundRequest) {
		r.Status = models.RefundStatusCancelled
		r.CancelledBy = strPtr(actor)
		r.CancelledAt = timePtr(now)
		if reason = strings.TrimSpace(reason); reason != "" {
			r.CancelReason = strPtr(reason)
		}
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("Refund cancelled", zap.String("refund_id", refundID.String()), zap.String("actor", actor))
	s.publish(ctx, refund, now, "Refund cancelled")
	return refund, nil
}

// FailRefund records that the provider rejected an approved refund.
func (s *refundServiceImpl) FailRefund(ctx context.Context, refundID uuid.UUID, reason, actor string) (*models.RefundRequest, error) {
	now := s.clock.now()
	refund, err := s.transition(ctx, refundID, []models.RefundStatus{models.RefundStatusApproved}, func(r *models.RefundRequest) {
		r.Status = models.RefundStatusFailed
		r.FailedAt = timePtr(now)
		r.FailureReason = strPtr(firstNonEmpty(strings.TrimSpace(reason), "provider rejected refund"))
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Warn("Refund failed", zap.String("refund_id", refundID.String()), zap.String("actor", actor))
	s.publish(ctx, refund, now, "Refund failed")
	return refund, nil
}

// transition applies mutate to a refund whose status is one of from.
func (s *refundServiceImpl) transition(ctx context.Context, refundID uuid.UUID, from []models.RefundStatus, mutate func(*models.RefundRequest)) (*models.RefundRequest, error) {
	var refund *models.RefundRequest
	err := s.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		var err error
		refund, err = lockRefund(ctx, uow, refundID)
		if err != nil {
			return err
		}
		if !containsRefundStatus(from, refund.Status) {
			return apperrors.Conflict(ReasonRefundStateConflict, "refund is "+string(refund.Status))
		}
		mutate(refund)
		ok, err := uow.Refunds().Transition(ctx, refund, from...)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict(ReasonRefundStateConflict, "refund changed concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

// SettleRefund applies an approved refund. The settling actor must differ
// from the requester, and the refundable bound is checked again because
// several approved refunds may race for the same balance.
func (s *refundServiceImpl) SettleRefund(ctx context.Context, in SettleRefundInput) (*SettlementResult, error) {
	now := s.clock.now()
	settledAt := now
	if in.SettledAt != nil {
		settledAt = in.SettledAt.UTC()
	}

	var (
		res    = &SettlementResult{}
		intent *models.PaymentIntent
		order  *models.Order
	)
	err := s.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		refund, err := lockRefund(ctx, uow, in.RefundID)
		if err != nil {
			return err
		}
		res.Refund = refund
		intent, err = lockIntent(ctx, uow, refund.PaymentIntentID)
		if err != nil {
			return err
		}
		order, err = uow.Orders().FindByID(ctx, refund.OrderID)
		if err != nil {
			return err
		}
		res.PaymentStatus, res.OrderStatus = intent.Status, order.Status

		switch refund.Status {
		case models.RefundStatusSucceeded:
			res.AlreadySettled = true
			res.FullRefund = intent.Status == models.PaymentStatusRefunded
			return nil
		case models.RefundStatusApproved:
		default:
			return apperrors.Conflict(ReasonRefundStateConflict, "refund is "+string(refund.Status))
		}
		if strings.TrimSpace(in.Actor) == "" || in.Actor == refund.RequestedBy {
			return apperrors.New(http.StatusForbidden, ReasonSameActor, "refund must be settled by someone other than the requester", nil)
		}
		if intent.Status != models.PaymentStatusSucceeded {
			return apperrors.Conflict(ReasonPaymentStateConflict, "payment is "+string(intent.Status))
		}

		committed, err := uow.Refunds().SumByStatus(ctx, intent.ID, models.CommittedRefundStatuses...)
		if err != nil {
			return err
		}
		total := committed + refund.Amount
		if total > intent.Amount {
			return apperrors.Validation(ReasonRefundExceedsRefundable,
				fmt.Sprintf("refund %d exceeds refundable amount %d", refund.Amount, intent.Amount-committed))
		}

		refund.Status = models.RefundStatusSucceeded
		refund.ProcessedAt = timePtr(settledAt)
		refund.SettledBy = strPtr(in.Actor)
		if in.ProviderRef != "" {
			refund.ProviderRef = strPtr(in.ProviderRef)
		}
		ok, err := uow.Refunds().Transition(ctx, refund, models.RefundStatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict(ReasonRefundStateConflict, "refund changed concurrently")
		}

		order.LastRefundedAt = timePtr(now)
		if total == intent.Amount {
			res.FullRefund = true
			if err := s.applyFullRefund(ctx, uow, intent, order, now); err != nil {
				return err
			}
		}
		if err := uow.Orders().Save(ctx, order); err != nil {
			return err
		}
		res.PaymentStatus, res.OrderStatus = intent.Status, order.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.AlreadySettled {
		return res, nil
	}

	logger.FromContext(ctx, s.logger).Info("Refund settled",
		zap.String("refund_id", res.Refund.ID.String()),
		zap.String("payment_id", intent.ID.String()),
		zap.Bool("full_refund", res.FullRefund),
		zap.String("order_status", string(order.Status)),
	)
	recordMetric(s.metrics, awspkg.MetricRefundSettled, map[string]string{"Full": fmt.Sprint(res.FullRefund)})
	s.publish(ctx, res.Refund, now, "Refund settled")
	if res.FullRefund {
		s.events.publish(ctx, paymentEvent(models.EventStatusUpdate, intent, order, now))
	}
	return res, nil
}

// applyFullRefund closes out a payment whose whole amount went back. The
// order ends refunded once shipped, cancelled otherwise.
func (s *refundServiceImpl) applyFullRefund(ctx context.Context, uow repository.UnitOfWork, intent *models.PaymentIntent, order *models.Order, now time.Time) error {
	intent.Status = models.PaymentStatusRefunded
	intent.RefundedAt = timePtr(now)
	ok, err := uow.Intents().Transition(ctx, intent, models.PaymentStatusSucceeded)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict(ReasonPaymentStateConflict, "payment changed concurrently")
	}

	link, err := uow.PaymentLinks().FindByOrderID(ctx, order.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return err
	default:
		link.Status = models.LinkStatusRefunded
		if err := uow.PaymentLinks().Save(ctx, link); err != nil {
			return err
		}
	}

	if order.ShippingStatus.Shipped() {
		order.Status = models.OrderStatusRefunded
		order.RefundedAt = timePtr(now)
	} else {
		order.Status = models.OrderStatusCancelled
		order.CancelledAt = timePtr(now)
	}
	return nil
}

func (s *refundServiceImpl) GetRefund(ctx context.Context, refundID uuid.UUID) (*models.RefundRequest, error) {
	refund, err := s.store.Refunds().FindByID(ctx, refundID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRefundNotFound
	}
	return refund, err
}

func (s *refundServiceImpl) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error) {
	if _, err := s.store.Intents().FindByID(ctx, paymentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return s.store.Refunds().ListByIntent(ctx, paymentID)
}

func (s *refundServiceImpl) GetRefundableAmount(ctx context.Context, paymentID uuid.UUID) (*RefundableAmount, error) {
	intent, err := s.store.Intents().FindByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	committed, err := s.store.Refunds().SumByStatus(ctx, intent.ID, models.CommittedRefundStatuses...)
	if err != nil {
		return nil, err
	}
	out := &RefundableAmount{
		PaymentID: intent.ID,
		Original:  intent.Amount,
		Refunded:  committed,
		Currency:  intent.Currency,
	}
	if intent.Status == models.PaymentStatusSucceeded {
		out.Refundable = intent.Amount - committed
	}
	return out, nil
}

func (s *refundServiceImpl) publish(ctx context.Context, r *models.RefundRequest, now time.Time, msg string) {
	s.events.publish(ctx, models.PaymentEvent{
		Type:      models.EventRefundUpdate,
		OrderID:   r.OrderID.String(),
		PaymentID: r.PaymentIntentID.String(),
		RefundID:  r.ID.String(),
		Status:    string(r.Status),
		Amount:    r.Amount,
		Currency:  r.Currency,
		Message:   msg,
		Timestamp: now,
	})
}

func lockIntent(ctx context.Context, uow repository.UnitOfWork, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := uow.Intents().FindByIDForUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	return intent, err
}

func lockRefund(ctx context.Context, uow repository.UnitOfWork, id uuid.UUID) (*models.RefundRequest, error) {
	refund, err := uow.Refunds().FindByIDForUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRefundNotFound
	}
	return refund, err
}

func containsRefundStatus(list []models.RefundStatus, s models.RefundStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
