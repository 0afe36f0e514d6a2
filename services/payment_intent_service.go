package services

import (
	"context"
	"errors"
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

type CreatePaymentInput struct {
	OrderID        uuid.UUID
	Method         models.PaymentMethod
	Provider       models.Provider
	IdempotencyKey string
	UserID         string
}

// PaymentView is the caller-facing shape of an intent.
type PaymentView struct {
	PaymentID   uuid.UUID            `json:"payment_id"`
	OrderID     uuid.UUID            `json:"order_id"`
	OrderCode   string               `json:"order_code"`
	Provider    models.Provider      `json:"provider"`
	Method      models.PaymentMethod `json:"method"`
	Status      models.PaymentStatus `json:"status"`
	Amount      int64                `json:"amount"`
	Currency    string               `json:"currency"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	PaymentCode string               `json:"payment_code,omitempty"`
	Description string               `json:"description,omitempty"`
	Message     string               `json:"message"`
	Reused      bool                 `json:"reused,omitempty"`
}

// PaymentService opens payment intents for orders and reports their status.
type PaymentService interface {
	CreateOrReuse(ctx context.Context, in CreatePaymentInput) (*PaymentView, error)
	GetStatus(ctx context.Context, paymentID uuid.UUID) (*PaymentView, error)
}

type PaymentServiceConfig struct {
	Currency string
	TTL      time.Duration
	Account  BankAccount
	Grammar  ReferenceGrammar
}

type paymentServiceImpl struct {
	store    repository.Store
	handlers map[models.Provider]ProviderHandler
	currency string
	events   eventPublisher
	metrics  MetricsRecorder
	clock    Clock
	logger   *zap.Logger
}

func NewPaymentService(
	store repository.Store,
	cfg PaymentServiceConfig,
	inventory Inventory,
	notifier Notifier,
	metrics MetricsRecorder,
	clock Clock,
	logger *zap.Logger,
) PaymentService {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	handlers := map[models.Provider]ProviderHandler{}
	for _, h := range []ProviderHandler{
		&vietQRHandler{account: cfg.Account, ttl: cfg.TTL, grammar: cfg.Grammar, inventory: inventory},
		codHandler{},
		cardHandler{},
	} {
		handlers[h.Provider()] = h
	}
	return &paymentServiceImpl{
		store:    store,
		handlers: handlers,
		currency: strings.ToUpper(cfg.Currency),
		events:   eventPublisher{notifier: notifier, logger: logger},
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// CreateOrReuse opens an intent for the order, or returns the one already
// covering the request. The payment link row is locked for the whole call so
// concurrent creates for one order serialize.
func (s *paymentServiceImpl) CreateOrReuse(ctx context.Context, in CreatePaymentInput) (*PaymentView, error) {
	handler, ok := s.handlers[in.Provider]
	if !ok {
		return nil, apperrors.Validation(ReasonUnsupportedProvider, "unsupported payment provider")
	}
	if !in.Provider.Accepts(in.Method) {
		return nil, apperrors.Validation(ReasonMethodMismatch, "payment method is not supported by this provider")
	}

	var (
		order   *models.Order
		outcome *intentOutcome
		keyHit  bool
	)
	now := s.clock.now()
	err := s.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		link, err := uow.PaymentLinks().FindByOrderID(ctx, in.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.Validation(ReasonOrderPayableStateInvalid, "order has no payable state")
		}
		if err != nil {
			return err
		}
		order, err = uow.Orders().FindByID(ctx, in.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		var key *string
		if k := strings.TrimSpace(in.IdempotencyKey); k != "" {
			key = &k
			existing, err := uow.Intents().FindByIdempotencyKey(ctx, in.OrderID, k)
			if err == nil {
				outcome, keyHit = &intentOutcome{Intent: existing, Reused: true}, true
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}

		if !order.Status.Payable() {
			return apperrors.Conflict(ReasonOrderNotPayable, "order is not payable in status "+string(order.Status))
		}
		if link.Method != "" && link.Method != in.Method {
			return apperrors.Validation(ReasonMethodMismatch, "order is payable by "+string(link.Method))
		}
		if link.Amount <= 0 {
			return apperrors.Validation(ReasonInvalidAmount, "order amount must be positive")
		}
		currency := strings.ToUpper(link.Currency)
		if currency == "" {
			currency = s.currency
		}

		outcome, err = handler.Open(ctx, uow, &intentRequest{
			Order:          order,
			Link:           link,
			Amount:         link.Amount,
			Currency:       currency,
			IdempotencyKey: key,
			Now:            now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	view := s.view(outcome.Intent, order)
	view.Reused = outcome.Reused
	if keyHit || outcome.Reused {
		return view, nil
	}

	if outcome.Replaced != nil {
		logger.FromContext(ctx, s.logger).Info("Replaced expired payment",
			zap.String("old_payment_id", outcome.Replaced.ID.String()),
			zap.String("payment_id", outcome.Intent.ID.String()),
			zap.String("order_id", order.ID.String()),
		)
	}
	logger.FromContext(ctx, s.logger).Info("Payment created",
		zap.String("payment_id", outcome.Intent.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("provider", string(outcome.Intent.Provider)),
		zap.Int64("amount", outcome.Intent.Amount),
	)
	recordMetric(s.metrics, awspkg.MetricPaymentCreated, map[string]string{"Provider": string(outcome.Intent.Provider)})

	event := paymentEvent(models.EventStatusUpdate, outcome.Intent, order, now)
	if in.UserID != "" {
		event.UserID = in.UserID
	}
	event.Message = view.Message
	if outcome.Intent.Provider == models.ProviderCOD {
		event.Type = models.EventUserConfirmation
	}
	s.events.publish(ctx, event)
	return view, nil
}

func (s *paymentServiceImpl) GetStatus(ctx context.Context, paymentID uuid.UUID) (*PaymentView, error) {
	intent, err := s.store.Intents().FindByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	order, err := s.store.Orders().FindByID(ctx, intent.OrderID)
	if err != nil {
		return nil, err
	}
	return s.view(intent, order), nil
}

func (s *paymentServiceImpl) view(intent *models.PaymentIntent, order *models.Order) *PaymentView {
	v := &PaymentView{
		PaymentID: intent.ID,
		OrderID:   intent.OrderID,
		OrderCode: order.Code,
		Provider:  intent.Provider,
		Method:    intent.Method,
		Status:    intent.Status,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Message:   statusMessage(intent, s.clock.now()),
	}
	if intent.Status == models.PaymentStatusPending {
		v.ExpiresAt = intent.ExpiresAt
	}
	if bt := intent.RequestMetadata.Data().BankTransfer; bt != nil && intent.Status.Live() {
		v.PaymentCode = bt.PaymentCode
		v.Description = bt.Description
	}
	return v
}

func statusMessage(intent *models.PaymentIntent, now time.Time) string {
	switch intent.Status {
	case models.PaymentStatusPending:
		if intent.Expired(now) {
			return "Payment window has elapsed"
		}
		if intent.Method == models.MethodCash {
			return "Payment will be collected on delivery"
		}
		return "Waiting for the bank transfer"
	case models.PaymentStatusCreated:
		return "Payment is being prepared"
	case models.PaymentStatusSucceeded:
		return "Payment received"
	case models.PaymentStatusFailed:
		if intent.FailureReason != nil && *intent.FailureReason == models.FailureReasonExpired {
			return "Payment expired"
		}
		return "Payment failed"
	case models.PaymentStatusCancelled:
		return "Payment was cancelled"
	case models.PaymentStatusRefunded:
		return "Payment was refunded"
	}
	return string(intent.Status)
}

func paymentEvent(eventType string, intent *models.PaymentIntent, order *models.Order, now time.Time) models.PaymentEvent {
	e := models.PaymentEvent{
		Type:      eventType,
		OrderID:   intent.OrderID.String(),
		PaymentID: intent.ID.String(),
		Provider:  string(intent.Provider),
		Status:    string(intent.Status),
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Timestamp: now,
	}
	if order != nil {
		e.OrderCode = order.Code
		e.UserID = order.CustomerID.String()
	}
	return e
}
