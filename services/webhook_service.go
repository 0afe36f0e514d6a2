package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/common/logger"
	"github.com/yashrajoria/payment-engine/models"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

// CompletionInput identifies a pending intent and the evidence it was paid.
// Either PaymentID or OrderCode with Provider must be set. A nil Amount or an
// empty Currency skips that check.
type CompletionInput struct {
	PaymentID   *uuid.UUID
	OrderCode   string
	Provider    models.Provider
	Amount      *int64
	Currency    string
	ProviderRef string
	Details     models.CompletionDetails
	Extra       map[string]any
}

type CompletionResult struct {
	PaymentID        uuid.UUID            `json:"payment_id"`
	OrderID          uuid.UUID            `json:"order_id"`
	OrderCode        string               `json:"order_code,omitempty"`
	Status           models.PaymentStatus `json:"status"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency"`
	SucceededAt      *time.Time           `json:"succeeded_at,omitempty"`
	AlreadySucceeded bool                 `json:"already_succeeded"`
}

// ManualVerification is an operator's confirmation that money arrived.
type ManualVerification struct {
	Provider    models.Provider
	Amount      *int64
	Currency    string
	ProviderRef string
	RawPayload  map[string]any
	Actor       string
}

const (
	AckProcessed           = "processed"
	AckProcessedWithErrors = "processed_with_errors"
	AckIgnored             = "ignored"
)

// WebhookAck is returned to webhook senders. Anything after authentication
// is acknowledged so the sender stops retrying.
type WebhookAck struct {
	Status    string     `json:"status"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type WebhookService interface {
	Complete(ctx context.Context, in CompletionInput) (*CompletionResult, error)
	HandleBankWebhook(ctx context.Context, body []byte, signature, timestamp, nonce string) (*WebhookAck, error)
	HandleExternalCompletion(ctx context.Context, payload ExternalPayload) *WebhookAck
	VerifyPayment(ctx context.Context, paymentID uuid.UUID, v ManualVerification) (*CompletionResult, error)
}

type WebhookServiceConfig struct {
	Currency           string
	Account            BankAccount
	Grammar            ReferenceGrammar
	CommissionAttempts int
}

type webhookServiceImpl struct {
	store     repository.Store
	verifier  *SignatureVerifier
	inventory Inventory
	expirer   *expirer
	jobs      JobNotifier
	cfg       WebhookServiceConfig
	group     singleflight.Group
	events    eventPublisher
	metrics   MetricsRecorder
	clock     Clock
	logger    *zap.Logger
}

func NewWebhookService(
	store repository.Store,
	verifier *SignatureVerifier,
	inventory Inventory,
	notifier Notifier,
	jobs JobNotifier,
	metrics MetricsRecorder,
	cfg WebhookServiceConfig,
	clock Clock,
	logger *zap.Logger,
) WebhookService {
	if cfg.CommissionAttempts <= 0 {
		cfg.CommissionAttempts = 5
	}
	if jobs == nil {
		jobs = noopJobNotifier{}
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	events := eventPublisher{notifier: notifier, logger: logger}
	return &webhookServiceImpl{
		store:     store,
		verifier:  verifier,
		inventory: inventory,
		expirer: &expirer{
			store:     store,
			inventory: inventory,
			events:    events,
			metrics:   metrics,
			clock:     clock,
			logger:    logger,
		},
		jobs:    jobs,
		cfg:     cfg,
		events:  events,
		metrics: metrics,
		clock:   clock,
		logger:  logger,
	}
}

// Complete marks a pending intent paid. Completing an intent that already
// succeeded returns the stored result, so duplicate deliveries read as
// success. Concurrent calls carrying the same evidence share one execution,
// which outlives a caller that gives up; callers that joined it read
// AlreadySucceeded.
func (s *webhookServiceImpl) Complete(ctx context.Context, in CompletionInput) (*CompletionResult, error) {
	ran := false
	ch := s.group.DoChan(completionKey(in), func() (interface{}, error) {
		ran = true
		return s.complete(context.WithoutCancel(ctx), in)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*CompletionResult)
		if !ran {
			res.AlreadySucceeded = true
		}
		return &res, nil
	}
}

// completionKey names a completion by its target and by every field the
// amount check reads, so calls only share a result they would each produce.
func completionKey(in CompletionInput) string {
	target := "order:" + strings.ToUpper(in.OrderCode) + ":" + string(in.Provider)
	if in.PaymentID != nil {
		target = "pay:" + in.PaymentID.String()
	}
	amount := "-"
	if in.Amount != nil {
		amount = strconv.FormatInt(*in.Amount, 10)
	}
	return strings.Join([]string{target, amount, strings.ToUpper(in.Currency), in.ProviderRef}, "|")
}

func (s *webhookServiceImpl) complete(ctx context.Context, in CompletionInput) (*CompletionResult, error) {
	intent, order, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if intent.Status == models.PaymentStatusSucceeded {
		if err := checkAmount(intent, in.Amount, in.Currency); err != nil {
			return nil, err
		}
		return s.alreadySucceeded(intent, order), nil
	}
	if intent.Status != models.PaymentStatusPending {
		return nil, apperrors.Conflict(ReasonPaymentStateConflict, "payment is "+string(intent.Status))
	}

	now := s.clock.now()
	if intent.Expired(now) {
		if _, err := s.expirer.expire(ctx, intent.ID, "completion"); err != nil {
			logger.FromContext(ctx, s.logger).Error("Failed to expire payment on late completion",
				zap.String("payment_id", intent.ID.String()), zap.Error(err))
		}
		return nil, ErrPaymentExpired
	}
	if err := checkAmount(intent, in.Amount, in.Currency); err != nil {
		return nil, err
	}

	var already bool
	err = s.store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		// link before intent, the same order payment creation locks them in
		link, err := uow.PaymentLinks().FindByOrderID(ctx, intent.OrderID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		locked, err := uow.Intents().FindByIDForUpdate(ctx, intent.ID)
		if err != nil {
			return err
		}
		switch {
		case locked.Status == models.PaymentStatusSucceeded:
			intent, already = locked, true
			return checkAmount(locked, in.Amount, in.Currency)
		case locked.Status != models.PaymentStatusPending:
			return apperrors.Conflict(ReasonPaymentStateConflict, "payment is "+string(locked.Status))
		}
		intent = locked

		order, err = uow.Orders().FindByID(ctx, intent.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.Payable() {
			return apperrors.Conflict(ReasonOrderNotPayable, "order is "+string(order.Status))
		}

		details := in.Details
		details.Amount = intent.Amount
		if details.Currency == "" {
			details.Currency = intent.Currency
		}
		if details.PaidAt == nil {
			details.PaidAt = timePtr(now)
		}
		intent.Status = models.PaymentStatusSucceeded
		intent.SucceededAt = timePtr(now)
		if in.ProviderRef != "" {
			intent.ProviderRef = strPtr(in.ProviderRef)
		}
		intent.ResponseMetadata = datatypes.NewJSONType(models.CompletionMetadata(details, in.Extra))
		ok, err := uow.Intents().Transition(ctx, intent, models.PaymentStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict(ReasonPaymentStateConflict, "payment changed during completion")
		}

		order.Status = models.OrderStatusCompleted
		order.PaidAt = timePtr(now)
		order.CompletedAt = timePtr(now)
		if err := uow.Orders().Save(ctx, order); err != nil {
			return err
		}

		if link != nil {
			link.Status = models.LinkStatusPaid
			link.PaidAt = timePtr(now)
			link.PaymentIntentID = &intent.ID
			if err := uow.PaymentLinks().Save(ctx, link); err != nil {
				return err
			}
		}

		if err := uow.Transactions().Append(ctx, &models.TransactionRecord{
			ID:              uuid.New(),
			PaymentIntentID: intent.ID,
			OrderID:         order.ID,
			Type:            models.TransactionCharge,
			Amount:          intent.Amount,
			Currency:        intent.Currency,
			Reference:       firstNonEmpty(in.ProviderRef, details.TransactionID, details.Reference),
		}); err != nil {
			return err
		}

		if err := s.inventory.CommitOnSuccess(ctx, uow, order.ID); err != nil {
			return err
		}

		return uow.Jobs().Enqueue(ctx, &models.CommissionJob{
			ID:            uuid.New(),
			Kind:          models.JobKindCommission,
			OrderID:       order.ID,
			Status:        models.JobStatusPending,
			MaxAttempts:   s.cfg.CommissionAttempts,
			NextAttemptAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	if already {
		if order == nil {
			order, _ = s.store.Orders().FindByID(ctx, intent.OrderID)
		}
		return s.alreadySucceeded(intent, order), nil
	}

	logger.FromContext(ctx, s.logger).Info("Payment succeeded",
		zap.String("payment_id", intent.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("source", in.Details.Source),
		zap.Int64("amount", intent.Amount),
	)
	recordMetric(s.metrics, awspkg.MetricPaymentSucceeded, map[string]string{"Provider": string(intent.Provider)})
	s.events.publish(ctx, paymentEvent(models.EventPaymentSucceeded, intent, order, now))
	s.jobs.Notify()

	return &CompletionResult{
		PaymentID:   intent.ID,
		OrderID:     order.ID,
		OrderCode:   order.Code,
		Status:      intent.Status,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		SucceededAt: intent.SucceededAt,
	}, nil
}

// resolve finds the pending intent the input points at. When only an order
// code is given and nothing is pending, a succeeded intent is returned so the
// caller can answer idempotently.
func (s *webhookServiceImpl) resolve(ctx context.Context, in CompletionInput) (*models.PaymentIntent, *models.Order, error) {
	if in.PaymentID != nil {
		intent, err := s.store.Intents().FindByID(ctx, *in.PaymentID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrPaymentNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		order, err := s.store.Orders().FindByID(ctx, intent.OrderID)
		if err != nil {
			return nil, nil, err
		}
		if in.OrderCode != "" && !strings.EqualFold(order.Code, in.OrderCode) {
			return nil, nil, apperrors.Validation(ReasonInvalidRequest, "payment does not belong to order "+in.OrderCode)
		}
		return intent, order, nil
	}

	if strings.TrimSpace(in.OrderCode) == "" {
		return nil, nil, apperrors.Validation(ReasonReferenceUnknown, "no order reference supplied")
	}
	order, err := s.store.Orders().FindByCode(ctx, in.OrderCode)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	for _, status := range []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusSucceeded} {
		intent, err := s.store.Intents().FindLatest(ctx, order.ID, in.Provider, status)
		if err == nil {
			return intent, order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, err
		}
	}
	return nil, nil, ErrPaymentNotFound
}

func (s *webhookServiceImpl) alreadySucceeded(intent *models.PaymentIntent, order *models.Order) *CompletionResult {
	recordMetric(s.metrics, awspkg.MetricWebhookDuplicate, map[string]string{"Provider": string(intent.Provider)})
	res := &CompletionResult{
		PaymentID:        intent.ID,
		OrderID:          intent.OrderID,
		Status:           intent.Status,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		SucceededAt:      intent.SucceededAt,
		AlreadySucceeded: true,
	}
	if order != nil {
		res.OrderCode = order.Code
	}
	return res
}

func checkAmount(intent *models.PaymentIntent, amount *int64, currency string) error {
	if amount != nil && *amount != intent.Amount {
		return apperrors.Validation(ReasonAmountMismatch,
			fmt.Sprintf("amount %d does not match payable amount %d", *amount, intent.Amount))
	}
	if currency != "" && !strings.EqualFold(currency, intent.Currency) {
		return apperrors.Validation(ReasonCurrencyMismatch,
			fmt.Sprintf("currency %s does not match %s", strings.ToUpper(currency), intent.Currency))
	}
	return nil
}

// HandleBankWebhook authenticates and applies a bank transfer notification.
// Only authentication failures are returned as errors.
func (s *webhookServiceImpl) HandleBankWebhook(ctx context.Context, body []byte, signature, timestamp, nonce string) (*WebhookAck, error) {
	if err := s.verifier.Verify(ctx, body, signature, timestamp, nonce); err != nil {
		logger.FromContext(ctx, s.logger).Warn("Bank webhook rejected", zap.String("reason", apperrors.ReasonOf(err)), zap.Error(err))
		recordMetric(s.metrics, awspkg.MetricWebhookRejected, map[string]string{"Reason": apperrors.ReasonOf(err)})
		return nil, err
	}

	var payload BankWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.FromContext(ctx, s.logger).Warn("Bank webhook body is not valid JSON", zap.Error(err))
		return &WebhookAck{Status: AckProcessedWithErrors, Message: "malformed payload"}, nil
	}

	now := s.clock.now()
	s.events.publish(ctx, models.PaymentEvent{
		Type:      models.EventWebhookReceived,
		Provider:  string(models.ProviderVietQR),
		Amount:    payload.Amount,
		Currency:  payload.Currency,
		Message:   payload.Reference,
		Details:   map[string]any{"transaction_id": payload.TransactionID},
		Timestamp: now,
	})

	ref := s.cfg.Grammar.ParsePayment(payload.Reference)
	if ref.Kind != RefPayment {
		ref = s.cfg.Grammar.ParsePayment(payload.Description)
	}
	if ref.Kind != RefPayment {
		return s.ackError(ctx, nil, apperrors.Validation(ReasonReferenceUnknown, ref.Reason), now), nil
	}
	if s.cfg.Account.AccountNo != "" && payload.AccountNo != "" && payload.AccountNo != s.cfg.Account.AccountNo {
		return s.ackError(ctx, nil, apperrors.Validation(ReasonInvalidRequest, "transfer was made to another account"), now), nil
	}

	currency := payload.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	amount := payload.Amount
	in := CompletionInput{
		PaymentID:   ref.PaymentID,
		OrderCode:   ref.OrderCode,
		Provider:    models.ProviderVietQR,
		Amount:      &amount,
		Currency:    currency,
		ProviderRef: payload.TransactionID,
		Details: models.CompletionDetails{
			Source:        "bank_webhook",
			TransactionID: payload.TransactionID,
			AccountNo:     payload.AccountNo,
			BankCode:      payload.BankCode,
			AccountName:   payload.AccountName,
			Reference:     payload.Reference,
			PaidAt:        parseTransactionDate(payload.TransactionDate),
		},
		Extra: map[string]any{"description": payload.Description, "transaction_date": payload.TransactionDate},
	}
	return s.finish(ctx, in, now), nil
}

// HandleExternalCompletion applies a notification from the gateway that
// watches the receiving account. The caller has already checked its API key.
func (s *webhookServiceImpl) HandleExternalCompletion(ctx context.Context, p ExternalPayload) *WebhookAck {
	now := s.clock.now()
	if p.Outgoing() {
		return &WebhookAck{Status: AckIgnored, Message: "outgoing transfer"}
	}
	s.events.publish(ctx, models.PaymentEvent{
		Type:      models.EventWebhookReceived,
		Provider:  p.Gateway,
		Amount:    p.TransferAmount,
		Message:   p.Content,
		Details:   map[string]any{"transaction_id": string(p.ID)},
		Timestamp: now,
	})

	code, ok := externalOrderCode(s.cfg.Grammar, p)
	if !ok {
		return s.ackError(ctx, nil, apperrors.Validation(ReasonReferenceUnknown, "no order code in transfer"), now)
	}
	amount := p.TransferAmount
	in := CompletionInput{
		OrderCode:   code,
		Provider:    models.ProviderVietQR,
		Amount:      &amount,
		ProviderRef: string(p.ID),
		Details: models.CompletionDetails{
			Source:        "external",
			TransactionID: string(p.ID),
			Gateway:       p.Gateway,
			AccountNo:     p.AccountNumber,
			Reference:     p.ReferenceCode,
			PaidAt:        parseTransactionDate(p.TransactionDate),
		},
		Extra: map[string]any{"content": p.Content, "description": p.Description},
	}
	return s.finish(ctx, in, now)
}

func (s *webhookServiceImpl) finish(ctx context.Context, in CompletionInput, now time.Time) *WebhookAck {
	res, err := s.Complete(ctx, in)
	if err != nil {
		return s.ackError(ctx, in.PaymentID, err, now)
	}
	ack := &WebhookAck{Status: AckProcessed, PaymentID: &res.PaymentID}
	if res.AlreadySucceeded {
		ack.Message = "payment already completed"
	}
	s.events.publish(ctx, models.PaymentEvent{
		Type:      models.EventWebhookProcessed,
		OrderID:   res.OrderID.String(),
		OrderCode: res.OrderCode,
		PaymentID: res.PaymentID.String(),
		Status:    string(res.Status),
		Amount:    res.Amount,
		Currency:  res.Currency,
		Message:   ack.Message,
		Timestamp: now,
	})
	return ack
}

func (s *webhookServiceImpl) ackError(ctx context.Context, paymentID *uuid.UUID, err error, now time.Time) *WebhookAck {
	logger.FromContext(ctx, s.logger).Warn("Webhook processed with errors",
		zap.String("reason", apperrors.ReasonOf(err)),
		zap.Error(err),
	)
	msg := apperrors.From(err).Message
	s.events.publish(ctx, models.PaymentEvent{
		Type:      models.EventWebhookProcessed,
		Status:    AckProcessedWithErrors,
		Message:   msg,
		Details:   map[string]any{"reason": apperrors.ReasonOf(err)},
		Timestamp: now,
	})
	return &WebhookAck{Status: AckProcessedWithErrors, PaymentID: paymentID, Message: msg}
}

// VerifyPayment completes a payment by id on an operator's word, for
// instance cash collected on delivery.
func (s *webhookServiceImpl) VerifyPayment(ctx context.Context, paymentID uuid.UUID, v ManualVerification) (*CompletionResult, error) {
	intent, err := s.store.Intents().FindByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if v.Provider != "" && v.Provider != intent.Provider {
		return nil, apperrors.Validation(ReasonInvalidRequest, "provider does not match payment")
	}
	id := intent.ID
	return s.Complete(ctx, CompletionInput{
		PaymentID:   &id,
		Provider:    intent.Provider,
		Amount:      v.Amount,
		Currency:    v.Currency,
		ProviderRef: v.ProviderRef,
		Details: models.CompletionDetails{
			Source:     "manual",
			Reference:  v.ProviderRef,
			VerifiedBy: v.Actor,
		},
		Extra: v.RawPayload,
	})
}

func parseTransactionDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return timePtr(t.UTC())
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
