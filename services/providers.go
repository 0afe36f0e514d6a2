package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
	"gorm.io/datatypes"
)

// BankAccount is the receiving account rendered into VietQR codes.
type BankAccount struct {
	BankCode    string
	AccountNo   string
	AccountName string
	QRBaseURL   string
}

// RenderVietQR builds the VietQR image URL for a transfer of amount with the
// given remittance description.
func RenderVietQR(acct BankAccount, amount int64, description string) string {
	base := strings.TrimRight(acct.QRBaseURL, "/")
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("addInfo", description)
	if acct.AccountName != "" {
		q.Set("accountName", acct.AccountName)
	}
	return fmt.Sprintf("%s/%s-%s-compact2.png?%s", base, acct.BankCode, acct.AccountNo, q.Encode())
}

// intentRequest carries what a provider handler needs to open or reuse an
// intent. Order and Link are locked by the caller's transaction.
type intentRequest struct {
	Order          *models.Order
	Link           *models.OrderPaymentLink
	Amount         int64
	Currency       string
	IdempotencyKey *string
	Now            time.Time
}

// intentOutcome reports what a handler did, for the caller's events.
type intentOutcome struct {
	Intent   *models.PaymentIntent
	Reused   bool
	Replaced *models.PaymentIntent
}

type ProviderHandler interface {
	Provider() models.Provider
	Open(ctx context.Context, uow repository.UnitOfWork, req *intentRequest) (*intentOutcome, error)
}

type vietQRHandler struct {
	account   BankAccount
	ttl       time.Duration
	grammar   ReferenceGrammar
	inventory Inventory
}

func (h *vietQRHandler) Provider() models.Provider { return models.ProviderVietQR }

func (h *vietQRHandler) Open(ctx context.Context, uow repository.UnitOfWork, req *intentRequest) (*intentOutcome, error) {
	out := &intentOutcome{}

	live, err := findLive(ctx, uow, req.Order.ID, models.ProviderVietQR)
	if err != nil {
		return nil, err
	}
	if live != nil && live.Status == models.PaymentStatusPending {
		if !live.Expired(req.Now) {
			out.Intent, out.Reused = live, true
			return out, nil
		}
		if err := h.replace(ctx, uow, live, req.Now); err != nil {
			return nil, err
		}
		out.Replaced = live
		live = nil
	}

	intent, err := createdIntent(ctx, uow, live, req, models.ProviderVietQR, models.MethodBankTransfer)
	if err != nil {
		return nil, err
	}

	expiresAt := req.Now.Add(h.ttl)
	description := h.grammar.PaymentDescription(req.Order.Code)
	intent.RequestMetadata = datatypes.NewJSONType(models.BankTransferMetadata(models.BankTransferDetails{
		BankCode:    h.account.BankCode,
		AccountNo:   h.account.AccountNo,
		AccountName: h.account.AccountName,
		Amount:      req.Amount,
		Description: description,
		PaymentCode: RenderVietQR(h.account, req.Amount, description),
		ExpiresAt:   expiresAt,
	}))
	intent.Status = models.PaymentStatusPending
	intent.PendingAt = timePtr(req.Now)
	intent.ExpiresAt = timePtr(expiresAt)
	if err := activate(ctx, uow, intent, req); err != nil {
		return nil, err
	}
	out.Intent = intent
	return out, nil
}

// replace retires an expired pending intent so a fresh one can be issued.
func (h *vietQRHandler) replace(ctx context.Context, uow repository.UnitOfWork, stale *models.PaymentIntent, now time.Time) error {
	stale.Status = models.PaymentStatusCancelled
	stale.CancelReason = strPtr(models.CancelReasonReplacedByRetry)
	stale.CancelledAt = timePtr(now)
	stale.ResponseMetadata = datatypes.NewJSONType(models.CancellationMetadata(models.CancellationDetails{
		Reason:      models.CancelReasonReplacedByRetry,
		CancelledAt: now,
	}))
	ok, err := uow.Intents().Transition(ctx, stale, models.PaymentStatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict(ReasonPaymentStateConflict, "payment changed while being replaced")
	}
	return h.inventory.RestoreOnFailure(ctx, uow, stale.OrderID)
}

type codHandler struct{}

func (codHandler) Provider() models.Provider { return models.ProviderCOD }

func (codHandler) Open(ctx context.Context, uow repository.UnitOfWork, req *intentRequest) (*intentOutcome, error) {
	live, err := findLive(ctx, uow, req.Order.ID, models.ProviderCOD)
	if err != nil {
		return nil, err
	}
	if live != nil && live.Status == models.PaymentStatusPending {
		return &intentOutcome{Intent: live, Reused: true}, nil
	}

	intent, err := createdIntent(ctx, uow, live, req, models.ProviderCOD, models.MethodCash)
	if err != nil {
		return nil, err
	}
	intent.RequestMetadata = datatypes.NewJSONType(models.CashMetadata(models.CashDetails{
		CollectOnDelivery: true,
		Amount:            req.Amount,
	}))
	intent.Status = models.PaymentStatusPending
	intent.PendingAt = timePtr(req.Now)
	if err := activate(ctx, uow, intent, req); err != nil {
		return nil, err
	}

	req.Order.Status = models.OrderStatusConfirmed
	req.Order.CashOnDelivery = true
	if err := uow.Orders().Save(ctx, req.Order); err != nil {
		return nil, err
	}
	return &intentOutcome{Intent: intent}, nil
}

type cardHandler struct{}

func (cardHandler) Provider() models.Provider { return models.ProviderCard }

func (cardHandler) Open(context.Context, repository.UnitOfWork, *intentRequest) (*intentOutcome, error) {
	return nil, ErrCardProvider
}

func findLive(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID, provider models.Provider) (*models.PaymentIntent, error) {
	intent, err := uow.Intents().FindLatest(ctx, orderID, provider, models.PaymentStatusCreated, models.PaymentStatusPending)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return intent, err
}

// createdIntent returns the order's row in status created, reusing a
// leftover one or inserting a new one.
func createdIntent(ctx context.Context, uow repository.UnitOfWork, leftover *models.PaymentIntent, req *intentRequest, provider models.Provider, method models.PaymentMethod) (*models.PaymentIntent, error) {
	if leftover != nil && leftover.Status == models.PaymentStatusCreated {
		leftover.Amount = req.Amount
		leftover.Currency = req.Currency
		if req.IdempotencyKey != nil {
			leftover.IdempotencyKey = req.IdempotencyKey
		}
		return leftover, nil
	}
	intent := &models.PaymentIntent{
		ID:             uuid.New(),
		OrderID:        req.Order.ID,
		Provider:       provider,
		Method:         method,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.PaymentStatusCreated,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := uow.Intents().Create(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrDuplicatedKey) {
			return nil, apperrors.Conflict(ReasonPaymentStateConflict, "a payment for this order is already in progress")
		}
		return nil, err
	}
	return intent, nil
}

// activate moves a created intent to its prepared state and points the
// payment link at it.
func activate(ctx context.Context, uow repository.UnitOfWork, intent *models.PaymentIntent, req *intentRequest) error {
	ok, err := uow.Intents().Transition(ctx, intent, models.PaymentStatusCreated)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict(ReasonPaymentStateConflict, "payment changed while being prepared")
	}
	req.Link.PaymentIntentID = &intent.ID
	req.Link.Status = models.LinkStatusPending
	return uow.PaymentLinks().Save(ctx, req.Link)
}
