package services

import (
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
)

// Stable reasons returned to callers.
const (
	ReasonInvalidRequest           = "INVALID_REQUEST"
	ReasonOrderNotFound            = "ORDER_NOT_FOUND"
	ReasonOrderNotPayable          = "ORDER_NOT_PAYABLE"
	ReasonOrderPayableStateInvalid = "ORDER_PAYABLE_STATE_INVALID"
	ReasonInvalidAmount            = "INVALID_AMOUNT"
	ReasonAmountMismatch           = "AMOUNT_MISMATCH"
	ReasonCurrencyMismatch         = "CURRENCY_MISMATCH"
	ReasonUnsupportedProvider      = "UNSUPPORTED_PROVIDER"
	ReasonMethodMismatch           = "METHOD_PROVIDER_MISMATCH"
	ReasonPaymentNotFound          = "PAYMENT_NOT_FOUND"
	ReasonPaymentStateConflict     = "PAYMENT_STATE_CONFLICT"
	ReasonPaymentExpired           = "PAYMENT_EXPIRED"
	ReasonReferenceUnknown         = "REFERENCE_UNKNOWN"
	ReasonRefundNotFound           = "REFUND_NOT_FOUND"
	ReasonRefundStateConflict      = "REFUND_STATE_CONFLICT"
	ReasonRefundExceedsRefundable  = "REFUND_EXCEEDS_REFUNDABLE"
	ReasonSameActor                = "SETTLER_MUST_DIFFER"
	ReasonInvalidSignature         = "INVALID_SIGNATURE"
	ReasonStaleTimestamp           = "STALE_TIMESTAMP"
	ReasonReplayedNonce            = "REPLAYED_NONCE"
	ReasonNotImplemented           = "NOT_IMPLEMENTED"
	ReasonInventoryFailed          = "INVENTORY_FAILED"
	ReasonJobNotFound              = "JOB_NOT_FOUND"
	ReasonJobStateConflict         = "JOB_STATE_CONFLICT"
	ReasonStatementUnavailable     = "STATEMENT_UNAVAILABLE"
)

var (
	ErrPaymentNotFound = apperrors.NotFound(ReasonPaymentNotFound, "payment not found")
	ErrRefundNotFound  = apperrors.NotFound(ReasonRefundNotFound, "refund not found")
	ErrOrderNotFound   = apperrors.NotFound(ReasonOrderNotFound, "order not found")
	ErrPaymentExpired  = apperrors.Conflict(ReasonPaymentExpired, "payment has expired")
	ErrCardProvider    = apperrors.NotImplemented(ReasonNotImplemented, "card payments are not available yet")
)
