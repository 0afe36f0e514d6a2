package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "created"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Live reports whether the intent can still be completed or expired.
func (s PaymentStatus) Live() bool {
	return s == PaymentStatusCreated || s == PaymentStatusPending
}

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
)

type Provider string

const (
	ProviderVietQR Provider = "vietqr"
	ProviderCOD    Provider = "cod"
	ProviderCard   Provider = "card"
)

// providerMethods pins each provider to the one method it can collect.
var providerMethods = map[Provider]PaymentMethod{
	ProviderVietQR: MethodBankTransfer,
	ProviderCOD:    MethodCash,
	ProviderCard:   MethodCard,
}

// Accepts reports whether the provider collects payments of the given method.
func (p Provider) Accepts(m PaymentMethod) bool {
	want, ok := providerMethods[p]
	return ok && want == m
}

// Known reports whether the provider is one the engine can route.
func (p Provider) Known() bool {
	_, ok := providerMethods[p]
	return ok
}

const (
	CancelReasonReplacedByRetry = "replaced_by_retry"
	FailureReasonExpired        = "expired"
)

type PaymentIntent struct {
	ID               uuid.UUID                         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID          uuid.UUID                         `gorm:"type:uuid;not null;index;uniqueIndex:idx_intent_idempotency,priority:1;index:idx_live_intent,unique,where:status = 'created' OR status = 'pending'" json:"order_id"`
	Provider         Provider                          `gorm:"type:varchar(20);not null;index:idx_live_intent,unique,where:status = 'created' OR status = 'pending'" json:"provider"`
	Method           PaymentMethod                     `gorm:"type:varchar(20);not null" json:"method"`
	Amount           int64                             `gorm:"not null" json:"amount"` // minor units
	Currency         string                            `gorm:"type:varchar(10);not null" json:"currency"`
	Status           PaymentStatus                     `gorm:"type:varchar(20);not null;index" json:"status"`
	ExpiresAt        *time.Time                        `gorm:"index" json:"expires_at,omitempty"`
	IdempotencyKey   *string                           `gorm:"type:varchar(128);uniqueIndex:idx_intent_idempotency,priority:2" json:"idempotency_key,omitempty"`
	ProviderRef      *string                           `gorm:"type:varchar(128);index" json:"provider_ref,omitempty"`
	RequestMetadata  datatypes.JSONType[IntentMetadata] `json:"request_metadata"`
	ResponseMetadata datatypes.JSONType[IntentMetadata] `json:"response_metadata"`
	CancelReason     *string                           `gorm:"type:varchar(64)" json:"cancel_reason,omitempty"`
	FailureReason    *string                           `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	PendingAt        *time.Time                        `json:"pending_at,omitempty"`
	SucceededAt      *time.Time                        `json:"succeeded_at,omitempty"`
	FailedAt         *time.Time                        `json:"failed_at,omitempty"`
	CancelledAt      *time.Time                        `json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time                        `json:"refunded_at,omitempty"`
	CreatedAt        time.Time                         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                         `gorm:"autoUpdateTime" json:"updated_at"`
}

// Expired reports whether a pending intent has passed its deadline at now.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return p.Status == PaymentStatusPending && p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// TransactionRecord is an append-only ledger line.
type TransactionRecord struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PaymentIntentID uuid.UUID       `gorm:"type:uuid;index;not null" json:"payment_intent_id"`
	OrderID         uuid.UUID       `gorm:"type:uuid;index;not null" json:"order_id"`
	RefundID        *uuid.UUID      `gorm:"type:uuid;index" json:"refund_id,omitempty"`
	Type            TransactionType `gorm:"type:varchar(20);not null" json:"type"`
	Amount          int64           `gorm:"not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(10);not null" json:"currency"`
	Reference       string          `gorm:"type:varchar(255)" json:"reference"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TransactionRecord) TableName() string { return "payment_transactions" }

type TransactionType string

const (
	TransactionCharge TransactionType = "charge"
	TransactionRefund TransactionType = "refund"
)
