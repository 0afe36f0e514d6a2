package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Payable reports whether a payment may be started for an order in this status.
func (s OrderStatus) Payable() bool {
	return s == OrderStatusDraft || s == OrderStatusConfirmed
}

type ShippingStatus string

const (
	ShippingStatusPending   ShippingStatus = "pending"
	ShippingStatusPacked    ShippingStatus = "packed"
	ShippingStatusShipped   ShippingStatus = "shipped"
	ShippingStatusDelivered ShippingStatus = "delivered"
)

var shippingRank = map[ShippingStatus]int{
	ShippingStatusPending:   0,
	ShippingStatusPacked:    1,
	ShippingStatusShipped:   2,
	ShippingStatusDelivered: 3,
}

// Shipped reports whether the shipment has left the warehouse. A full refund
// on a shipped order ends in "refunded" instead of "cancelled".
func (s ShippingStatus) Shipped() bool {
	return shippingRank[s] >= shippingRank[ShippingStatusShipped]
}

type Order struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code              string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	CustomerID        uuid.UUID      `gorm:"type:uuid;index;not null" json:"customer_id"`
	TotalAmount       int64          `gorm:"not null" json:"total_amount"` // minor units
	Currency          string         `gorm:"type:varchar(10);not null;default:'VND'" json:"currency"`
	Status            OrderStatus    `gorm:"type:varchar(20);index;not null" json:"status"`
	ShippingStatus    ShippingStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"shipping_status"`
	CashOnDelivery    bool           `gorm:"not null;default:false" json:"cash_on_delivery"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CancelledAt       *time.Time     `json:"cancelled_at,omitempty"`
	RefundRequestedAt *time.Time     `json:"refund_requested_at,omitempty"`
	LastRefundedAt    *time.Time     `json:"last_refunded_at,omitempty"`
	RefundedAt        *time.Time     `json:"refunded_at,omitempty"`
	Items             []OrderItem    `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID `gorm:"type:uuid;index;not null" json:"order_id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null" json:"product_id"`
	CategoryID uuid.UUID `gorm:"type:uuid;index" json:"category_id"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	UnitPrice  int64     `gorm:"not null" json:"unit_price"`
	Subtotal   int64     `gorm:"not null" json:"subtotal"`
}

// OrderPaymentLink is the authoritative snapshot of what an order must be paid.
type OrderPaymentLink struct {
	ID              uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID         uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	Method          PaymentMethod `gorm:"type:varchar(20);not null" json:"method"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Currency        string        `gorm:"type:varchar(10);not null" json:"currency"`
	Status          LinkStatus    `gorm:"type:varchar(20);not null" json:"status"`
	PaymentIntentID *uuid.UUID    `gorm:"type:uuid" json:"payment_intent_id,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type LinkStatus string

const (
	LinkStatusUnpaid   LinkStatus = "unpaid"
	LinkStatusPending  LinkStatus = "pending"
	LinkStatusPaid     LinkStatus = "paid"
	LinkStatusFailed   LinkStatus = "failed"
	LinkStatusRefunded LinkStatus = "refunded"
)
