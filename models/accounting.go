package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice mirrors a paid order for the accounting ledger.
type Invoice struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	Number      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"number"`
	CustomerID  uuid.UUID `gorm:"type:uuid;index;not null" json:"customer_id"`
	TotalAmount int64     `gorm:"not null" json:"total_amount"`
	Currency    string    `gorm:"type:varchar(10);not null" json:"currency"`
	Status      string    `gorm:"type:varchar(20);not null" json:"status"`
	IssuedAt    time.Time `gorm:"not null" json:"issued_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type InvoicePayment struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InvoiceID       uuid.UUID `gorm:"type:uuid;index;not null" json:"invoice_id"`
	PaymentIntentID uuid.UUID `gorm:"type:uuid;index;not null" json:"payment_intent_id"`
	Method          string    `gorm:"type:varchar(20);not null" json:"method"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(10);not null" json:"currency"`
	PaidAt          time.Time `gorm:"not null" json:"paid_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type CartItem struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CustomerID uuid.UUID `gorm:"type:uuid;index;not null" json:"customer_id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null" json:"product_id"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
