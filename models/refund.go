package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RefundStatus string

const (
	RefundStatusRequested  RefundStatus = "requested"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusSucceeded  RefundStatus = "succeeded"
	RefundStatusCancelled  RefundStatus = "cancelled"
	RefundStatusFailed     RefundStatus = "failed"
)

// CommittedRefundStatuses are the statuses whose amounts count against the
// refundable balance of a payment.
var CommittedRefundStatuses = []RefundStatus{RefundStatusSucceeded, RefundStatusProcessing}

type RefundItem struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Quantity    int       `json:"quantity"`
	Amount      int64     `json:"amount"`
}

type RefundRequest struct {
	ID              uuid.UUID                       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PaymentIntentID uuid.UUID                       `gorm:"type:uuid;index;not null" json:"payment_intent_id"`
	OrderID         uuid.UUID                       `gorm:"type:uuid;index;not null" json:"order_id"`
	Amount          int64                           `gorm:"not null" json:"amount"`
	Currency        string                          `gorm:"type:varchar(10);not null" json:"currency"`
	Status          RefundStatus                    `gorm:"type:varchar(20);index;not null" json:"status"`
	Reason          string                          `gorm:"type:text" json:"reason"`
	Items           datatypes.JSONSlice[RefundItem] `json:"items,omitempty"`
	ProviderRef     *string                         `gorm:"type:varchar(128)" json:"provider_ref,omitempty"`
	RequestedBy     string                          `gorm:"type:varchar(64);not null" json:"requested_by"`
	ApprovedBy      *string                         `gorm:"type:varchar(64)" json:"approved_by,omitempty"`
	ApprovalNote    *string                         `gorm:"type:text" json:"approval_note,omitempty"`
	SettledBy       *string                         `gorm:"type:varchar(64)" json:"settled_by,omitempty"`
	CancelledBy     *string                         `gorm:"type:varchar(64)" json:"cancelled_by,omitempty"`
	CancelReason    *string                         `gorm:"type:text" json:"cancel_reason,omitempty"`
	FailureReason   *string                         `gorm:"type:text" json:"failure_reason,omitempty"`
	ApprovedAt      *time.Time                      `json:"approved_at,omitempty"`
	ProcessedAt     *time.Time                      `json:"processed_at,omitempty"`
	CancelledAt     *time.Time                      `json:"cancelled_at,omitempty"`
	FailedAt        *time.Time                      `json:"failed_at,omitempty"`
	CreatedAt       time.Time                       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                       `gorm:"autoUpdateTime" json:"updated_at"`
}
