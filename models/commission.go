package models

import (
	"time"

	"github.com/google/uuid"
)

type CommissionTier string

const (
	TierPurchaser  CommissionTier = "purchaser"
	TierReferrerL1 CommissionTier = "referrer_l1"
	TierReferrerL2 CommissionTier = "referrer_l2"
)

type CommissionRecord struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"order_id"`
	OrderItemID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_commission_line_tier,priority:1" json:"order_item_id"`
	Tier          CommissionTier `gorm:"type:varchar(20);not null;uniqueIndex:idx_commission_line_tier,priority:2" json:"tier"`
	BeneficiaryID uuid.UUID      `gorm:"type:uuid;index;not null" json:"beneficiary_id"`
	Share         string         `gorm:"type:varchar(16);not null" json:"share"`
	Amount        int64          `gorm:"not null" json:"amount"`
	Currency      string         `gorm:"type:varchar(10);not null" json:"currency"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type CommissionSummary struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID       uuid.UUID `gorm:"type:uuid;index;not null" json:"order_id"`
	OrderItemID   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"order_item_id"`
	LineSubtotal  int64     `gorm:"not null" json:"line_subtotal"`
	CategoryTier  string    `gorm:"type:varchar(32);not null" json:"category_tier"`
	Rate          string    `gorm:"type:varchar(16);not null" json:"rate"`
	PlatformFee   int64     `gorm:"not null" json:"platform_fee"`
	Pool          int64     `gorm:"not null" json:"pool"`
	PaidAmount    int64     `gorm:"not null" json:"paid_amount"`
	UnpaidAmount  int64     `gorm:"not null" json:"unpaid_amount"`
	Beneficiaries int       `gorm:"not null" json:"beneficiaries"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ReferralClosure holds one ancestor/descendant pair of the referral tree.
type ReferralClosure struct {
	AncestorID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"ancestor_id"`
	DescendantID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"descendant_id"`
	Depth        int       `gorm:"not null" json:"depth"`
}

type CategoryCommissionTier struct {
	CategoryID uuid.UUID `gorm:"type:uuid;primaryKey" json:"category_id"`
	Tier       string    `gorm:"type:varchar(32);not null" json:"tier"`
}
