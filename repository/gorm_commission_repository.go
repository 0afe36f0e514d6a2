package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"gorm.io/gorm"
)

type gormCommissionRepo struct {
	db *gorm.DB
}

func (r *gormCommissionRepo) CreateRecords(ctx context.Context, records []models.CommissionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

func (r *gormCommissionRepo) CreateSummaries(ctx context.Context, summaries []models.CommissionSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&summaries).Error
}

func (r *gormCommissionRepo) ListRecords(ctx context.Context, orderID uuid.UUID) ([]models.CommissionRecord, error) {
	var records []models.CommissionRecord
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&records).Error
	return records, err
}

func (r *gormCommissionRepo) ListSummaries(ctx context.Context, orderID uuid.UUID) ([]models.CommissionSummary, error) {
	var summaries []models.CommissionSummary
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&summaries).Error
	return summaries, err
}

func (r *gormCommissionRepo) CategoryTiers(ctx context.Context, categoryIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	tiers := make(map[uuid.UUID]string, len(categoryIDs))
	if len(categoryIDs) == 0 {
		return tiers, nil
	}
	var rows []models.CategoryCommissionTier
	if err := r.db.WithContext(ctx).Where("category_id IN ?", categoryIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		tiers[row.CategoryID] = row.Tier
	}
	return tiers, nil
}

type gormReferralRepo struct {
	db *gorm.DB
}

func (r *gormReferralRepo) Ancestors(ctx context.Context, descendantID uuid.UUID, maxDepth int) ([]models.ReferralClosure, error) {
	var rows []models.ReferralClosure
	err := r.db.WithContext(ctx).
		Where("descendant_id = ? AND depth BETWEEN 1 AND ?", descendantID, maxDepth).
		Order("depth ASC").
		Find(&rows).Error
	return rows, err
}

type gormInvoiceRepo struct {
	db *gorm.DB
}

func (r *gormInvoiceRepo) ExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *gormInvoiceRepo) Create(ctx context.Context, invoice *models.Invoice, payment *models.InvoicePayment) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(invoice).Error; err != nil {
		return err
	}
	payment.InvoiceID = invoice.ID
	return db.Create(payment).Error
}

type gormCartRepo struct {
	db *gorm.DB
}

func (r *gormCartRepo) RemoveItems(ctx context.Context, customerID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("customer_id = ? AND product_id IN ?", customerID, productIDs).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}
