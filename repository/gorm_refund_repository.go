package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"gorm.io/gorm"
)

type gormRefundRepo struct {
	db *gorm.DB
}

func (r *gormRefundRepo) Create(ctx context.Context, refund *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *gormRefundRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var refund models.RefundRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *gormRefundRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var refund models.RefundRequest
	if err := r.db.WithContext(ctx).Clauses(forUpdate).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *gormRefundRepo) ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.RefundRequest, error) {
	var refunds []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

func (r *gormRefundRepo) SumByStatus(ctx context.Context, intentID uuid.UUID, statuses ...models.RefundStatus) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("payment_intent_id = ? AND status IN ?", intentID, names).
		Scan(&total).Error
	return total, err
}

func (r *gormRefundRepo) Transition(ctx context.Context, refund *models.RefundRequest, from ...models.RefundStatus) (bool, error) {
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}
	res := r.db.WithContext(ctx).
		Model(refund).
		Where("status IN ?", names).
		Select("*").
		Omit("id", "created_at").
		Updates(refund)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
