package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"gorm.io/gorm"
)

type gormIntentRepo struct {
	db *gorm.DB
}

func (r *gormIntentRepo) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *gormIntentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormIntentRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Clauses(forUpdate).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormIntentRepo) FindByIdempotencyKey(ctx context.Context, orderID uuid.UUID, key string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND idempotency_key = ?", orderID, key).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormIntentRepo) FindLatest(ctx context.Context, orderID uuid.UUID, provider models.Provider, statuses ...models.PaymentStatus) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Clauses(forUpdate).
		Where("order_id = ? AND provider = ? AND status IN ?", orderID, string(provider), paymentStatusStrings(statuses)).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormIntentRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", string(models.PaymentStatusPending), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *gormIntentRepo) ListExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at <= ?", string(models.PaymentStatusPending), from, to).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *gormIntentRepo) Transition(ctx context.Context, intent *models.PaymentIntent, from ...models.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(intent).
		Where("status IN ?", paymentStatusStrings(from)).
		Select("*").
		Omit("id", "created_at").
		Updates(intent)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func paymentStatusStrings(statuses []models.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
