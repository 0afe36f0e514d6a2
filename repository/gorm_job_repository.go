package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormJobRepo struct {
	db *gorm.DB
}

func (r *gormJobRepo) Enqueue(ctx context.Context, job *models.CommissionJob) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "order_id"}},
			DoNothing: true,
		}).
		Create(job).Error
}

func (r *gormJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionJob, error) {
	var job models.CommissionJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *gormJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.CommissionJob, error) {
	var jobs []models.CommissionJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", string(models.JobStatusPending), now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *gormJobRepo) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.CommissionJob, error) {
	var jobs []models.CommissionJob
	err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *gormJobRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommissionJob{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", id, string(models.JobStatusPending), now).
		Updates(map[string]interface{}{
			"status":     string(models.JobStatusInFlight),
			"locked_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormJobRepo) Save(ctx context.Context, job *models.CommissionJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *gormJobRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommissionJob{}).
		Where("status = ? AND locked_at < ?", string(models.JobStatusInFlight), cutoff).
		Updates(map[string]interface{}{
			"status":     string(models.JobStatusPending),
			"locked_at":  nil,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}
