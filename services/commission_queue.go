package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/models"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
)

type QueueConfig struct {
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// In-flight jobs locked longer than StaleAfter are assumed abandoned by a
	// crashed worker and handed out again.
	StaleAfter time.Duration
}

// CommissionQueue drains commission jobs persisted by payment completion.
// Failed jobs are retried with exponential backoff and parked in
// dead_letter once their attempts run out.
type CommissionQueue struct {
	store   repository.Store
	calc    CommissionCalculator
	cfg     QueueConfig
	wake    chan struct{}
	events  eventPublisher
	metrics MetricsRecorder
	clock   Clock
	logger  *zap.Logger
}

func NewCommissionQueue(store repository.Store, calc CommissionCalculator, notifier Notifier, metrics MetricsRecorder, cfg QueueConfig, clock Clock, logger *zap.Logger) *CommissionQueue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &CommissionQueue{
		store:   store,
		calc:    calc,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		events:  eventPublisher{notifier: notifier, logger: logger},
		metrics: metrics,
		clock:   clock,
		logger:  logger,
	}
}

// Notify wakes the worker without blocking.
func (q *CommissionQueue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start blocks draining the queue until ctx is cancelled.
func (q *CommissionQueue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	q.logger.Info("Commission queue started", zap.Duration("poll_interval", q.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Commission queue stopped")
			return
		case <-ticker.C:
		case <-q.wake:
		}
		if n, err := q.store.Jobs().RequeueStale(ctx, q.clock.now().Add(-q.cfg.StaleAfter)); err != nil {
			q.logger.Error("Failed to requeue stale commission jobs", zap.Error(err))
		} else if n > 0 {
			q.logger.Warn("Requeued stale commission jobs", zap.Int64("count", n))
		}
		q.Drain(ctx)
	}
}

// Drain processes one batch of due jobs in FIFO order and returns how many it
// claimed.
func (q *CommissionQueue) Drain(ctx context.Context) int {
	jobs, err := q.store.Jobs().ListDue(ctx, q.clock.now(), q.cfg.BatchSize)
	if err != nil {
		q.logger.Error("Failed to list commission jobs", zap.Error(err))
		return 0
	}
	claimed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		ok, err := q.store.Jobs().Claim(ctx, job.ID, q.clock.now())
		if err != nil {
			q.logger.Error("Failed to claim commission job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		claimed++
		q.run(ctx, job.ID)
	}
	return claimed
}

func (q *CommissionQueue) run(ctx context.Context, jobID uuid.UUID) {
	job, err := q.store.Jobs().FindByID(ctx, jobID)
	if err != nil {
		q.logger.Error("Claimed commission job vanished", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}

	outcome, calcErr := q.calc.Calculate(ctx, job.OrderID)
	now := q.clock.now()
	job.Attempts++
	job.LockedAt = nil

	switch {
	case calcErr == nil:
		job.Status = models.JobStatusDone
		job.CompletedAt = timePtr(now)
		job.LastError = nil
	case job.Attempts >= job.MaxAttempts:
		job.Status = models.JobStatusDeadLetter
		job.LastError = strPtr(calcErr.Error())
	default:
		job.Status = models.JobStatusPending
		job.NextAttemptAt = now.Add(q.backoff(job.Attempts))
		job.LastError = strPtr(calcErr.Error())
	}
	if err := q.store.Jobs().Save(ctx, job); err != nil {
		q.logger.Error("Failed to save commission job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", job.OrderID.String()),
		zap.Int("attempts", job.Attempts),
	}
	switch job.Status {
	case models.JobStatusDone:
		q.logger.Info("Commission job done", fields...)
		recordMetric(q.metrics, awspkg.MetricCommissionProcessed, nil)
		if outcome != nil && !outcome.Skipped {
			q.events.publish(ctx, models.PaymentEvent{
				Type:      models.EventCommissionComputed,
				OrderID:   job.OrderID.String(),
				Amount:    outcome.PaidAmount,
				Details:   map[string]any{"records": outcome.Records, "unpaid": outcome.UnpaidAmount},
				Timestamp: now,
			})
		}
	case models.JobStatusDeadLetter:
		q.logger.Error("Commission job dead-lettered", append(fields, zap.Error(calcErr))...)
		recordMetric(q.metrics, awspkg.MetricCommissionDead, nil)
		q.events.publish(ctx, models.PaymentEvent{
			Type:      models.EventCommissionDeadLetter,
			OrderID:   job.OrderID.String(),
			Message:   calcErr.Error(),
			Timestamp: now,
		})
	default:
		q.logger.Warn("Commission job failed, will retry",
			append(fields, zap.Time("next_attempt_at", job.NextAttemptAt), zap.Error(calcErr))...)
	}
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (q *CommissionQueue) backoff(attempts int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return d
}

// ListJobs returns jobs in one status, most recently touched first.
func (q *CommissionQueue) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.CommissionJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return q.store.Jobs().ListByStatus(ctx, status, limit)
}

// RetryJob puts a dead-lettered job back in the queue with fresh attempts.
func (q *CommissionQueue) RetryJob(ctx context.Context, id uuid.UUID) (*models.CommissionJob, error) {
	job, err := q.store.Jobs().FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(ReasonJobNotFound, "job not found")
	}
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusDeadLetter {
		return nil, apperrors.Conflict(ReasonJobStateConflict, "only dead-lettered jobs can be retried")
	}
	job.Status = models.JobStatusPending
	job.Attempts = 0
	job.NextAttemptAt = q.clock.now()
	if err := q.store.Jobs().Save(ctx, job); err != nil {
		return nil, err
	}
	q.logger.Info("Commission job requeued", zap.String("job_id", job.ID.String()))
	q.Notify()
	return job, nil
}
