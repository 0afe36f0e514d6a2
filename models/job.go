package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInFlight   JobStatus = "in_flight"
	JobStatusDone       JobStatus = "done"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

const JobKindCommission = "commission"

// CommissionJob is a durable queue entry. One job exists per order and kind.
type CommissionJob struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Kind          string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_job_kind_order,priority:1" json:"kind"`
	OrderID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_job_kind_order,priority:2" json:"order_id"`
	Status        JobStatus  `gorm:"type:varchar(20);not null;index:idx_job_due,priority:1" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"not null" json:"max_attempts"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_job_due,priority:2" json:"next_attempt_at"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LastError     *string    `gorm:"type:text" json:"last_error,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
