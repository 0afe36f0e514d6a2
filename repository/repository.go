package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned by every finder when no row matches.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicatedKey is returned when a write collides with a unique index.
// The Postgres store relies on gorm's TranslateError to produce it.
var ErrDuplicatedKey = gorm.ErrDuplicatedKey

type OrderRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByCode matches the order code ignoring case.
	FindByCode(ctx context.Context, code string) (*models.Order, error)
	FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	Save(ctx context.Context, order *models.Order) error
}

type PaymentLinkRepository interface {
	// FindByOrderID locks the link row for the rest of the transaction.
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderPaymentLink, error)
	Save(ctx context.Context, link *models.OrderPaymentLink) error
}

type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	// FindByIDForUpdate locks the intent row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, orderID uuid.UUID, key string) (*models.PaymentIntent, error)
	// FindLatest returns the most recent intent of the order for the provider
	// whose status is one of statuses, locking it.
	FindLatest(ctx context.Context, orderID uuid.UUID, provider models.Provider, statuses ...models.PaymentStatus) (*models.PaymentIntent, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]models.PaymentIntent, error)
	// Transition persists intent only if its stored status is one of from.
	// It reports whether the row was updated.
	Transition(ctx context.Context, intent *models.PaymentIntent, from ...models.PaymentStatus) (bool, error)
}

type TransactionRepository interface {
	Append(ctx context.Context, record *models.TransactionRecord) error
	ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.TransactionRecord, error)
}

type RefundRepository interface {
	Create(ctx context.Context, refund *models.RefundRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.RefundRequest, error)
	SumByStatus(ctx context.Context, intentID uuid.UUID, statuses ...models.RefundStatus) (int64, error)
	Transition(ctx context.Context, refund *models.RefundRequest, from ...models.RefundStatus) (bool, error)
}

type CommissionRepository interface {
	CreateRecords(ctx context.Context, records []models.CommissionRecord) error
	CreateSummaries(ctx context.Context, summaries []models.CommissionSummary) error
	ListRecords(ctx context.Context, orderID uuid.UUID) ([]models.CommissionRecord, error)
	ListSummaries(ctx context.Context, orderID uuid.UUID) ([]models.CommissionSummary, error)
	CategoryTiers(ctx context.Context, categoryIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

type ReferralRepository interface {
	// Ancestors returns closure rows of descendantID with 1 <= depth <= maxDepth.
	Ancestors(ctx context.Context, descendantID uuid.UUID, maxDepth int) ([]models.ReferralClosure, error)
}

type JobRepository interface {
	// Enqueue inserts the job unless one already exists for its kind and order.
	Enqueue(ctx context.Context, job *models.CommissionJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionJob, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.CommissionJob, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.CommissionJob, error)
	// Claim moves a due pending job to in_flight and reports whether this
	// caller won it.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Save(ctx context.Context, job *models.CommissionJob) error
	// RequeueStale returns in_flight jobs locked before cutoff to pending.
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type InvoiceRepository interface {
	ExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	Create(ctx context.Context, invoice *models.Invoice, payment *models.InvoicePayment) error
}

type CartRepository interface {
	RemoveItems(ctx context.Context, customerID uuid.UUID, productIDs []uuid.UUID) (int64, error)
}

// UnitOfWork groups the repositories bound to one transaction. It is passed
// explicitly to every collaborator whose writes must commit together.
type UnitOfWork interface {
	Orders() OrderRepository
	PaymentLinks() PaymentLinkRepository
	Intents() PaymentIntentRepository
	Transactions() TransactionRepository
	Refunds() RefundRepository
	Commissions() CommissionRepository
	Referrals() ReferralRepository
	Jobs() JobRepository
	Invoices() InvoiceRepository
	Carts() CartRepository
}

// Store is a UnitOfWork that can open transactions. Reads and writes made on
// the Store itself are not transactional.
type Store interface {
	UnitOfWork
	RunInTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}
