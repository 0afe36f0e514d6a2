package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the Postgres-backed Store. A GormStore built inside RunInTx
// wraps the transaction handle, so every repository it hands out shares it.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) RunInTx(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) Orders() OrderRepository { return &gormOrderRepo{db: s.db} }
func (s *GormStore) PaymentLinks() PaymentLinkRepository { return &gormPaymentLinkRepo{db: s.db} }
func (s *GormStore) Intents() PaymentIntentRepository { return &gormIntentRepo{db: s.db} }
func (s *GormStore) Transactions() TransactionRepository { return &gormTransactionRepo{db: s.db} }
func (s *GormStore) Refunds() RefundRepository { return &gormRefundRepo{db: s.db} }
func (s *GormStore) Commissions() CommissionRepository { return &gormCommissionRepo{db: s.db} }
func (s *GormStore) Referrals() ReferralRepository { return &gormReferralRepo{db: s.db} }
func (s *GormStore) Jobs() JobRepository { return &gormJobRepo{db: s.db} }
func (s *GormStore) Invoices() InvoiceRepository { return &gormInvoiceRepo{db: s.db} }
func (s *GormStore) Carts() CartRepository { return &gormCartRepo{db: s.db} }

var forUpdate = clause.Locking{Strength: "UPDATE"}

type gormOrderRepo struct {
	db *gorm.DB
}

func (r *gormOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) FindByCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("UPPER(code) = UPPER(?)", code).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&items).Error
	return items, err
}

func (r *gormOrderRepo) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error
}

type gormPaymentLinkRepo struct {
	db *gorm.DB
}

func (r *gormPaymentLinkRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderPaymentLink, error) {
	var link models.OrderPaymentLink
	if err := r.db.WithContext(ctx).Clauses(forUpdate).Where("order_id = ?", orderID).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *gormPaymentLinkRepo) Save(ctx context.Context, link *models.OrderPaymentLink) error {
	return r.db.WithContext(ctx).Save(link).Error
}

type gormTransactionRepo struct {
	db *gorm.DB
}

func (r *gormTransactionRepo) Append(ctx context.Context, record *models.TransactionRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *gormTransactionRepo) ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.TransactionRecord, error) {
	var records []models.TransactionRecord
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
