package database

import (
	"fmt"
	"time"

	"github.com/yashrajoria/payment-engine/config"
	"github.com/yashrajoria/payment-engine/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const connectAttempts = 10

// Models lists every table the engine owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Order{},
		&models.OrderItem{},
		&models.OrderPaymentLink{},
		&models.PaymentIntent{},
		&models.TransactionRecord{},
		&models.RefundRequest{},
		&models.ReferralClosure{},
		&models.CategoryCommissionTier{},
		&models.CommissionRecord{},
		&models.CommissionSummary{},
		&models.CommissionJob{},
		&models.Invoice{},
		&models.InvoicePayment{},
		&models.CartItem{},
	}
}

// DSN builds the libpq connection string from cfg.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		cfg.PostgresHost, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB,
		cfg.PostgresPort, cfg.PostgresSSLMode, cfg.PostgresTimeZone,
	)
}

// ConnectPostgres opens the database, retrying while postgres comes up, and
// migrates the engine's tables.
func ConnectPostgres(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := DSN(cfg)

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err == nil {
			sqlDB, pingErr := db.DB()
			if pingErr == nil {
				pingErr = sqlDB.Ping()
			}
			if pingErr == nil {
				break
			}
			err = pingErr
		}
		wait := time.Duration(i+1) * 2 * time.Second
		logger.Warn("PostgreSQL not ready, retrying",
			zap.Int("attempt", i+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres after %d attempts: %w", connectAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to PostgreSQL successfully",
		zap.String("host", cfg.PostgresHost),
		zap.String("database", cfg.PostgresDB),
	)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	logger.Info("Database migration completed")
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
