// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shiftwise/billing-backend/internal/config"
	"github.com/shiftwise/billing-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error

	gormConfig := &gorm.Config{
		TranslateError: true,
	}
	if cfg.LogLevel == "silent" {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	} else {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create UUID extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.License{},
		&models.LicenseSeat{},
		&models.TaxRule{},
		&models.BillingCycle{},
		&models.BillingCycleTaxLine{},
		&models.LicenseAdjustment{},
		&models.PaymentTransaction{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// License indexes
		"CREATE INDEX IF NOT EXISTS idx_licenses_tenant_status ON licenses(tenant_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_licenses_renewal ON licenses(next_renewal_date) WHERE status = 'active'",

		// Billing cycle indexes
		"CREATE INDEX IF NOT EXISTS idx_billing_cycles_license_period ON billing_cycles(global_license_id, period_start DESC)",
		"CREATE INDEX IF NOT EXISTS idx_billing_cycles_due ON billing_cycles(payment_due_date) WHERE billing_status IN ('pending', 'processing')",

		// Adjustment indexes
		"CREATE INDEX IF NOT EXISTS idx_adjustments_license_status ON license_adjustments(global_license_id, payment_status)",

		// Payment transaction indexes
		"CREATE INDEX IF NOT EXISTS idx_transactions_cycle ON payment_transactions(billing_cycle_id, initiated_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_adjustment ON payment_transactions(adjustment_id, initiated_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
