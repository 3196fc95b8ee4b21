// internal/services/suite_test.go
package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shiftwise/billing-backend/internal/config"
	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/utils"
)

// setupTestDB opens an isolated in-memory database migrated with the full
// schema. Each test gets its own instance, keyed by the test name.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.License{},
		&models.LicenseSeat{},
		&models.TaxRule{},
		&models.BillingCycle{},
		&models.BillingCycleTaxLine{},
		&models.LicenseAdjustment{},
		&models.PaymentTransaction{},
	))

	return db
}

func testPagination() utils.PaginationParams {
	return utils.PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Billing: config.BillingConfig{
			DefaultCurrency:  "USD",
			PaymentDueDays:   14,
			DueSoonDays:      7,
			ExpiringSoonDays: 30,
		},
	}
}

// createTestLicense persists a license with 50 purchased seats, active for
// one year starting 2026-01-01.
func createTestLicense(t *testing.T, svc *LicenseService) *models.License {
	t.Helper()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	license, err := svc.Create(&CreateLicenseRequest{
		TenantID:           uuid.New(),
		LicenseType:        models.LicenseTypeProfessional,
		BillingCycleMonths: 12,
		BasePriceUSD:       decimal.NewFromInt(20),
		MinimumSeats:       10,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(1, 0, 0),
		NextRenewalDate:    start.AddDate(1, 0, 0),
		SeatsPurchased:     50,
	})
	require.NoError(t, err)
	return license
}

// futureTestLicense persists a license whose period surrounds the current
// time, for flows that require an active license.
func futureTestLicense(t *testing.T, svc *LicenseService, months int) *models.License {
	t.Helper()

	start := time.Now().AddDate(0, -1, 0)
	end := start.AddDate(0, months, 0)
	license, err := svc.Create(&CreateLicenseRequest{
		TenantID:           uuid.New(),
		LicenseType:        models.LicenseTypeStandard,
		BillingCycleMonths: months,
		BasePriceUSD:       decimal.NewFromInt(15),
		MinimumSeats:       5,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		NextRenewalDate:    end,
		SeatsPurchased:     20,
	})
	require.NoError(t, err)
	return license
}
