// internal/models/license_test.go
package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

func validLicense() *License {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return &License{
		TenantID:           uuid.New(),
		LicenseType:        LicenseTypeProfessional,
		BillingCycleMonths: 12,
		BasePriceUSD:       decimal.NewFromInt(20),
		MinimumSeats:       10,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		NextRenewalDate:    end,
		Status:             LicenseStatusActive,
	}
}

func TestLicenseValidate(t *testing.T) {
	assert.NoError(t, validLicense().Validate())
}

func TestEqualPeriodDatesRejected(t *testing.T) {
	license := validLicense()
	license.CurrentPeriodEnd = license.CurrentPeriodStart
	license.NextRenewalDate = license.CurrentPeriodStart

	err := license.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
	assert.Contains(t, err.Error(), "current_period_end")
}

func TestRenewalBeforePeriodEndRejected(t *testing.T) {
	license := validLicense()
	license.NextRenewalDate = license.CurrentPeriodEnd.AddDate(0, 0, -1)

	err := license.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next_renewal_date")
}

func TestUnsupportedCycleMonthsRejected(t *testing.T) {
	license := validLicense()
	license.BillingCycleMonths = 5

	err := license.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidValue))
}

func TestMissingTenantRejected(t *testing.T) {
	license := validLicense()
	license.TenantID = uuid.Nil

	err := license.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindMissingField))
}

func TestIsActive(t *testing.T) {
	license := validLicense()
	now := license.CurrentPeriodStart.AddDate(0, 6, 0)

	assert.True(t, license.IsActive(now))
	assert.False(t, license.IsActive(license.NextRenewalDate))

	license.Status = LicenseStatusSuspended
	assert.False(t, license.IsActive(now))
}

func TestIsExpiringSoon(t *testing.T) {
	license := validLicense()

	assert.True(t, license.IsExpiringSoon(license.NextRenewalDate.AddDate(0, 0, -10), 30))
	assert.False(t, license.IsExpiringSoon(license.NextRenewalDate.AddDate(0, 0, -60), 30))
	assert.False(t, license.IsExpiringSoon(license.NextRenewalDate, 30))
}

func TestBillableSeatsFlooredAtMinimum(t *testing.T) {
	license := validLicense()

	license.TotalSeatsPurchased = 4
	assert.Equal(t, 10, license.BillableSeats())

	license.TotalSeatsPurchased = 25
	assert.Equal(t, 25, license.BillableSeats())
}

func TestPriceCalculations(t *testing.T) {
	license := validLicense()
	license.TotalSeatsPurchased = 50

	// 20 x 50 = 1000/month, x 12 months = 12000
	assert.True(t, license.CalculateMonthlyPrice().Equal(decimal.NewFromInt(1000)))
	assert.True(t, license.CalculatePeriodPrice().Equal(decimal.NewFromInt(12000)))
}

func TestLicenseStatusTransitions(t *testing.T) {
	assert.True(t, LicenseStatusTransitions.Allowed(LicenseStatusActive, LicenseStatusSuspended))
	assert.True(t, LicenseStatusTransitions.Allowed(LicenseStatusSuspended, LicenseStatusActive))
	assert.True(t, LicenseStatusTransitions.Allowed(LicenseStatusExpired, LicenseStatusActive))

	assert.True(t, LicenseStatusTransitions.Terminal(LicenseStatusTerminated))
	assert.False(t, LicenseStatusTransitions.Allowed(LicenseStatusTerminated, LicenseStatusActive))
}
