// internal/services/billing_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/models"
)

func billingFixture(t *testing.T) (*BillingService, *LicenseService, *models.License) {
	t.Helper()
	db := setupTestDB(t)
	cfg := testConfig()
	licenseSvc := NewLicenseService(db, cfg)
	billingSvc := NewBillingService(db, NewTaxService(db), cfg)
	license := createTestLicense(t, licenseSvc)
	return billingSvc, licenseSvc, license
}

func TestCreateCycleDerivesBaseFromSeats(t *testing.T) {
	svc, _, license := billingFixture(t)

	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	// 20/seat x 50 seats x 12 months = 12000
	assert.True(t, cycle.BaseAmountUSD.Equal(decimal.NewFromInt(12000)), "base: %s", cycle.BaseAmountUSD)
	assert.True(t, cycle.TotalAmountUSD.Equal(decimal.NewFromInt(12000)))
	assert.True(t, cycle.ExchangeRateUsed.Equal(decimal.NewFromInt(1)), "USD defaults the rate to 1")
	assert.Equal(t, models.BillingStatusPending, cycle.BillingStatus)

	// Due date defaults to period end plus the configured grace days.
	assert.Equal(t, license.CurrentPeriodEnd.AddDate(0, 0, 14), cycle.PaymentDueDate)
}

func TestCreateCycleAppliesTaxRule(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	licenseSvc := NewLicenseService(db, cfg)
	taxSvc := NewTaxService(db)
	billingSvc := NewBillingService(db, taxSvc, cfg)
	license := createTestLicense(t, licenseSvc)

	_, err := taxSvc.CreateRule(&CreateTaxRuleRequest{
		CountryCode:   "SN",
		TaxType:       "vat",
		TaxName:       "TVA",
		TaxRate:       decimal.NewFromInt(18),
		AppliesTo:     models.TaxAppliesToAll,
		EffectiveDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	base := decimal.NewFromInt(1000)
	cycle, err := billingSvc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BaseAmountUSD:       &base,
		TaxCountryCode:      "SN",
		TaxType:             "vat",
		BillingCurrencyCode: "XOF",
		ExchangeRate:        decimal.NewFromFloat(655.957),
	})
	require.NoError(t, err)

	assert.True(t, cycle.TaxAmountUSD.Equal(decimal.NewFromInt(180)), "tax: %s", cycle.TaxAmountUSD)
	assert.True(t, cycle.TotalAmountUSD.Equal(decimal.NewFromInt(1180)))

	got, err := billingSvc.Get(cycle.GUID)
	require.NoError(t, err)
	require.Len(t, got.TaxLines, 1)
	assert.Equal(t, "TVA", got.TaxLines[0].TaxName)
	assert.True(t, got.TaxLines[0].AmountUSD.Equal(decimal.NewFromInt(180)))
}

func TestCycleLifecycleHappyPath(t *testing.T) {
	svc, _, license := billingFixture(t)

	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	invoiced, err := svc.MarkAsInvoiced(cycle.GUID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusProcessing, invoiced.BillingStatus)
	assert.NotNil(t, invoiced.InvoiceGeneratedAt)

	paid, err := svc.MarkAsPaid(cycle.GUID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCompleted, paid.BillingStatus)
	assert.NotNil(t, paid.PaymentCompletedAt)

	// Completed is terminal.
	_, err = svc.Cancel(cycle.GUID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIllegalTransition))
}

func TestMarkAsPaidWithoutInvoiceRejected(t *testing.T) {
	svc, _, license := billingFixture(t)

	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	_, err = svc.MarkAsPaid(cycle.GUID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
	assert.Contains(t, err.Error(), "invoice_generated_at")
}

func TestMarkAsOverdueBeforeDueDateRejected(t *testing.T) {
	svc, _, license := billingFixture(t)

	due := license.CurrentPeriodEnd.AddDate(0, 0, 30)
	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
		PaymentDueDate:      &due,
	})
	require.NoError(t, err)

	_, err = svc.MarkAsOverdue(cycle.GUID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIllegalTransition))

	got, err := svc.Get(cycle.GUID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusPending, got.BillingStatus, "status is unchanged after the rejection")
}

func TestOverdueCycleSettlesLate(t *testing.T) {
	svc, _, license := billingFixture(t)

	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	_, err = svc.MarkAsInvoiced(cycle.GUID)
	require.NoError(t, err)

	count, err := svc.MarkOverdueCycles(cycle.PaymentDueDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Sweep is idempotent.
	count, err = svc.MarkOverdueCycles(cycle.PaymentDueDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	paid, err := svc.MarkAsPaid(cycle.GUID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCompleted, paid.BillingStatus)
}

func TestUpdateCycleRederivesAmounts(t *testing.T) {
	svc, _, license := billingFixture(t)

	base := decimal.NewFromInt(1000)
	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BaseAmountUSD:       &base,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	tax := decimal.NewFromInt(80)
	updated, err := svc.Update(cycle.GUID, &UpdateBillingCycleRequest{
		TaxAmountUSD: &tax,
	})
	require.NoError(t, err)

	assert.True(t, updated.TotalAmountUSD.Equal(decimal.NewFromInt(1080)))
	assert.True(t, updated.TotalAmountLocal.Equal(decimal.NewFromInt(1080)))
	assert.Equal(t, cycle.Version+1, updated.Version)
}

func TestUpdateTerminalCycleRejected(t *testing.T) {
	svc, _, license := billingFixture(t)

	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	_, err = svc.Cancel(cycle.GUID)
	require.NoError(t, err)

	count := 60
	_, err = svc.Update(cycle.GUID, &UpdateBillingCycleRequest{FinalEmployeeCount: &count})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIllegalTransition))
}

func TestVersionCheckRejectsStaleWrite(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	licenseSvc := NewLicenseService(db, cfg)
	svc := NewBillingService(db, NewTaxService(db), cfg)
	license := createTestLicense(t, licenseSvc)

	cycle, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.NoError(t, err)

	// A concurrent writer bumped the version after our read.
	stale := cycle.Version
	cycle.Version++
	err = saveWithVersion(db, cycle, stale+5)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestCreateCycleSeatLedgerReadFailureSurfaces(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	licenseSvc := NewLicenseService(db, cfg)
	svc := NewBillingService(db, NewTaxService(db), cfg)
	license := createTestLicense(t, licenseSvc)

	// The seat aggregate prices the cycle when no base amount is supplied,
	// so a failed ledger read must fail the create instead of falling back
	// to the seat minimum.
	require.NoError(t, db.Migrator().DropTable(&models.LicenseSeat{}))

	_, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         license.GUID,
		PeriodStart:         license.CurrentPeriodStart,
		PeriodEnd:           license.CurrentPeriodEnd,
		BaseEmployeeCount:   50,
		FinalEmployeeCount:  50,
		BillingCurrencyCode: "USD",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPersistence))
}

func TestSearchCyclesByLicense(t *testing.T) {
	svc, licenseSvc, license := billingFixture(t)

	other := createTestLicense(t, licenseSvc)

	for _, l := range []*models.License{license, other} {
		_, err := svc.Create(&CreateBillingCycleRequest{
			LicenseGUID:         l.GUID,
			PeriodStart:         l.CurrentPeriodStart,
			PeriodEnd:           l.CurrentPeriodEnd,
			BaseEmployeeCount:   50,
			FinalEmployeeCount:  50,
			BillingCurrencyCode: "USD",
		})
		require.NoError(t, err)
	}

	cycles, total, err := svc.Search(BillingCycleSearchParams{
		PaginationParams: testPagination(),
		LicenseGUID:      &license.GUID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, cycles, 1)
}

func TestCreateCycleUnknownLicense(t *testing.T) {
	svc, _, _ := billingFixture(t)

	_, err := svc.Create(&CreateBillingCycleRequest{
		LicenseGUID:         uuid.New(),
		PeriodStart:         time.Now(),
		PeriodEnd:           time.Now().AddDate(0, 1, 0),
		BillingCurrencyCode: "USD",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
