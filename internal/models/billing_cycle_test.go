// internal/models/billing_cycle_test.go
package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

func validCycle() *BillingCycle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return &BillingCycle{
		GlobalLicenseID:      1,
		PeriodStart:          start,
		PeriodEnd:            end,
		BaseEmployeeCount:    50,
		FinalEmployeeCount:   50,
		BaseAmountUSD:        decimal.NewFromInt(1000),
		AdjustmentsAmountUSD: decimal.Zero,
		TaxAmountUSD:         decimal.NewFromInt(80),
		BillingCurrencyCode:  "XOF",
		ExchangeRateUsed:     decimal.NewFromFloat(655.957),
		BillingStatus:        BillingStatusPending,
		PaymentDueDate:       end.AddDate(0, 0, 14),
	}
}

func TestCalculateAmountsDualCurrency(t *testing.T) {
	cycle := validCycle()
	cycle.CalculateAmounts(LocalAmountOverrides{})

	assert.True(t, cycle.SubtotalUSD.Equal(decimal.NewFromInt(1000)), "subtotal: %s", cycle.SubtotalUSD)
	assert.True(t, cycle.TotalAmountUSD.Equal(decimal.NewFromInt(1080)), "total: %s", cycle.TotalAmountUSD)

	// 1080 x 655.957 = 708433.56 exactly
	assert.True(t, cycle.TotalAmountLocal.Equal(decimal.NewFromFloat(708433.56)), "total local: %s", cycle.TotalAmountLocal)
	assert.True(t, cycle.BaseAmountLocal.Equal(decimal.NewFromInt(655957)), "base local: %s", cycle.BaseAmountLocal)

	require.NoError(t, cycle.Validate(time.Now()))
}

func TestCalculateAmountsIdempotent(t *testing.T) {
	cycle := validCycle()
	cycle.CalculateAmounts(LocalAmountOverrides{})

	first := *cycle
	cycle.CalculateAmounts(LocalAmountOverrides{})

	assert.True(t, first.SubtotalUSD.Equal(cycle.SubtotalUSD))
	assert.True(t, first.TotalAmountUSD.Equal(cycle.TotalAmountUSD))
	assert.True(t, first.TotalAmountLocal.Equal(cycle.TotalAmountLocal))
	assert.True(t, first.SubtotalLocal.Equal(cycle.SubtotalLocal))
}

func TestLocalOverrideWinsWithinTolerance(t *testing.T) {
	cycle := validCycle()
	override := decimal.NewFromFloat(708433.55)
	cycle.CalculateAmounts(LocalAmountOverrides{Total: &override})

	assert.True(t, cycle.TotalAmountLocal.Equal(override))
	assert.NoError(t, cycle.Validate(time.Now()))
}

func TestLocalOverrideBeyondToleranceRejected(t *testing.T) {
	cycle := validCycle()
	override := decimal.NewFromFloat(700000)
	cycle.CalculateAmounts(LocalAmountOverrides{Total: &override})

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestUSDRequiresUnitRate(t *testing.T) {
	cycle := validCycle()
	cycle.BillingCurrencyCode = CurrencyUSD
	cycle.ExchangeRateUsed = decimal.NewFromFloat(655.957)
	cycle.CalculateAmounts(LocalAmountOverrides{})

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))

	cycle.ExchangeRateUsed = decimal.NewFromInt(1)
	cycle.CalculateAmounts(LocalAmountOverrides{})
	assert.NoError(t, cycle.Validate(time.Now()))
}

func TestFinalBelowBaseCountRejected(t *testing.T) {
	cycle := validCycle()
	cycle.FinalEmployeeCount = 40
	cycle.CalculateAmounts(LocalAmountOverrides{})

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestPeriodOrderingRejected(t *testing.T) {
	cycle := validCycle()
	cycle.PeriodEnd = cycle.PeriodStart
	cycle.CalculateAmounts(LocalAmountOverrides{})

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period_end")
}

func TestDueDateBeforePeriodEndRejected(t *testing.T) {
	cycle := validCycle()
	cycle.PaymentDueDate = cycle.PeriodEnd.AddDate(0, 0, -1)
	cycle.CalculateAmounts(LocalAmountOverrides{})

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment_due_date")
}

func TestCompletedRequiresTimestamps(t *testing.T) {
	cycle := validCycle()
	cycle.CalculateAmounts(LocalAmountOverrides{})
	cycle.BillingStatus = BillingStatusCompleted

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoice_generated_at")

	now := time.Now()
	cycle.InvoiceGeneratedAt = &now
	err = cycle.Validate(time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment_completed_at")

	cycle.PaymentCompletedAt = &now
	assert.NoError(t, cycle.Validate(time.Now()))
}

func TestOverdueRequiresDueDatePassed(t *testing.T) {
	cycle := validCycle()
	cycle.CalculateAmounts(LocalAmountOverrides{})
	cycle.BillingStatus = BillingStatusOverdue

	err := cycle.Validate(cycle.PaymentDueDate.AddDate(0, 0, -1))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIllegalTransition))

	assert.NoError(t, cycle.Validate(cycle.PaymentDueDate.AddDate(0, 0, 1)))
}

func TestBillingStatusTransitions(t *testing.T) {
	assert.True(t, BillingStatusTransitions.Allowed(BillingStatusPending, BillingStatusProcessing))
	assert.True(t, BillingStatusTransitions.Allowed(BillingStatusProcessing, BillingStatusFailed))
	assert.True(t, BillingStatusTransitions.Allowed(BillingStatusFailed, BillingStatusPending))
	assert.True(t, BillingStatusTransitions.Allowed(BillingStatusOverdue, BillingStatusCompleted))

	assert.False(t, BillingStatusTransitions.Allowed(BillingStatusCompleted, BillingStatusPending))
	assert.False(t, BillingStatusTransitions.Allowed(BillingStatusCancelled, BillingStatusPending))

	assert.True(t, BillingStatusTransitions.Terminal(BillingStatusCompleted))
	assert.True(t, BillingStatusTransitions.Terminal(BillingStatusCancelled))
	assert.False(t, BillingStatusTransitions.Terminal(BillingStatusOverdue))
}

func TestNegativeAmountsRejected(t *testing.T) {
	cycle := validCycle()
	cycle.TaxAmountUSD = decimal.NewFromInt(-1)
	cycle.CalculateAmounts(LocalAmountOverrides{})

	err := cycle.Validate(time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidValue))
}
