// internal/models/payment_test.go
package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

func validTransaction() *PaymentTransaction {
	cycleID := uint(1)
	return &PaymentTransaction{
		BillingCycleID:    &cycleID,
		PaymentMethod:     "bank_transfer",
		PaymentReference:  "TX-2026-0001",
		AmountUSD:         decimal.NewFromInt(1080),
		AmountLocal:       decimal.NewFromFloat(708433.56),
		ExchangeRateUsed:  decimal.NewFromFloat(655.957),
		CurrencyCode:      "XOF",
		TransactionStatus: TransactionStatusPending,
		InitiatedAt:       time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestTransactionValidate(t *testing.T) {
	assert.NoError(t, validTransaction().Validate())
}

func TestExactlyOneTargetRequired(t *testing.T) {
	tx := validTransaction()
	tx.BillingCycleID = nil

	err := tx.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))

	adjustmentID := uint(2)
	cycleID := uint(1)
	tx.BillingCycleID = &cycleID
	tx.AdjustmentID = &adjustmentID
	assert.Error(t, tx.Validate())
}

func TestFailedRequiresReason(t *testing.T) {
	tx := validTransaction()
	failedAt := tx.InitiatedAt.Add(time.Minute)
	tx.TransactionStatus = TransactionStatusFailed
	tx.FailedAt = &failedAt

	err := tx.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_reason")

	tx.FailureReason = "insufficient funds"
	assert.NoError(t, tx.Validate())
}

func TestFailedAtOrdering(t *testing.T) {
	tx := validTransaction()
	before := tx.InitiatedAt.Add(-time.Minute)
	tx.TransactionStatus = TransactionStatusFailed
	tx.FailureReason = "gateway timeout"
	tx.FailedAt = &before

	err := tx.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestCompletedAtOrdering(t *testing.T) {
	tx := validTransaction()
	tx.TransactionStatus = TransactionStatusCompleted

	err := tx.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed_at")

	before := tx.InitiatedAt.Add(-time.Second)
	tx.CompletedAt = &before
	assert.Error(t, tx.Validate())

	after := tx.InitiatedAt.Add(time.Second)
	tx.CompletedAt = &after
	assert.NoError(t, tx.Validate())
}

func TestTransactionAmountConsistency(t *testing.T) {
	tx := validTransaction()
	tx.AmountLocal = decimal.NewFromInt(700000)

	err := tx.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestTransactionUSDRateGuard(t *testing.T) {
	tx := validTransaction()
	tx.CurrencyCode = CurrencyUSD

	err := tx.Validate()
	require.Error(t, err)

	tx.ExchangeRateUsed = decimal.NewFromInt(1)
	tx.AmountLocal = tx.AmountUSD
	assert.NoError(t, tx.Validate())
}

func TestTransactionStatusTransitions(t *testing.T) {
	assert.True(t, TransactionStatusTransitions.Allowed(TransactionStatusPending, TransactionStatusProcessing))
	assert.True(t, TransactionStatusTransitions.Allowed(TransactionStatusFailed, TransactionStatusPending))

	assert.False(t, TransactionStatusTransitions.Allowed(TransactionStatusPending, TransactionStatusCompleted))
	assert.True(t, TransactionStatusTransitions.Terminal(TransactionStatusCompleted))
	assert.True(t, TransactionStatusTransitions.Terminal(TransactionStatusCancelled))
}
