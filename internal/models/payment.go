// internal/models/payment.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/lifecycle"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// TransactionStatusTransitions permits a failed attempt to be retried
// (FAILED → PENDING); COMPLETED and CANCELLED are terminal.
var TransactionStatusTransitions = lifecycle.Table[TransactionStatus]{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusFailed, TransactionStatusCancelled},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled},
	TransactionStatusFailed:     {TransactionStatusPending},
}

// PaymentTransaction is one settlement attempt against a billing cycle or
// an adjustment; exactly one of the two references is set. The log is
// append-only; the "current" attempt is the most recent non-terminal row.
type PaymentTransaction struct {
	BaseModel
	Version        int   `json:"-" gorm:"not null;default:0"`
	BillingCycleID *uint `json:"-" gorm:"index"`
	AdjustmentID   *uint `json:"-" gorm:"index"`

	PaymentMethod    string `json:"payment_method" gorm:"size:50;not null"`
	PaymentReference string `json:"payment_reference" gorm:"size:100;not null;uniqueIndex"`

	AmountUSD        decimal.Decimal `json:"amount_usd" gorm:"type:decimal(14,2);not null"`
	AmountLocal      decimal.Decimal `json:"amount_local" gorm:"type:decimal(18,2);not null"`
	ExchangeRateUsed decimal.Decimal `json:"exchange_rate_used" gorm:"type:decimal(16,6);not null"`
	CurrencyCode     string          `json:"currency_code" gorm:"size:3;not null"`

	TransactionStatus TransactionStatus `json:"transaction_status" gorm:"type:varchar(20);not null;default:'pending';index"`
	InitiatedAt       time.Time         `json:"initiated_at" gorm:"not null"`
	CompletedAt       *time.Time        `json:"completed_at"`
	FailedAt          *time.Time        `json:"failed_at"`
	FailureReason     string            `json:"failure_reason,omitempty" gorm:"type:text"`

	// Relationships
	BillingCycle *BillingCycle      `json:"billing_cycle,omitempty" gorm:"foreignKey:BillingCycleID"`
	Adjustment   *LicenseAdjustment `json:"adjustment,omitempty" gorm:"foreignKey:AdjustmentID"`
}

func (t *PaymentTransaction) Validate() error {
	if (t.BillingCycleID == nil) == (t.AdjustmentID == nil) {
		return apperr.Invariant("transaction must reference exactly one of billing cycle or adjustment")
	}
	if t.PaymentMethod == "" {
		return apperr.MissingField("payment_method")
	}
	if t.PaymentReference == "" {
		return apperr.MissingField("payment_reference")
	}
	if t.CurrencyCode == "" {
		return apperr.MissingField("currency_code")
	}
	if t.InitiatedAt.IsZero() {
		return apperr.MissingField("initiated_at")
	}
	if t.AmountUSD.IsNegative() {
		return apperr.InvalidValue("amount_usd must not be negative, got %s", t.AmountUSD)
	}
	if !t.ExchangeRateUsed.IsPositive() {
		return apperr.InvalidValue("exchange_rate_used must be positive, got %s", t.ExchangeRateUsed)
	}
	if t.CurrencyCode == CurrencyUSD && !t.ExchangeRateUsed.Equal(decimal.NewFromInt(1)) {
		return apperr.Invariant("currency USD requires exchange_rate_used = 1, got %s", t.ExchangeRateUsed)
	}
	if !AmountsConsistent(t.AmountLocal, t.AmountUSD, t.ExchangeRateUsed) {
		return apperr.Invariant("amount_local %s deviates from amount_usd x exchange rate beyond tolerance", t.AmountLocal)
	}
	switch t.TransactionStatus {
	case TransactionStatusCompleted:
		if t.CompletedAt == nil {
			return apperr.Invariant("completed transaction requires completed_at")
		}
		if t.CompletedAt.Before(t.InitiatedAt) {
			return apperr.Invariant("completed_at must not precede initiated_at")
		}
	case TransactionStatusFailed:
		if t.FailureReason == "" {
			return apperr.Invariant("failed transaction requires a failure_reason")
		}
		if t.FailedAt == nil {
			return apperr.Invariant("failed transaction requires failed_at")
		}
		if t.FailedAt.Before(t.InitiatedAt) {
			return apperr.Invariant("failed_at must not precede initiated_at")
		}
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusCancelled:
	case "":
		return apperr.MissingField("transaction_status")
	default:
		return apperr.InvalidValue("unknown transaction status %q", t.TransactionStatus)
	}
	return nil
}

func (t *PaymentTransaction) IsTerminal() bool {
	return TransactionStatusTransitions.Terminal(t.TransactionStatus)
}
