// internal/models/adjustment.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/lifecycle"
)

type AdjustmentPaymentStatus string

const (
	AdjustmentPaymentPending    AdjustmentPaymentStatus = "pending"
	AdjustmentPaymentProcessing AdjustmentPaymentStatus = "processing"
	AdjustmentPaymentCompleted  AdjustmentPaymentStatus = "completed"
	AdjustmentPaymentFailed     AdjustmentPaymentStatus = "failed"
	AdjustmentPaymentCancelled  AdjustmentPaymentStatus = "cancelled"
	AdjustmentPaymentRefunded   AdjustmentPaymentStatus = "refunded"
)

// AdjustmentPaymentTransitions allows a completed adjustment to be
// refunded; CANCELLED and REFUNDED are terminal.
var AdjustmentPaymentTransitions = lifecycle.Table[AdjustmentPaymentStatus]{
	AdjustmentPaymentPending:    {AdjustmentPaymentProcessing, AdjustmentPaymentCompleted, AdjustmentPaymentFailed, AdjustmentPaymentCancelled},
	AdjustmentPaymentProcessing: {AdjustmentPaymentCompleted, AdjustmentPaymentFailed, AdjustmentPaymentCancelled},
	AdjustmentPaymentFailed:     {AdjustmentPaymentPending, AdjustmentPaymentCancelled},
	AdjustmentPaymentCompleted:  {AdjustmentPaymentRefunded},
}

// LicenseAdjustment is a mid-cycle seat increase billed out of band from
// the main cycle. The numeric core is immutable once created; only the
// payment-status fields mutate afterward.
type LicenseAdjustment struct {
	BaseModel
	Version         int  `json:"-" gorm:"not null;default:0"`
	GlobalLicenseID uint `json:"-" gorm:"not null;index"`

	EmployeesAddedCount int             `json:"employees_added_count" gorm:"not null"`
	MonthsRemaining     int             `json:"months_remaining" gorm:"not null"`
	PricePerEmployeeUSD decimal.Decimal `json:"price_per_employee_usd" gorm:"type:decimal(12,2);not null"`

	SubtotalUSD    decimal.Decimal `json:"subtotal_usd" gorm:"type:decimal(14,2);not null"`
	TaxAmountUSD   decimal.Decimal `json:"tax_amount_usd" gorm:"type:decimal(14,2);not null;default:0"`
	TotalAmountUSD decimal.Decimal `json:"total_amount_usd" gorm:"type:decimal(14,2);not null"`

	SubtotalLocal    decimal.Decimal `json:"subtotal_local" gorm:"type:decimal(18,2);not null"`
	TaxAmountLocal   decimal.Decimal `json:"tax_amount_local" gorm:"type:decimal(18,2);not null;default:0"`
	TotalAmountLocal decimal.Decimal `json:"total_amount_local" gorm:"type:decimal(18,2);not null"`

	BillingCurrencyCode string          `json:"billing_currency_code" gorm:"size:3;not null;index"`
	ExchangeRateUsed    decimal.Decimal `json:"exchange_rate_used" gorm:"type:decimal(16,6);not null"`

	PaymentStatus        AdjustmentPaymentStatus `json:"payment_status" gorm:"type:varchar(20);not null;default:'pending';index"`
	PaymentDueImmediately bool                   `json:"payment_due_immediately" gorm:"default:false"`
	InvoiceSentAt        *time.Time              `json:"invoice_sent_at"`
	PaymentCompletedAt   *time.Time              `json:"payment_completed_at"`

	// Relationships
	License      *License             `json:"license,omitempty" gorm:"foreignKey:GlobalLicenseID"`
	Transactions []PaymentTransaction `json:"transactions,omitempty" gorm:"foreignKey:AdjustmentID"`
}

// CalculateAmounts prorates the seat addition by months remaining in the
// cycle and derives the local-currency mirror. Idempotent on unchanged
// input.
func (a *LicenseAdjustment) CalculateAmounts(localSubtotal, localTax, localTotal *decimal.Decimal) {
	seats := decimal.NewFromInt(int64(a.EmployeesAddedCount))
	months := decimal.NewFromInt(int64(a.MonthsRemaining))
	a.SubtotalUSD = RoundMoney(a.PricePerEmployeeUSD.Mul(seats).Mul(months))
	a.TotalAmountUSD = a.SubtotalUSD.Add(a.TaxAmountUSD)

	a.SubtotalLocal = a.localFor(a.SubtotalUSD, localSubtotal)
	a.TaxAmountLocal = a.localFor(a.TaxAmountUSD, localTax)
	a.TotalAmountLocal = a.localFor(a.TotalAmountUSD, localTotal)
}

func (a *LicenseAdjustment) localFor(usd decimal.Decimal, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return RoundMoney(usd.Mul(a.ExchangeRateUsed))
}

func (a *LicenseAdjustment) Validate() error {
	if a.GlobalLicenseID == 0 {
		return apperr.MissingField("global_license")
	}
	if a.BillingCurrencyCode == "" {
		return apperr.MissingField("billing_currency_code")
	}
	if a.EmployeesAddedCount <= 0 {
		return apperr.InvalidValue("employees_added_count must be positive, got %d", a.EmployeesAddedCount)
	}
	if a.MonthsRemaining <= 0 {
		return apperr.InvalidValue("months_remaining must be positive, got %d", a.MonthsRemaining)
	}
	if !a.PricePerEmployeeUSD.IsPositive() {
		return apperr.InvalidValue("price_per_employee_usd must be positive, got %s", a.PricePerEmployeeUSD)
	}
	if a.TaxAmountUSD.IsNegative() {
		return apperr.InvalidValue("tax_amount_usd must not be negative, got %s", a.TaxAmountUSD)
	}
	if !a.ExchangeRateUsed.IsPositive() {
		return apperr.InvalidValue("exchange_rate_used must be positive, got %s", a.ExchangeRateUsed)
	}
	if a.BillingCurrencyCode == CurrencyUSD && !a.ExchangeRateUsed.Equal(decimal.NewFromInt(1)) {
		return apperr.Invariant("currency USD requires exchange_rate_used = 1, got %s", a.ExchangeRateUsed)
	}
	if !a.TotalAmountUSD.Equal(a.SubtotalUSD.Add(a.TaxAmountUSD)) {
		return apperr.Invariant("total_amount_usd must equal subtotal_usd + tax_amount_usd")
	}
	pairs := []struct {
		name  string
		usd   decimal.Decimal
		local decimal.Decimal
	}{
		{"subtotal", a.SubtotalUSD, a.SubtotalLocal},
		{"tax_amount", a.TaxAmountUSD, a.TaxAmountLocal},
		{"total_amount", a.TotalAmountUSD, a.TotalAmountLocal},
	}
	for _, p := range pairs {
		if !AmountsConsistent(p.local, p.usd, a.ExchangeRateUsed) {
			return apperr.Invariant("%s_local %s deviates from %s_usd x exchange rate beyond tolerance", p.name, p.local, p.name)
		}
	}
	switch a.PaymentStatus {
	case AdjustmentPaymentPending, AdjustmentPaymentProcessing, AdjustmentPaymentCompleted,
		AdjustmentPaymentFailed, AdjustmentPaymentCancelled, AdjustmentPaymentRefunded:
	case "":
		return apperr.MissingField("payment_status")
	default:
		return apperr.InvalidValue("unknown payment status %q", a.PaymentStatus)
	}
	if a.PaymentStatus == AdjustmentPaymentCompleted && a.PaymentCompletedAt == nil {
		return apperr.Invariant("completed adjustment requires payment_completed_at")
	}
	return nil
}

func (a *LicenseAdjustment) IsTerminal() bool {
	return AdjustmentPaymentTransitions.Terminal(a.PaymentStatus)
}
