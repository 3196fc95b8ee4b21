// internal/models/billing_cycle.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/lifecycle"
)

type BillingStatus string

const (
	BillingStatusPending    BillingStatus = "pending"
	BillingStatusProcessing BillingStatus = "processing"
	BillingStatusCompleted  BillingStatus = "completed"
	BillingStatusFailed     BillingStatus = "failed"
	BillingStatusCancelled  BillingStatus = "cancelled"
	BillingStatusOverdue    BillingStatus = "overdue"
)

// BillingStatusTransitions is the allowed-transition table for billing
// cycles. COMPLETED and CANCELLED are terminal; OVERDUE can still settle
// (a late payment completes the cycle) or be cancelled.
var BillingStatusTransitions = lifecycle.Table[BillingStatus]{
	BillingStatusPending:    {BillingStatusProcessing, BillingStatusCompleted, BillingStatusOverdue, BillingStatusCancelled},
	BillingStatusProcessing: {BillingStatusCompleted, BillingStatusFailed, BillingStatusOverdue, BillingStatusCancelled},
	BillingStatusFailed:     {BillingStatusPending, BillingStatusCancelled},
	BillingStatusOverdue:    {BillingStatusCompleted, BillingStatusCancelled},
}

// BillingCycle is one periodic invoice for a license, carried in USD and
// mirrored in the tenant's local currency.
type BillingCycle struct {
	BaseModel
	Version         int  `json:"-" gorm:"not null;default:0"`
	GlobalLicenseID uint `json:"-" gorm:"not null;index"`

	PeriodStart        time.Time `json:"period_start" gorm:"not null"`
	PeriodEnd          time.Time `json:"period_end" gorm:"not null"`
	BaseEmployeeCount  int       `json:"base_employee_count" gorm:"not null"`
	FinalEmployeeCount int       `json:"final_employee_count" gorm:"not null"`

	BaseAmountUSD        decimal.Decimal `json:"base_amount_usd" gorm:"type:decimal(14,2);not null"`
	AdjustmentsAmountUSD decimal.Decimal `json:"adjustments_amount_usd" gorm:"type:decimal(14,2);not null;default:0"`
	SubtotalUSD          decimal.Decimal `json:"subtotal_usd" gorm:"type:decimal(14,2);not null"`
	TaxAmountUSD         decimal.Decimal `json:"tax_amount_usd" gorm:"type:decimal(14,2);not null;default:0"`
	TotalAmountUSD       decimal.Decimal `json:"total_amount_usd" gorm:"type:decimal(14,2);not null"`

	BaseAmountLocal        decimal.Decimal `json:"base_amount_local" gorm:"type:decimal(18,2);not null"`
	AdjustmentsAmountLocal decimal.Decimal `json:"adjustments_amount_local" gorm:"type:decimal(18,2);not null;default:0"`
	SubtotalLocal          decimal.Decimal `json:"subtotal_local" gorm:"type:decimal(18,2);not null"`
	TaxAmountLocal         decimal.Decimal `json:"tax_amount_local" gorm:"type:decimal(18,2);not null;default:0"`
	TotalAmountLocal       decimal.Decimal `json:"total_amount_local" gorm:"type:decimal(18,2);not null"`

	BillingCurrencyCode string          `json:"billing_currency_code" gorm:"size:3;not null;index"`
	ExchangeRateUsed    decimal.Decimal `json:"exchange_rate_used" gorm:"type:decimal(16,6);not null"`

	BillingStatus      BillingStatus `json:"billing_status" gorm:"type:varchar(20);not null;default:'pending';index"`
	PaymentDueDate     time.Time     `json:"payment_due_date" gorm:"not null;index"`
	InvoiceGeneratedAt *time.Time    `json:"invoice_generated_at"`
	PaymentCompletedAt *time.Time    `json:"payment_completed_at"`

	// Relationships
	License      *License             `json:"license,omitempty" gorm:"foreignKey:GlobalLicenseID"`
	TaxLines     []BillingCycleTaxLine `json:"tax_rules_applied,omitempty" gorm:"foreignKey:BillingCycleID"`
	Transactions []PaymentTransaction `json:"transactions,omitempty" gorm:"foreignKey:BillingCycleID"`
}

// BillingCycleTaxLine records one applied tax rule on a cycle, in order.
// Keeping these as rows (rather than a JSON blob) is what makes "rule is
// referenced by a settled cycle" a checkable condition.
type BillingCycleTaxLine struct {
	BaseModel
	BillingCycleID uint            `json:"-" gorm:"not null;index"`
	TaxRuleID      *uint           `json:"-" gorm:"index"`
	Position       int             `json:"position" gorm:"not null"`
	TaxName        string          `json:"tax_name" gorm:"size:100;not null"`
	TaxType        string          `json:"tax_type" gorm:"size:30;not null"`
	TaxRate        decimal.Decimal `json:"tax_rate" gorm:"type:decimal(7,4);not null"`
	AmountUSD      decimal.Decimal `json:"amount_usd" gorm:"type:decimal(14,2);not null"`
	AmountLocal    decimal.Decimal `json:"amount_local" gorm:"type:decimal(18,2);not null"`
}

// LocalAmountOverrides carries explicitly supplied local-currency values.
// A non-nil field wins over the derived usd x rate value, enabling manual
// correction; the winner is still checked against the tolerance.
type LocalAmountOverrides struct {
	Base        *decimal.Decimal
	Adjustments *decimal.Decimal
	Subtotal    *decimal.Decimal
	Tax         *decimal.Decimal
	Total       *decimal.Decimal
}

// CalculateAmounts reconciles the USD chain and derives the local mirror.
// Running it twice on unchanged input yields identical fields.
func (b *BillingCycle) CalculateAmounts(overrides LocalAmountOverrides) {
	b.SubtotalUSD = b.BaseAmountUSD.Add(b.AdjustmentsAmountUSD)
	b.TotalAmountUSD = b.SubtotalUSD.Add(b.TaxAmountUSD)

	b.BaseAmountLocal = b.localFor(b.BaseAmountUSD, overrides.Base)
	b.AdjustmentsAmountLocal = b.localFor(b.AdjustmentsAmountUSD, overrides.Adjustments)
	b.SubtotalLocal = b.localFor(b.SubtotalUSD, overrides.Subtotal)
	b.TaxAmountLocal = b.localFor(b.TaxAmountUSD, overrides.Tax)
	b.TotalAmountLocal = b.localFor(b.TotalAmountUSD, overrides.Total)
}

func (b *BillingCycle) localFor(usd decimal.Decimal, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return RoundMoney(usd.Mul(b.ExchangeRateUsed))
}

// Validate runs the guards in their fixed order: required fields, count
// ordering, amount signs, rate, date ordering, due date, currency rule,
// local-amount consistency, then status-specific requirements.
func (b *BillingCycle) Validate(now time.Time) error {
	if b.GlobalLicenseID == 0 {
		return apperr.MissingField("global_license")
	}
	if b.PeriodStart.IsZero() {
		return apperr.MissingField("period_start")
	}
	if b.PeriodEnd.IsZero() {
		return apperr.MissingField("period_end")
	}
	if b.PaymentDueDate.IsZero() {
		return apperr.MissingField("payment_due_date")
	}
	if b.BillingCurrencyCode == "" {
		return apperr.MissingField("billing_currency_code")
	}
	if b.FinalEmployeeCount < b.BaseEmployeeCount {
		return apperr.Invariant("final_employee_count %d is below base_employee_count %d", b.FinalEmployeeCount, b.BaseEmployeeCount)
	}
	if b.BaseAmountUSD.IsNegative() {
		return apperr.InvalidValue("base_amount_usd must not be negative, got %s", b.BaseAmountUSD)
	}
	if b.AdjustmentsAmountUSD.IsNegative() {
		return apperr.InvalidValue("adjustments_amount_usd must not be negative, got %s", b.AdjustmentsAmountUSD)
	}
	if b.TaxAmountUSD.IsNegative() {
		return apperr.InvalidValue("tax_amount_usd must not be negative, got %s", b.TaxAmountUSD)
	}
	if !b.ExchangeRateUsed.IsPositive() {
		return apperr.InvalidValue("exchange_rate_used must be positive, got %s", b.ExchangeRateUsed)
	}
	if !b.PeriodEnd.After(b.PeriodStart) {
		return apperr.Invariant("period_end must be after period_start")
	}
	if b.PaymentDueDate.Before(b.PeriodEnd) {
		return apperr.Invariant("payment_due_date must not be before period_end")
	}
	if b.BillingCurrencyCode == CurrencyUSD && !b.ExchangeRateUsed.Equal(decimal.NewFromInt(1)) {
		return apperr.Invariant("currency USD requires exchange_rate_used = 1, got %s", b.ExchangeRateUsed)
	}
	if !b.SubtotalUSD.Equal(b.BaseAmountUSD.Add(b.AdjustmentsAmountUSD)) {
		return apperr.Invariant("subtotal_usd must equal base_amount_usd + adjustments_amount_usd")
	}
	if !b.TotalAmountUSD.Equal(b.SubtotalUSD.Add(b.TaxAmountUSD)) {
		return apperr.Invariant("total_amount_usd must equal subtotal_usd + tax_amount_usd")
	}
	if err := b.validateLocalAmounts(); err != nil {
		return err
	}
	return b.validateStatus(now)
}

func (b *BillingCycle) validateLocalAmounts() error {
	pairs := []struct {
		name  string
		usd   decimal.Decimal
		local decimal.Decimal
	}{
		{"base_amount", b.BaseAmountUSD, b.BaseAmountLocal},
		{"adjustments_amount", b.AdjustmentsAmountUSD, b.AdjustmentsAmountLocal},
		{"subtotal", b.SubtotalUSD, b.SubtotalLocal},
		{"tax_amount", b.TaxAmountUSD, b.TaxAmountLocal},
		{"total_amount", b.TotalAmountUSD, b.TotalAmountLocal},
	}
	for _, p := range pairs {
		if !AmountsConsistent(p.local, p.usd, b.ExchangeRateUsed) {
			return apperr.Invariant("%s_local %s deviates from %s_usd x exchange rate beyond tolerance", p.name, p.local, p.name)
		}
	}
	return nil
}

func (b *BillingCycle) validateStatus(now time.Time) error {
	switch b.BillingStatus {
	case BillingStatusCompleted:
		if b.InvoiceGeneratedAt == nil {
			return apperr.Invariant("completed billing cycle requires invoice_generated_at")
		}
		if b.PaymentCompletedAt == nil {
			return apperr.Invariant("completed billing cycle requires payment_completed_at")
		}
	case BillingStatusOverdue:
		if !now.After(b.PaymentDueDate) {
			return apperr.IllegalTransition("cycle is not overdue: payment_due_date %s has not passed", b.PaymentDueDate.Format(time.RFC3339))
		}
	case BillingStatusPending, BillingStatusProcessing, BillingStatusFailed, BillingStatusCancelled:
	case "":
		return apperr.MissingField("billing_status")
	default:
		return apperr.InvalidValue("unknown billing status %q", b.BillingStatus)
	}
	return nil
}

// IsTerminal reports whether no further status transitions are possible.
func (b *BillingCycle) IsTerminal() bool {
	return BillingStatusTransitions.Terminal(b.BillingStatus)
}
