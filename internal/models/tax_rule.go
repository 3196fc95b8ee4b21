// internal/models/tax_rule.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

// TaxAppliesTo values recognized by the billing flow.
const (
	TaxAppliesToSubscription = "subscription"
	TaxAppliesToAdjustment   = "adjustment"
	TaxAppliesToAll          = "all"
)

// TaxRule stores a flat tax rate with temporal validity. Rules referenced
// by a settled billing cycle are frozen; the service layer enforces that
// before any administrative mutation.
type TaxRule struct {
	BaseModel
	CountryCode       string          `json:"country_code" gorm:"size:2;not null;index:idx_tax_rules_lookup,priority:1"`
	TaxType           string          `json:"tax_type" gorm:"size:30;not null;index:idx_tax_rules_lookup,priority:2"`
	TaxName           string          `json:"tax_name" gorm:"size:100;not null"`
	TaxRate           decimal.Decimal `json:"tax_rate" gorm:"type:decimal(7,4);not null"`
	AppliesTo         string          `json:"applies_to" gorm:"size:30;not null;index:idx_tax_rules_lookup,priority:3"`
	RequiredTaxNumber bool            `json:"required_tax_number" gorm:"default:false"`
	EffectiveDate     time.Time       `json:"effective_date" gorm:"not null;index"`
	ExpiryDate        *time.Time      `json:"expiry_date"`
	Active            bool            `json:"active" gorm:"default:true;index"`
}

func (r *TaxRule) Validate() error {
	if r.CountryCode == "" {
		return apperr.MissingField("country_code")
	}
	if len(r.CountryCode) != 2 {
		return apperr.InvalidValue("country_code must be a 2-letter ISO code, got %q", r.CountryCode)
	}
	if r.TaxType == "" {
		return apperr.MissingField("tax_type")
	}
	if r.TaxName == "" {
		return apperr.MissingField("tax_name")
	}
	if r.AppliesTo == "" {
		return apperr.MissingField("applies_to")
	}
	if r.TaxRate.IsNegative() || r.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.InvalidValue("tax_rate must be between 0 and 100, got %s", r.TaxRate)
	}
	if r.EffectiveDate.IsZero() {
		return apperr.MissingField("effective_date")
	}
	if r.ExpiryDate != nil && !r.ExpiryDate.After(r.EffectiveDate) {
		return apperr.Invariant("expiry_date must be after effective_date")
	}
	return nil
}

// AppliesOn reports whether the rule is in force at the reference date:
// effective_date <= ref < expiry_date (unbounded when expiry is nil).
func (r *TaxRule) AppliesOn(ref time.Time) bool {
	if !r.Active {
		return false
	}
	if ref.Before(r.EffectiveDate) {
		return false
	}
	if r.ExpiryDate != nil && !ref.Before(*r.ExpiryDate) {
		return false
	}
	return true
}

// TaxFor applies the rule's percentage rate to a subtotal, rounded to
// money precision.
func (r *TaxRule) TaxFor(subtotal decimal.Decimal) decimal.Decimal {
	return RoundMoney(subtotal.Mul(r.TaxRate).Div(decimal.NewFromInt(100)))
}
