// internal/models/tax_rule_test.go
package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

func validTaxRule() *TaxRule {
	return &TaxRule{
		CountryCode:   "SN",
		TaxType:       "vat",
		TaxName:       "TVA",
		TaxRate:       decimal.NewFromInt(18),
		AppliesTo:     TaxAppliesToAll,
		EffectiveDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:        true,
	}
}

func TestTaxRuleValidate(t *testing.T) {
	assert.NoError(t, validTaxRule().Validate())
}

func TestCountryCodeLength(t *testing.T) {
	rule := validTaxRule()
	rule.CountryCode = "SEN"

	err := rule.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidValue))
}

func TestTaxRateBounds(t *testing.T) {
	rule := validTaxRule()
	rule.TaxRate = decimal.NewFromInt(-1)
	assert.Error(t, rule.Validate())

	rule.TaxRate = decimal.NewFromInt(101)
	assert.Error(t, rule.Validate())

	rule.TaxRate = decimal.Zero
	assert.NoError(t, rule.Validate())
}

func TestExpiryAfterEffective(t *testing.T) {
	rule := validTaxRule()
	expiry := rule.EffectiveDate
	rule.ExpiryDate = &expiry

	err := rule.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvariant))
}

func TestAppliesOnWindow(t *testing.T) {
	rule := validTaxRule()
	expiry := rule.EffectiveDate.AddDate(1, 0, 0)
	rule.ExpiryDate = &expiry

	assert.False(t, rule.AppliesOn(rule.EffectiveDate.AddDate(0, 0, -1)))
	assert.True(t, rule.AppliesOn(rule.EffectiveDate))
	assert.True(t, rule.AppliesOn(expiry.AddDate(0, 0, -1)))
	assert.False(t, rule.AppliesOn(expiry), "expiry boundary is exclusive")

	rule.Active = false
	assert.False(t, rule.AppliesOn(rule.EffectiveDate))
}

func TestTaxFor(t *testing.T) {
	rule := validTaxRule()

	// 18% of 1000 = 180
	assert.True(t, rule.TaxFor(decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(180)))

	rule.TaxRate = decimal.NewFromFloat(7.7)
	// 7.7% of 99.99 = 7.699... rounds to 7.70
	assert.True(t, rule.TaxFor(decimal.NewFromFloat(99.99)).Equal(decimal.NewFromFloat(7.7)))
}
