// internal/utils/validator_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type currencyFixture struct {
	Currency string `validate:"required,currency_code"`
	Country  string `validate:"omitempty,iso_country_code"`
}

func TestCurrencyCodeValidation(t *testing.T) {
	assert.NoError(t, ValidateStruct(&currencyFixture{Currency: "USD"}))
	assert.NoError(t, ValidateStruct(&currencyFixture{Currency: "XOF"}))

	assert.Error(t, ValidateStruct(&currencyFixture{Currency: "usd"}))
	assert.Error(t, ValidateStruct(&currencyFixture{Currency: "US"}))
	assert.Error(t, ValidateStruct(&currencyFixture{Currency: "DOLLAR"}))
}

func TestCountryCodeValidation(t *testing.T) {
	assert.NoError(t, ValidateStruct(&currencyFixture{Currency: "USD", Country: "SN"}))
	assert.Error(t, ValidateStruct(&currencyFixture{Currency: "USD", Country: "sn"}))
	assert.Error(t, ValidateStruct(&currencyFixture{Currency: "USD", Country: "SEN"}))
}

func TestGetValidationErrors(t *testing.T) {
	err := ValidateStruct(&currencyFixture{})
	require.Error(t, err)

	errors := GetValidationErrors(err)
	require.Len(t, errors, 1)
	assert.Equal(t, "currency", errors[0].Field)
	assert.Equal(t, "required", errors[0].Tag)
}
