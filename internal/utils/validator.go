// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("currency_code", validateCurrencyCode)
	validate.RegisterValidation("iso_country_code", validateCountryCode)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// validateCurrencyCode accepts ISO 4217 alphabetic codes. Whether a rate
// exists for the code is the caller's concern; the core only checks shape.
func validateCurrencyCode(fl validator.FieldLevel) bool {
	return currencyCodePattern.MatchString(fl.Field().String())
}

func validateCountryCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	return len(code) == 2 && code == strings.ToUpper(code)
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "gte":
		return e.Field() + " must be at least " + e.Param()
	case "oneof":
		return e.Field() + " must be one of " + e.Param()
	case "currency_code":
		return e.Field() + " must be a 3-letter ISO 4217 code"
	case "iso_country_code":
		return e.Field() + " must be a 2-letter ISO country code"
	default:
		return e.Field() + " is invalid"
	}
}
