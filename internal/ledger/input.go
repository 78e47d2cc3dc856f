package ledger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	maxNameRunes  = 120
	maxPhoneChars = 32
	amountScale   = 2
)

var maxAmount = decimal.RequireFromString("9999999999.99")

// ParseAmount normalises a user-supplied amount. A comma is accepted as the decimal
// separator. The result must be strictly positive with at most two fractional digits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	value, err := parseDecimal("amount", raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !value.IsPositive() {
		return decimal.Decimal{}, newValidationError("amount", "must be greater than zero")
	}
	return value, nil
}

// ParseNonNegativeAmount is ParseAmount for settings values, where zero is allowed.
func ParseNonNegativeAmount(field, raw string) (decimal.Decimal, error) {
	value, err := parseDecimal(field, raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if value.IsNegative() {
		return decimal.Decimal{}, newValidationError(field, "must not be negative")
	}
	return value, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, newValidationError(field, "is required")
	}
	normalized := strings.Replace(trimmed, ",", ".", 1)
	if strings.ContainsAny(normalized, "eE") {
		return decimal.Decimal{}, newValidationError(field, "is not a valid number")
	}
	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, newValidationError(field, "is not a valid number")
	}
	if value.Exponent() < -amountScale && !value.Equal(value.Round(amountScale)) {
		return decimal.Decimal{}, newValidationError(field, "must have at most two decimal places")
	}
	if value.GreaterThan(maxAmount) {
		return decimal.Decimal{}, newValidationError(field, "is too large")
	}
	return value.Round(amountScale), nil
}

// NormalizeName trims and collapses whitespace in a display name.
func NormalizeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", newValidationError("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", newValidationError("name", "is too long")
	}
	return name, nil
}

// NormalizePhone trims an optional contact phone. An empty value is valid.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", nil
	}
	if len(phone) > maxPhoneChars {
		return "", newValidationError("contactPhone", "is too long")
	}
	digits := 0
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("+()-. ", r):
		default:
			return "", newValidationError("contactPhone", "contains invalid characters")
		}
	}
	if digits == 0 {
		return "", newValidationError("contactPhone", "must contain digits")
	}
	return phone, nil
}
