package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents holds the minor-unit exponent for currencies that
// do not use two decimal places.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"CLP": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// CurrencyExponent returns the number of minor-unit digits for code.
func CurrencyExponent(code string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(code)]; ok {
		return exp
	}
	return 2
}

// ParseMinorUnits converts a decimal string such as "1234.56" into integer
// minor units for the given currency. Amounts with more precision than the
// currency allows are rejected instead of being rounded.
func ParseMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid decimal amount %q: %w", amount, err)
	}
	return DecimalToMinorUnits(d, currency)
}

// DecimalToMinorUnits converts d into minor units of currency.
func DecimalToMinorUnits(d decimal.Decimal, currency string) (int64, error) {
	exp := CurrencyExponent(currency)
	scaled := d.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), exp)
	}
	if scaled.Abs().GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return scaled.IntPart(), nil
}

// FormatMinorUnits renders minor units as a fixed-point decimal string.
func FormatMinorUnits(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}
