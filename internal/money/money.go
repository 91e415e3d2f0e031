// Package money converts decimal amount strings into integer cents.
//
// All persisted totals and balance comparisons use integers; the only
// decimal arithmetic anywhere in the engine is the conversion done here
// and the VAT cross-check in internal/validator, which needs the
// unscaled rate alongside the cents it multiplies against.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToCents rounds s half-up to 2 decimal places and returns the value in
// integer cents. Negative inputs are accepted; callers that must reject
// negative amounts do so explicitly (validator owns sign policy).
func ToCents(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal amount %q: %w", s, err)
	}
	return roundedCents(d), nil
}

// ToCentsPtr is ToCents for an optional field; a nil or empty input
// yields a nil result instead of zero, so callers can distinguish
// "not supplied" from "supplied as zero".
func ToCentsPtr(s *string) (*int64, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	c, err := ToCents(*s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FormatCents renders cents back as a fixed 2dp decimal string, the
// canonical textual form used in hashed payloads and API responses.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Q2 quantizes a decimal value to 2 places, half-up. Used by the VAT
// consistency rule, which must multiply a rate against a money amount
// before cents truncation would lose precision.
func Q2(d decimal.Decimal) decimal.Decimal {
	return roundHalfUp(d, 2)
}

func roundedCents(d decimal.Decimal) int64 {
	q := roundHalfUp(d, 2)
	return q.Shift(2).IntPart()
}

// roundHalfUp rounds away from zero at the given number of decimal
// places. decimal.Decimal.Round already rounds half away from zero,
// which is equivalent to ROUND_HALF_UP for both positive and negative
// inputs (Python's decimal.ROUND_HALF_UP does the same).
func roundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
