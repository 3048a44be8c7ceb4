package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal renders a fixed-point value as an exact decimal.
func ToDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -Decimals)
}

// FromDecimal converts a non-negative decimal with at most 9 fractional
// digits to fixed point.
func FromDecimal(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative value %s", ErrInvalidInput, d.String())
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidInput, d.String(), Decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, ErrOverflow
	}
	return bi.Uint64(), nil
}

// Parse reads a decimal string such as "12.5" into fixed point.
func Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return FromDecimal(d)
}

// Format renders v as a decimal string without trailing zeros.
func Format(v uint64) string {
	return ToDecimal(v).String()
}
