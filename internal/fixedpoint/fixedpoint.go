// Package fixedpoint implements 9-decimal unsigned fixed-point arithmetic
// with checked overflow, plus the exponential and logarithm approximations
// used by the LMSR pricing engine.
//
// Every monetary or share quantity in the settlement engine is a uint64
// scaled by Precision. Intermediate products are carried in 256-bit
// integers so that a*b never wraps before the rescale.
package fixedpoint

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

const (
	// Decimals is the number of fractional decimal digits.
	Decimals = 9
	// Precision is the scale factor: 1.0 == Precision.
	Precision uint64 = 1_000_000_000
	// MaxExponent is the largest argument accepted by Exp (20.0).
	MaxExponent = 20 * Precision
	// Ln2 is ln(2) truncated to 9 decimals.
	Ln2 uint64 = 693_147_180
)

var (
	ErrOverflow         = errors.New("fixedpoint: overflow")
	ErrUnderflow        = errors.New("fixedpoint: underflow")
	ErrDivisionByZero   = errors.New("fixedpoint: division by zero")
	ErrExponentTooLarge = errors.New("fixedpoint: exponent too large")
	ErrInvalidInput     = errors.New("fixedpoint: invalid input")
)

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow when b > a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Mul returns a*b/Precision.
func Mul(a, b uint64) (uint64, error) {
	return MulDiv(a, b, Precision)
}

// Div returns a*Precision/b.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return MulDiv(a, Precision, b)
}

// MulDiv returns floor(a*b/d) computed without intermediate overflow.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.Div(z, uint256.NewInt(d))
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// MulDivUp returns ceil(a*b/d).
func MulDivUp(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.Add(z, uint256.NewInt(d-1))
	z.Div(z, uint256.NewInt(d))
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// FromInt scales a whole number to fixed point.
func FromInt(n uint64) (uint64, error) {
	hi, lo := bits.Mul64(n, Precision)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MustFromInt is FromInt for constants known to fit.
func MustFromInt(n uint64) uint64 {
	v, err := FromInt(n)
	if err != nil {
		panic(err)
	}
	return v
}
