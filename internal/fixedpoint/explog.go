package fixedpoint

import "github.com/holiman/uint256"

// The transcendental functions run at 18 decimals internally ("wad") and
// round once on the way back to 9 decimals.
var (
	wad        = uint256.NewInt(1_000_000_000_000_000_000)
	twoWad     = uint256.NewInt(2_000_000_000_000_000_000)
	ln2Wad     = uint256.NewInt(693_147_180_559_945_309)
	precisionU = uint256.NewInt(Precision)
	halfUnit   = uint256.NewInt(Precision / 2)
)

// expNegCutoff is the point past which e^-x rounds to zero at 9 decimals
// (ln(2e9) is about 21.4).
const expNegCutoff = 22 * Precision

// maxSeriesTerms bounds the Taylor and atanh loops. Both converge well
// before this on their reduced ranges.
const maxSeriesTerms = 64

// Exp approximates e^x for 0 <= x <= MaxExponent.
//
// x is reduced to k*ln2 + r with r in [0, ln2), e^r is summed as a Taylor
// series until the next term vanishes, and the result is shifted by 2^k.
func Exp(x uint64) (uint64, error) {
	if x > MaxExponent {
		return 0, ErrExponentTooLarge
	}
	e := expWad(toWad(x))
	return fromWadRounded(e)
}

// ExpNeg approximates e^-x for any x >= 0. It never fails: values whose
// result is below half a unit return 0.
func ExpNeg(x uint64) uint64 {
	if x >= expNegCutoff {
		return 0
	}
	e := expWad(toWad(x))
	// Precision * wad / e, rounded.
	num := new(uint256.Int).Mul(precisionU, wad)
	half := new(uint256.Int).Rsh(e, 1)
	num.Add(num, half)
	num.Div(num, e)
	return num.Uint64()
}

// Ln approximates the natural logarithm of x > 0. The result is signed
// because ln(x) < 0 for x < 1.0.
func Ln(x uint64) (int64, error) {
	if x == 0 {
		return 0, ErrInvalidInput
	}
	if x == Precision {
		return 0, nil
	}

	m := toWad(x)
	k := 0
	for m.Cmp(twoWad) >= 0 {
		m.Rsh(m, 1)
		k++
	}
	for m.Cmp(wad) < 0 {
		m.Lsh(m, 1)
		k--
	}

	s := lnSeries(m)

	kAbs := k
	if kAbs < 0 {
		kAbs = -kAbs
	}
	shift := new(uint256.Int).Mul(uint256.NewInt(uint64(kAbs)), ln2Wad)

	if k >= 0 {
		s.Add(s, shift)
		v, err := fromWadRounded(s)
		if err != nil {
			return 0, err
		}
		return int64(v), nil
	}
	if shift.Cmp(s) >= 0 {
		mag, err := fromWadRounded(shift.Sub(shift, s))
		if err != nil {
			return 0, err
		}
		return -int64(mag), nil
	}
	v, err := fromWadRounded(s.Sub(s, shift))
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// LnUnsigned is Ln for arguments >= 1.0, where the result cannot be
// negative.
func LnUnsigned(x uint64) (uint64, error) {
	if x < Precision {
		return 0, ErrUnderflow
	}
	v, err := Ln(x)
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func expWad(x *uint256.Int) *uint256.Int {
	k := new(uint256.Int).Div(x, ln2Wad)
	r := new(uint256.Int).Sub(x, new(uint256.Int).Mul(k, ln2Wad))

	sum := new(uint256.Int).Set(wad)
	term := new(uint256.Int).Set(wad)
	for n := uint64(1); n < maxSeriesTerms; n++ {
		term.Mul(term, r)
		term.Div(term, new(uint256.Int).Mul(uint256.NewInt(n), wad))
		if term.IsZero() {
			break
		}
		sum.Add(sum, term)
	}
	return sum.Lsh(sum, uint(k.Uint64()))
}

// lnSeries computes ln(m) for m in [1, 2) wad via
// 2*(y + y^3/3 + y^5/5 + ...), y = (m-1)/(m+1).
func lnSeries(m *uint256.Int) *uint256.Int {
	num := new(uint256.Int).Sub(m, wad)
	num.Mul(num, wad)
	den := new(uint256.Int).Add(m, wad)
	y := num.Div(num, den)

	y2 := new(uint256.Int).Mul(y, y)
	y2.Div(y2, wad)

	sum := new(uint256.Int).Set(y)
	pow := new(uint256.Int).Set(y)
	for n := uint64(3); n < 2*maxSeriesTerms; n += 2 {
		pow.Mul(pow, y2)
		pow.Div(pow, wad)
		t := new(uint256.Int).Div(pow, uint256.NewInt(n))
		if t.IsZero() {
			break
		}
		sum.Add(sum, t)
	}
	return sum.Lsh(sum, 1)
}

func toWad(x uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(x), precisionU)
}

func fromWadRounded(v *uint256.Int) (uint64, error) {
	out := new(uint256.Int).Add(v, halfUnit)
	out.Div(out, precisionU)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}
