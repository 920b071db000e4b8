package si5351

import "fmt"

// MaxDenominator is the largest c that fits the 20 bit P3 field.
const MaxDenominator = 1<<20 - 1

// Ratio is the divider value a + b/c used by both the PLL feedback and the
// output multisynth stages. 0 <= b < c.
type Ratio struct {
	A uint32 `json:"a"`
	B uint32 `json:"b"`
	C uint32 `json:"c"`
}

// Float returns a + b/c.
func (r Ratio) Float() float64 {
	if r.C == 0 {
		return float64(r.A)
	}
	return float64(r.A) + float64(r.B)/float64(r.C)
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d+%d/%d", r.A, r.B, r.C)
}

/*
Approximate expresses num/den as a + b/c with c fixed at maxDen.

The integer part comes from an integer division. The fractional part is the
floating point quotient minus that truncated integer part, scaled by maxDen and
rounded down. This is the same arithmetic the Silicon Labs reference code
uses, so the programmed frequencies match other drivers bit for bit. It is
not the best rational approximation for the denominator; a continued fraction
would get closer.

den must not be zero.
*/
func Approximate(num, den, maxDen uint64) Ratio {
	a := num / den
	frac := float64(num)/float64(den) - float64(num/den)
	b := uint64(0)
	if frac > 0 {
		b = uint64(frac * float64(maxDen))
	}
	// the floating quotient can round up to a+1 for ratios a hair below an integer
	if b >= maxDen && maxDen > 0 {
		b = maxDen - 1
	}
	return Ratio{A: uint32(a), B: uint32(b), C: uint32(maxDen)}
}
