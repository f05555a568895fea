// Package decimal provides exact rational arithmetic for oracle price
// values, formatted to a fixed number of fractional digits on output.
// Unlike internal/money's fixed-scale MicroUSDC, assertion values span a
// wide range of domain-specific precisions (2 decimals for a USD spot
// price, 5 for a forex cross), so the internal representation keeps full
// rational precision and only rounds at the edge, when a canonical
// string is produced.
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal wraps a big.Rat so intermediate aggregation math (division for
// cross-rates, weighted sums for VWAP) never loses precision before the
// final rounding step.
type Decimal struct {
	r *big.Rat
}

// Zero is the additive identity.
var Zero = Decimal{r: new(big.Rat)}

// FromFloat builds a Decimal from a float64 literal (typically a sample
// value as parsed from upstream JSON).
func FromFloat(f float64) Decimal {
	r := new(big.Rat)
	r.SetFloat64(f)
	return Decimal{r: r}
}

// FromString parses a base-10 decimal string exactly (no float
// round-trip), e.g. "69004.50" or "-0.001".
func FromString(s string) (Decimal, error) {
	r := new(big.Rat)
	if _, ok := r.SetString(s); !ok {
		return Decimal{}, fmt.Errorf("decimal: cannot parse %q", s)
	}
	return Decimal{r: r}, nil
}

// MustParse is FromString for callers (tests, static config) that know
// the string is well-formed; it panics otherwise.
func MustParse(s string) Decimal {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds an integer-valued Decimal.
func FromInt(i int64) Decimal {
	return Decimal{r: new(big.Rat).SetInt64(i)}
}

func (d Decimal) rat() *big.Rat {
	if d.r == nil {
		return new(big.Rat)
	}
	return d.r
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	return Decimal{r: new(big.Rat).Add(d.rat(), other.rat())}
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	return Decimal{r: new(big.Rat).Sub(d.rat(), other.rat())}
}

// Mul returns d * other.
func (d Decimal) Mul(other Decimal) Decimal {
	return Decimal{r: new(big.Rat).Mul(d.rat(), other.rat())}
}

// Quo returns d / other. Panics on division by zero; callers must check
// IsZero first, mirroring how the aggregation engine guards cross-rate
// division by a zero denominator assertion.
func (d Decimal) Quo(other Decimal) Decimal {
	if other.IsZero() {
		panic("decimal: division by zero")
	}
	return Decimal{r: new(big.Rat).Quo(d.rat(), other.rat())}
}

// Abs returns the absolute value.
func (d Decimal) Abs() Decimal {
	return Decimal{r: new(big.Rat).Abs(d.rat())}
}

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool {
	return d.rat().Sign() == 0
}

// Cmp compares d to other: -1, 0, or 1.
func (d Decimal) Cmp(other Decimal) int {
	return d.rat().Cmp(other.rat())
}

// Float64 returns the nearest float64 approximation, for non-canonical
// uses (logging, metrics) where exactness is not required.
func (d Decimal) Float64() float64 {
	f, _ := d.rat().Float64()
	return f
}

// Round returns the value rounded half-up to the given number of
// fractional digits, as a new exact Decimal (so repeated formatting is
// idempotent).
func (d Decimal) Round(decimals int) Decimal {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(d.rat(), new(big.Rat).SetInt(scale))

	num := new(big.Int).Set(scaled.Num())
	den := new(big.Int).Set(scaled.Denom())

	neg := num.Sign() < 0
	absNum := new(big.Int).Abs(num)

	q, rem := new(big.Int).QuoRem(absNum, den, new(big.Int))
	if new(big.Int).Mul(rem, big.NewInt(2)).Cmp(den) >= 0 {
		q.Add(q, big.NewInt(1))
	}

	rounded := new(big.Rat).SetFrac(q, scale)
	if neg {
		rounded.Neg(rounded)
	}
	return Decimal{r: rounded}
}

// Format renders the value with exactly `decimals` fractional digits,
// no trimming, as Assertion canonicalization requires.
func (d Decimal) Format(decimals int) string {
	rounded := d.Round(decimals)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaledRat := new(big.Rat).Mul(rounded.rat(), new(big.Rat).SetInt(scale))
	// scaledRat is now guaranteed integral by construction of Round.
	intVal := new(big.Int).Quo(scaledRat.Num(), scaledRat.Denom())

	neg := intVal.Sign() < 0
	absStr := new(big.Int).Abs(intVal).String()

	if decimals == 0 {
		if neg {
			return "-" + absStr
		}
		return absStr
	}

	for len(absStr) <= decimals {
		absStr = "0" + absStr
	}
	whole := absStr[:len(absStr)-decimals]
	frac := absStr[len(absStr)-decimals:]

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteString(whole)
	sb.WriteByte('.')
	sb.WriteString(frac)
	return sb.String()
}

// String renders with a reasonable default of 8 fractional digits,
// trimmed; intended for logging only. Canonicalization always calls
// Format with the Assertion's explicit decimals instead.
func (d Decimal) String() string {
	s := d.Format(8)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}
