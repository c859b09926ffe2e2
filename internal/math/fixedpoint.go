// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// BasisPoints is the denominator for every ratio in the ledger (10000 = 100%).
const BasisPoints int64 = 10_000

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// AssetConfig is the precision of the underlying lending asset (USDC-like, 6 dp)
	AssetConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

var (
	ErrOverflow       = errors.New("fixedpoint: result overflows int64")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrNegativeAmount = errors.New("fixedpoint: negative amount")
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MulDiv computes a * b / denominator with an explicit rounding mode.
// Operands must be non-negative; the product never overflows because it is
// computed in a big.Int.
func MulDiv(a, b, denominator int64, mode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}
	if a < 0 || b < 0 || denominator < 0 {
		return 0, ErrNegativeAmount
	}

	product := getInt128()
	defer putInt128(product)
	product.Mul(big.NewInt(a), big.NewInt(b))

	return divideInt128(product, denominator, mode)
}

// MustMulDiv is MulDiv for call sites whose operands are already validated.
// Panics on overflow: that means an invariant upstream is broken.
func MustMulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	v, err := MulDiv(a, b, denominator, mode)
	if err != nil {
		panic(err)
	}
	return v
}

func divideInt128(numerator *big.Int, denominator int64, mode RoundingMode) (int64, error) {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(numerator, denom, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfEven:
			twice := getInt128()
			twice.Lsh(remainder, 1)
			cmp := twice.Cmp(denom)
			putInt128(twice)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// ApplyBps returns amount * bps / 10000.
func ApplyBps(amount, bps int64, mode RoundingMode) int64 {
	return MustMulDiv(amount, bps, BasisPoints, mode)
}

// RatioBps returns numerator / denominator in basis points, rounded down.
// A zero denominator yields zero.
func RatioBps(numerator, denominator int64) int64 {
	if denominator <= 0 || numerator <= 0 {
		return 0
	}
	return MustMulDiv(numerator, BasisPoints, denominator, RoundDown)
}

// AddChecked adds two amounts and reports int64 overflow.
func AddChecked(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubFloor returns a - b, floored at zero.
func SubFloor(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
