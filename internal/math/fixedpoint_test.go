package math_test

import (
	"testing"

	fpmath "LendLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		name        string
		a, b, denom int64
		mode        fpmath.RoundingMode
		want        int64
	}{
		{"exact", 1000, 2000, 10_000, fpmath.RoundDown, 200},
		{"down truncates", 7, 1, 2, fpmath.RoundDown, 3},
		{"up rounds away", 7, 1, 2, fpmath.RoundUp, 4},
		{"half even to even", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even odd", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"half even above half", 8, 1, 3, fpmath.RoundHalfEven, 3},
		{"zero numerator", 0, 99, 7, fpmath.RoundUp, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, tt.b, tt.denom, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a*b overflows int64 but the quotient fits
	got, err := fpmath.MulDiv(4_000_000_000_000_000_000, 9_000, 10_000, fpmath.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, int64(3_600_000_000_000_000_000), got)
}

func TestMulDiv_Errors(t *testing.T) {
	_, err := fpmath.MulDiv(1, 1, 0, fpmath.RoundDown)
	assert.ErrorIs(t, err, fpmath.ErrDivisionByZero)

	_, err = fpmath.MulDiv(-1, 1, 1, fpmath.RoundDown)
	assert.ErrorIs(t, err, fpmath.ErrNegativeAmount)

	_, err = fpmath.MulDiv(9_000_000_000_000_000_000, 10, 1, fpmath.RoundDown)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, int64(0), fpmath.SubFloor(3, 5))
	assert.Equal(t, int64(2), fpmath.SubFloor(5, 3))
	assert.Equal(t, int64(5000), fpmath.RatioBps(500, 1000))
	assert.Equal(t, int64(0), fpmath.RatioBps(500, 0))
	assert.Equal(t, int64(20), fpmath.ApplyBps(100, 2000, fpmath.RoundDown))

	_, err := fpmath.AddChecked(9_223_372_036_854_775_807, 1)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestEpochClock(t *testing.T) {
	clock, err := fpmath.NewEpochClock(1_000, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(0), clock.EpochAt(0))
	assert.Equal(t, int64(0), clock.EpochAt(1_099))
	assert.Equal(t, int64(1), clock.EpochAt(1_100))
	assert.Equal(t, int64(1_200), clock.EpochStart(2))
	assert.Equal(t, int64(1_300), clock.EpochEnd(2))

	_, err = fpmath.NewEpochClock(0, 0)
	assert.Error(t, err)
}
