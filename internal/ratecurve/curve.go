// Package ratecurve maps pool utilization to a fee rate, both in basis points.
package ratecurve

import (
	"errors"
	"fmt"

	fpmath "LendLedger/internal/math"
)

var (
	ErrUtilizationOutOfRange = errors.New("ratecurve: utilization outside 0..10000 bps")
	ErrInvalidCurve          = errors.New("ratecurve: invalid curve")
)

// Curve is the fee calculator strategy. Implementations are stateless.
type Curve interface {
	Rate(utilizationBps int64) (int64, error)
	Name() string
}

// Point is one vertex of a piecewise-linear curve.
type Point struct {
	UtilizationBps int64 `json:"utilization_bps" toml:"utilization_bps"`
	RateBps        int64 `json:"rate_bps" toml:"rate_bps"`
}

// DefaultPoints is the reference curve: 5% floor, flat 20% between 10% and
// 50% utilization, then two ramps up to 95% at full utilization.
var DefaultPoints = []Point{
	{UtilizationBps: 0, RateBps: 500},
	{UtilizationBps: 1_000, RateBps: 2_000},
	{UtilizationBps: 5_000, RateBps: 2_000},
	{UtilizationBps: 9_000, RateBps: 4_000},
	{UtilizationBps: 10_000, RateBps: 9_500},
}

// PiecewiseLinear interpolates between ordered points, rounding down.
type PiecewiseLinear struct {
	points []Point
}

func NewPiecewiseLinear(points []Point) (*PiecewiseLinear, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least two points, got %d", ErrInvalidCurve, len(points))
	}
	if points[0].UtilizationBps != 0 {
		return nil, fmt.Errorf("%w: first point must be at 0 bps", ErrInvalidCurve)
	}
	if last := points[len(points)-1]; last.UtilizationBps != fpmath.BasisPoints {
		return nil, fmt.Errorf("%w: last point must be at %d bps", ErrInvalidCurve, fpmath.BasisPoints)
	}
	for i, p := range points {
		if p.RateBps < 0 {
			return nil, fmt.Errorf("%w: negative rate at point %d", ErrInvalidCurve, i)
		}
		if i > 0 && p.UtilizationBps <= points[i-1].UtilizationBps {
			return nil, fmt.Errorf("%w: utilization not strictly increasing at point %d", ErrInvalidCurve, i)
		}
	}

	cp := make([]Point, len(points))
	copy(cp, points)
	return &PiecewiseLinear{points: cp}, nil
}

// Default returns the reference curve.
func Default() *PiecewiseLinear {
	c, err := NewPiecewiseLinear(DefaultPoints)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *PiecewiseLinear) Name() string { return KindPiecewiseLinear }

// Points returns a copy of the curve vertices.
func (c *PiecewiseLinear) Points() []Point {
	cp := make([]Point, len(c.points))
	copy(cp, c.points)
	return cp
}

func (c *PiecewiseLinear) Rate(utilizationBps int64) (int64, error) {
	if err := checkRange(utilizationBps); err != nil {
		return 0, err
	}

	for i := 1; i < len(c.points); i++ {
		hi := c.points[i]
		if utilizationBps > hi.UtilizationBps {
			continue
		}
		lo := c.points[i-1]
		return interpolate(lo, hi, utilizationBps), nil
	}

	// unreachable: last point is at 10000 and input was range-checked
	return c.points[len(c.points)-1].RateBps, nil
}

func interpolate(lo, hi Point, u int64) int64 {
	span := hi.UtilizationBps - lo.UtilizationBps
	offset := u - lo.UtilizationBps
	if hi.RateBps >= lo.RateBps {
		return lo.RateBps + fpmath.MustMulDiv(offset, hi.RateBps-lo.RateBps, span, fpmath.RoundDown)
	}
	return lo.RateBps - fpmath.MustMulDiv(offset, lo.RateBps-hi.RateBps, span, fpmath.RoundUp)
}

func checkRange(utilizationBps int64) error {
	if utilizationBps < 0 || utilizationBps > fpmath.BasisPoints {
		return fmt.Errorf("%w: %d", ErrUtilizationOutOfRange, utilizationBps)
	}
	return nil
}
