package ratecurve

import "fmt"

const (
	KindPiecewiseLinear = "piecewise_linear"
	KindKink            = "kink"
)

// Spec is the serializable description of a curve.
type Spec struct {
	Kind   string  `json:"kind" toml:"kind"`
	Points []Point `json:"points,omitempty" toml:"points"`
	Kink   *Kink   `json:"kink,omitempty" toml:"kink"`
}

// Build constructs the curve a Spec describes.
func Build(s Spec) (Curve, error) {
	switch s.Kind {
	case KindPiecewiseLinear, "":
		if len(s.Points) == 0 {
			return Default(), nil
		}
		return NewPiecewiseLinear(s.Points)
	case KindKink:
		if s.Kink == nil {
			return nil, fmt.Errorf("%w: kink curve without parameters", ErrInvalidCurve)
		}
		return NewKink(*s.Kink)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCurve, s.Kind)
	}
}

// Describe returns the Spec for a curve built by this package.
func Describe(c Curve) Spec {
	switch cc := c.(type) {
	case *PiecewiseLinear:
		return Spec{Kind: KindPiecewiseLinear, Points: cc.Points()}
	case *Kink:
		k := *cc
		return Spec{Kind: KindKink, Kink: &k}
	default:
		return Spec{Kind: c.Name()}
	}
}
