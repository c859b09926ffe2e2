package ratecurve

import (
	"fmt"

	fpmath "LendLedger/internal/math"
)

// Kink is the jump-rate model: base + multiplier up to the kink, then a
// steeper jump multiplier on the excess. Multipliers are the rate added
// across the full 0..100% utilization range.
type Kink struct {
	BaseBps           int64 `json:"base_bps" toml:"base_bps"`
	MultiplierBps     int64 `json:"multiplier_bps" toml:"multiplier_bps"`
	JumpMultiplierBps int64 `json:"jump_multiplier_bps" toml:"jump_multiplier_bps"`
	KinkBps           int64 `json:"kink_bps" toml:"kink_bps"`
}

func NewKink(k Kink) (*Kink, error) {
	if k.BaseBps < 0 || k.MultiplierBps < 0 || k.JumpMultiplierBps < 0 {
		return nil, fmt.Errorf("%w: negative kink parameter", ErrInvalidCurve)
	}
	if k.KinkBps <= 0 || k.KinkBps > fpmath.BasisPoints {
		return nil, fmt.Errorf("%w: kink %d outside (0, %d]", ErrInvalidCurve, k.KinkBps, fpmath.BasisPoints)
	}
	return &k, nil
}

func (k *Kink) Name() string { return KindKink }

func (k *Kink) Rate(utilizationBps int64) (int64, error) {
	if err := checkRange(utilizationBps); err != nil {
		return 0, err
	}

	if utilizationBps <= k.KinkBps {
		return k.BaseBps + fpmath.ApplyBps(utilizationBps, k.MultiplierBps, fpmath.RoundDown), nil
	}

	normal := k.BaseBps + fpmath.ApplyBps(k.KinkBps, k.MultiplierBps, fpmath.RoundDown)
	excess := utilizationBps - k.KinkBps
	return normal + fpmath.ApplyBps(excess, k.JumpMultiplierBps, fpmath.RoundDown), nil
}
