// internal/math/epoch.go
package math

import "fmt"

// EpochClock maps versioned timestamps (unix micros) onto fixed-length epochs.
type EpochClock struct {
	GenesisMicros  int64
	DurationMicros int64
}

func NewEpochClock(genesisMicros, durationMicros int64) (EpochClock, error) {
	if durationMicros <= 0 {
		return EpochClock{}, fmt.Errorf("epoch duration must be positive, got %d", durationMicros)
	}
	return EpochClock{GenesisMicros: genesisMicros, DurationMicros: durationMicros}, nil
}

// EpochAt returns the epoch containing ts. Timestamps before genesis are epoch 0.
func (c EpochClock) EpochAt(ts int64) int64 {
	if ts <= c.GenesisMicros {
		return 0
	}
	return (ts - c.GenesisMicros) / c.DurationMicros
}

// EpochStart returns the first timestamp of epoch e.
func (c EpochClock) EpochStart(e int64) int64 {
	return c.GenesisMicros + e*c.DurationMicros
}

// EpochEnd returns the first timestamp of epoch e+1.
func (c EpochClock) EpochEnd(e int64) int64 {
	return c.EpochStart(e + 1)
}
