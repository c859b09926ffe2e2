package vault

import "sort"

// Checkpoint is an (epoch, value) snapshot in a sparse ascending history.
type Checkpoint struct {
	Epoch int64 `json:"epoch"`
	Value int64 `json:"value"`
}

// PoolCheckpoint records the pool utilization and the curve rate at that
// utilization, as of the last write in Epoch.
type PoolCheckpoint struct {
	Epoch          int64 `json:"epoch"`
	UtilizationBps int64 `json:"utilization_bps"`
	RateBps        int64 `json:"rate_bps"`
}

// pushCheckpoint returns a history with (epoch, value) appended, replacing
// the last entry when it belongs to the same epoch. The input slice is never
// written in place so a rolled-back header keeps its original contents.
func pushCheckpoint(cps []Checkpoint, epoch, value int64) []Checkpoint {
	if n := len(cps); n > 0 && cps[n-1].Epoch == epoch {
		out := make([]Checkpoint, n)
		copy(out, cps)
		out[n-1].Value = value
		return out
	}
	return append(cps[:len(cps):len(cps)], Checkpoint{Epoch: epoch, Value: value})
}

// upperLookup returns the value of the last checkpoint at or before epoch.
func upperLookup(cps []Checkpoint, epoch int64) (int64, bool) {
	i := sort.Search(len(cps), func(i int) bool { return cps[i].Epoch > epoch })
	if i == 0 {
		return 0, false
	}
	return cps[i-1].Value, true
}

func pushPoolCheckpoint(cps []PoolCheckpoint, cp PoolCheckpoint) []PoolCheckpoint {
	if n := len(cps); n > 0 && cps[n-1].Epoch == cp.Epoch {
		out := make([]PoolCheckpoint, n)
		copy(out, cps)
		out[n-1] = cp
		return out
	}
	return append(cps[:len(cps):len(cps)], cp)
}

func poolLookup(cps []PoolCheckpoint, epoch int64) (PoolCheckpoint, bool) {
	i := sort.Search(len(cps), func(i int) bool { return cps[i].Epoch > epoch })
	if i == 0 {
		return PoolCheckpoint{}, false
	}
	return cps[i-1], true
}
