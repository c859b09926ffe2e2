package state

import (
	"bytes"
	"sort"

	"LendLedger/internal/txn"

	"github.com/google/uuid"
)

// Breach is an account currently carrying a non-zero breach counter
type Breach struct {
	Account             uuid.UUID   `json:"account"`
	Level               BreachLevel `json:"level"`
	OverSupplied        int64       `json:"over_supplied"`
	Undercollateralized int64       `json:"undercollateralized"`
	SinceEpoch          int64       `json:"since_epoch"` // epoch the account left Healthy
}

// BreachMonitor tracks accounts whose committed state carries a breach.
// Breaches survive a call only when nothing enforced requirements on it,
// e.g. after a risk parameter change followed by Refresh.
type BreachMonitor struct {
	active *txn.Map[uuid.UUID, Breach]
}

func NewBreachMonitor(log *txn.Log) *BreachMonitor {
	return &BreachMonitor{active: txn.NewMap[uuid.UUID, Breach](log)}
}

// Observe records the latest debt state of account at epoch.
func (bm *BreachMonitor) Observe(account uuid.UUID, da DebtAccount, epoch int64) {
	level := da.Level()
	prev, tracked := bm.active.Get(account)

	if level == BreachLevelHealthy {
		if tracked {
			bm.active.Delete(account)
		}
		return
	}

	since := epoch
	if tracked {
		since = prev.SinceEpoch
	}
	next := Breach{
		Account:             account,
		Level:               level,
		OverSupplied:        da.OverSuppliedDebt,
		Undercollateralized: da.UndercollateralizedDebt,
		SinceEpoch:          since,
	}
	if tracked && prev == next {
		return
	}
	bm.active.Set(account, next)
}

func (bm *BreachMonitor) Get(account uuid.UUID) (Breach, bool) {
	return bm.active.Get(account)
}

func (bm *BreachMonitor) Count() int {
	return bm.active.Len()
}

// CountByLevel is used for metrics.
func (bm *BreachMonitor) CountByLevel() map[BreachLevel]int {
	out := make(map[BreachLevel]int)
	bm.active.Range(func(_ uuid.UUID, b Breach) bool {
		out[b.Level]++
		return true
	})
	return out
}

// Breaches returns every active breach sorted by account.
func (bm *BreachMonitor) Breaches() []Breach {
	out := make([]Breach, 0, bm.active.Len())
	bm.active.Range(func(_ uuid.UUID, b Breach) bool {
		out = append(out, b)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}

func (bm *BreachMonitor) Restore(breaches []Breach) {
	m := make(map[uuid.UUID]Breach, len(breaches))
	for _, b := range breaches {
		m[b.Account] = b
	}
	bm.active.Restore(m)
}
