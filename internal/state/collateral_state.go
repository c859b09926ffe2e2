package state

import (
	"bytes"
	"fmt"
	"sort"

	"LendLedger/internal/ledger"

	"github.com/google/uuid"
)

// DebtEntry is a DebtAccount keyed by account for snapshots
type DebtEntry struct {
	Account uuid.UUID `json:"account"`
	DebtAccount
}

// CollateralState is the serializable collateral ledger state.
type CollateralState struct {
	Debts     []DebtEntry          `json:"debts"`
	Positions []CollateralPosition `json:"positions"`
	Breaches  []Breach             `json:"breaches"`
}

// Accounts returns every account with a debt record, sorted by id.
func (cm *CollateralManager) Accounts() []uuid.UUID {
	out := make([]uuid.UUID, 0, cm.debts.Len())
	cm.debts.Range(func(id uuid.UUID, _ DebtAccount) bool {
		out = append(out, id)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (cm *CollateralManager) Export() CollateralState {
	var st CollateralState
	for _, account := range cm.Accounts() {
		st.Debts = append(st.Debts, DebtEntry{Account: account, DebtAccount: cm.debts.Value(account)})
	}

	cm.positions.Range(func(_ positionKey, pos CollateralPosition) bool {
		st.Positions = append(st.Positions, pos)
		return true
	})
	sort.Slice(st.Positions, func(i, j int) bool {
		a, b := st.Positions[i], st.Positions[j]
		if c := bytes.Compare(a.Account[:], b.Account[:]); c != 0 {
			return c < 0
		}
		return a.Kind < b.Kind
	})

	st.Breaches = cm.monitor.Breaches()
	return st
}

// Restore replaces the collateral ledger state without recording undo
// entries.
func (cm *CollateralManager) Restore(st CollateralState) {
	debts := make(map[uuid.UUID]DebtAccount, len(st.Debts))
	for _, d := range st.Debts {
		debts[d.Account] = d.DebtAccount
	}
	positions := make(map[positionKey]CollateralPosition, len(st.Positions))
	for _, pos := range st.Positions {
		positions[positionKey{pos.Account, pos.Kind}] = pos
	}
	cm.debts.Restore(debts)
	cm.positions.Restore(positions)
	cm.monitor.Restore(st.Breaches)
}

// CheckInvariants verifies the collateral ledger against the vault and the
// token ledger: recorded debt equals vault principal, breach counters are
// non-negative, pledged shares sit in escrow and pledged locks are held by
// the custodian.
func (cm *CollateralManager) CheckInvariants(token interface {
	BalanceOf(ledger.AccountKey) int64
}) error {
	var err error
	cm.debts.Range(func(account uuid.UUID, da DebtAccount) bool {
		switch {
		case da.Debt != cm.pool.DebtOf(account):
			err = fmt.Errorf("debt of %s is %d, vault principal %d", account, da.Debt, cm.pool.DebtOf(account))
		case da.UnpaidFees < 0 || da.OverSuppliedDebt < 0 || da.UndercollateralizedDebt < 0:
			err = fmt.Errorf("negative debt counter for %s: %+v", account, da)
		}
		return err == nil
	})
	if err != nil {
		return err
	}

	cm.positions.Range(func(key positionKey, pos CollateralPosition) bool {
		switch key.Kind {
		case CollateralKindShares:
			if held := token.BalanceOf(ledger.CollateralEscrowKey(key.Account)); held != pos.Quantity {
				err = fmt.Errorf("collateral escrow of %s holds %d shares, position %d", key.Account, held, pos.Quantity)
			}
		case CollateralKindLock:
			owner, lerr := cm.locks.OwnerOf(pos.Quantity)
			if lerr != nil {
				err = lerr
			} else if owner != CollateralCustodian {
				err = fmt.Errorf("pledged lock %d of %s owned by %s", pos.Quantity, key.Account, owner)
			}
		}
		return err == nil
	})
	return err
}
