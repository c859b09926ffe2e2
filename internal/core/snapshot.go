package core

import (
	"fmt"
	"sort"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/state"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

// BalanceEntry is one token balance; AccountKey is not a valid JSON map key.
type BalanceEntry struct {
	Key     ledger.AccountKey `json:"key"`
	Balance int64             `json:"balance"`
}

// SnapshotState is the complete in-memory state of a core at a sequence.
// Restoring it and replaying the log from Sequence reproduces the same hash
// chain.
type SnapshotState struct {
	Sequence        int64                         `json:"sequence"`
	StateHash       [32]byte                      `json:"state_hash"`
	Balances        []BalanceEntry                `json:"balances"`
	Allowances      []ledger.Allowance            `json:"allowances,omitempty"`
	Vault           vault.State                   `json:"vault"`
	Collateral      state.CollateralState         `json:"collateral"`
	Locks           []state.Lock                  `json:"locks"`
	Accounts        []state.Account               `json:"accounts"`
	Routers         []uuid.UUID                   `json:"routers,omitempty"`
	Risk            state.RiskParams              `json:"risk"`
	Fees            map[state.FeeSource]int64     `json:"fees"`
	Routes          map[uuid.UUID]event.RouteSpec `json:"routes,omitempty"`
	SequenceState   map[string]int64              `json:"sequence_state"`
	IdempotencyKeys []string                      `json:"idempotency_keys"`
}

// CreateSnapshotState captures the state between events.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := c.tracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, bal := range balances {
		entries = append(entries, BalanceEntry{Key: key, Balance: bal})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.AccountPath() < entries[j].Key.AccountPath()
	})

	return &SnapshotState{
		Sequence:        c.sequence,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        entries,
		Allowances:      c.tracker.SnapshotAllowances(),
		Vault:           c.vault.Export(),
		Collateral:      c.collateral.Export(),
		Locks:           c.locks.Locks(),
		Accounts:        c.accounts.Accounts(),
		Routers:         c.accounts.Routers(),
		Risk:            c.risk.Get(),
		Fees:            c.fees.Snapshot(),
		Routes:          c.facet.Routes(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the core state. It must run before the first
// event is processed.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if c.log.Active() {
		return fmt.Errorf("restore snapshot: inside an event scope")
	}

	balances := make(map[ledger.AccountKey]int64, len(snap.Balances))
	for _, entry := range snap.Balances {
		balances[entry.Key] = entry.Balance
	}
	c.tracker.Restore(balances, snap.Allowances)

	if err := c.vault.Restore(snap.Vault); err != nil {
		return err
	}
	if err := state.ValidateRiskParams(snap.Risk); err != nil {
		return fmt.Errorf("restore risk params: %w", err)
	}
	c.risk.Restore(snap.Risk)
	c.collateral.Restore(snap.Collateral)
	c.locks.Restore(snap.Locks)
	c.accounts.Restore(snap.Accounts, snap.Routers)
	c.fees.Restore(snap.Fees)
	if err := c.facet.RestoreRoutes(snap.Routes); err != nil {
		return err
	}

	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)

	c.sequence = snap.Sequence
	c.hasher.SetPrevHash(snap.StateHash)

	if err := c.CheckInvariants(); err != nil {
		return fmt.Errorf("restored state is inconsistent: %w", err)
	}
	return nil
}

// WarmCache preloads idempotency keys, e.g. from the persisted event log.
func (c *DeterministicCore) WarmCache(keys []string) {
	c.idempotency.Warm(keys)
}
