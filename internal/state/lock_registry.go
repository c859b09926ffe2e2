package state

import (
	"fmt"

	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/txn"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

// CollateralCustodian owns lock positions while they are pledged.
var CollateralCustodian = uuid.NewSHA1(uuid.NameSpaceOID, []byte("lendledger:collateral-custodian"))

// Lock is an NFT-style locked position. Funds sit in the funder's lock
// escrow account for the lifetime of the lock; ownership can move.
type Lock struct {
	ID        int64     `json:"id"`
	Owner     uuid.UUID `json:"owner"`
	Funder    uuid.UUID `json:"funder"`
	Amount    int64     `json:"amount"`
	UnlockAt  int64     `json:"unlock_at"`
	CreatedAt int64     `json:"created_at"`
}

// LockRegistry implements the position-lock interface
type LockRegistry struct {
	token vault.Token
	asset ledger.AssetID
	locks *txn.Map[int64, Lock]
}

func NewLockRegistry(log *txn.Log, token vault.Token, asset ledger.AssetID) *LockRegistry {
	return &LockRegistry{
		token: token,
		asset: asset,
		locks: txn.NewMap[int64, Lock](log),
	}
}

// Create mints a lock funded from the owner's wallet. The lock exists only
// if funding succeeded.
func (lr *LockRegistry) Create(id int64, owner uuid.UUID, amount, unlockAt, createdAt int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: lock id must be positive, got %d", ErrUnknownLock, id)
	}
	if amount <= 0 {
		return ErrZeroAmount
	}
	if _, exists := lr.locks.Get(id); exists {
		return fmt.Errorf("%w: %d", ErrLockExists, id)
	}

	err := lr.token.Transfer(
		ledger.WalletKey(owner, lr.asset),
		ledger.LockEscrowKey(owner, lr.asset),
		amount,
		ledger.JournalTypeLockFunding,
	)
	if err != nil {
		return err
	}
	lr.locks.Set(id, Lock{
		ID:        id,
		Owner:     owner,
		Funder:    owner,
		Amount:    amount,
		UnlockAt:  unlockAt,
		CreatedAt: createdAt,
	})
	return nil
}

func (lr *LockRegistry) Get(id int64) (Lock, bool) {
	return lr.locks.Get(id)
}

// Locked returns the amount locked in id.
func (lr *LockRegistry) Locked(id int64) (int64, error) {
	lock, ok := lr.locks.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}
	return lock.Amount, nil
}

func (lr *LockRegistry) OwnerOf(id int64) (uuid.UUID, error) {
	lock, ok := lr.locks.Get(id)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}
	return lock.Owner, nil
}

// Transfer moves ownership of id; from must be the current owner.
func (lr *LockRegistry) Transfer(id int64, from, to uuid.UUID) error {
	lock, ok := lr.locks.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}
	if lock.Owner != from {
		return fmt.Errorf("%w: lock %d owned by %s", ErrNotLockOwner, id, lock.Owner)
	}
	lock.Owner = to
	lr.locks.Set(id, lock)
	return nil
}

// IncreaseAmount adds amount from payer to an existing lock.
func (lr *LockRegistry) IncreaseAmount(id int64, payer ledger.AccountKey, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	lock, ok := lr.locks.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}
	total, err := fpmath.AddChecked(lock.Amount, amount)
	if err != nil {
		return fmt.Errorf("lock %d: %w", id, err)
	}
	if err := lr.token.Transfer(payer, ledger.LockEscrowKey(lock.Funder, lr.asset), amount, ledger.JournalTypeLockFunding); err != nil {
		return err
	}
	lock.Amount = total
	lr.locks.Set(id, lock)
	return nil
}

// Locks returns every lock ordered by id.
func (lr *LockRegistry) Locks() []Lock {
	ids := txn.SortedKeys(lr.locks)
	out := make([]Lock, 0, len(ids))
	for _, id := range ids {
		out = append(out, lr.locks.Value(id))
	}
	return out
}

func (lr *LockRegistry) Restore(locks []Lock) {
	m := make(map[int64]Lock, len(locks))
	for _, l := range locks {
		m[l.ID] = l
	}
	lr.locks.Restore(m)
}

// CheckInvariants verifies lock escrow balances match locked amounts.
func (lr *LockRegistry) CheckInvariants() error {
	byFunder := make(map[uuid.UUID]int64)
	for _, l := range lr.Locks() {
		byFunder[l.Funder] += l.Amount
	}
	for funder, amount := range byFunder {
		if got := lr.token.BalanceOf(ledger.LockEscrowKey(funder, lr.asset)); got != amount {
			return fmt.Errorf("lock escrow of %s holds %d, locks total %d", funder, got, amount)
		}
	}
	return nil
}
