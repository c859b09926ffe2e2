package state

import (
	"bytes"
	"fmt"
	"sort"

	"LendLedger/internal/txn"

	"github.com/google/uuid"
)

// Tier is the capability a caller needs for an operation
type Tier int32

const (
	TierOwner      Tier = iota + 1 // the account owner only
	TierAuthorized                 // owner or an authorized caller
	TierBatch                      // any of the above, or a registered batch router
)

func (t Tier) String() string {
	switch t {
	case TierOwner:
		return "owner"
	case TierAuthorized:
		return "authorized"
	case TierBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Account is a lending account and its callers
type Account struct {
	ID         uuid.UUID   `json:"id"`
	Owner      uuid.UUID   `json:"owner"`
	Authorized []uuid.UUID `json:"authorized,omitempty"` // sorted
	CreatedAt  int64       `json:"created_at"`
}

// AccountRegistry resolves account ownership for authorization checks.
type AccountRegistry struct {
	accounts *txn.Map[uuid.UUID, Account]
	routers  *txn.Map[uuid.UUID, bool]
}

func NewAccountRegistry(log *txn.Log) *AccountRegistry {
	return &AccountRegistry{
		accounts: txn.NewMap[uuid.UUID, Account](log),
		routers:  txn.NewMap[uuid.UUID, bool](log),
	}
}

func (ar *AccountRegistry) Register(id, owner uuid.UUID, createdAt int64) error {
	if id == uuid.Nil || owner == uuid.Nil {
		return fmt.Errorf("%w: nil account or owner", ErrUnknownAccount)
	}
	if _, exists := ar.accounts.Get(id); exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	ar.accounts.Set(id, Account{ID: id, Owner: owner, CreatedAt: createdAt})
	return nil
}

func (ar *AccountRegistry) Get(id uuid.UUID) (Account, bool) {
	return ar.accounts.Get(id)
}

func (ar *AccountRegistry) OwnerOf(id uuid.UUID) (uuid.UUID, error) {
	acc, ok := ar.accounts.Get(id)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return acc.Owner, nil
}

// Authorize grants (or revokes) caller on account. actor must be the owner.
func (ar *AccountRegistry) Authorize(account, actor, caller uuid.UUID, revoke bool) error {
	if err := ar.Check(account, actor, TierOwner); err != nil {
		return err
	}
	acc := ar.accounts.Value(account)

	idx := sort.Search(len(acc.Authorized), func(i int) bool {
		return bytes.Compare(acc.Authorized[i][:], caller[:]) >= 0
	})
	found := idx < len(acc.Authorized) && acc.Authorized[idx] == caller

	switch {
	case revoke && found:
		next := make([]uuid.UUID, 0, len(acc.Authorized)-1)
		next = append(next, acc.Authorized[:idx]...)
		acc.Authorized = append(next, acc.Authorized[idx+1:]...)
	case !revoke && !found:
		next := make([]uuid.UUID, 0, len(acc.Authorized)+1)
		next = append(next, acc.Authorized[:idx]...)
		next = append(next, caller)
		acc.Authorized = append(next, acc.Authorized[idx:]...)
	default:
		return nil
	}
	ar.accounts.Set(account, acc)
	return nil
}

func (ar *AccountRegistry) SetBatchRouter(router uuid.UUID, enabled bool) {
	if enabled {
		ar.routers.Set(router, true)
		return
	}
	ar.routers.Delete(router)
}

func (ar *AccountRegistry) IsBatchRouter(router uuid.UUID) bool {
	return ar.routers.Value(router)
}

// Check fails with ErrUnauthorized unless caller holds tier on account.
func (ar *AccountRegistry) Check(account, caller uuid.UUID, tier Tier) error {
	acc, ok := ar.accounts.Get(account)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if caller == acc.Owner {
		return nil
	}
	if tier >= TierAuthorized {
		for _, a := range acc.Authorized {
			if a == caller {
				return nil
			}
		}
	}
	if tier >= TierBatch && ar.routers.Value(caller) {
		return nil
	}
	return fmt.Errorf("%w: %s is not %s of account %s", ErrUnauthorized, caller, tier, account)
}

// Accounts returns every registered account sorted by id.
func (ar *AccountRegistry) Accounts() []Account {
	out := make([]Account, 0, ar.accounts.Len())
	ar.accounts.Range(func(_ uuid.UUID, acc Account) bool {
		out = append(out, acc)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Routers returns the registered batch routers sorted by id.
func (ar *AccountRegistry) Routers() []uuid.UUID {
	out := make([]uuid.UUID, 0, ar.routers.Len())
	ar.routers.Range(func(id uuid.UUID, _ bool) bool {
		out = append(out, id)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (ar *AccountRegistry) Restore(accounts []Account, routers []uuid.UUID) {
	am := make(map[uuid.UUID]Account, len(accounts))
	for _, acc := range accounts {
		am[acc.ID] = acc
	}
	rm := make(map[uuid.UUID]bool, len(routers))
	for _, r := range routers {
		rm[r] = true
	}
	ar.accounts.Restore(am)
	ar.routers.Restore(rm)
}
