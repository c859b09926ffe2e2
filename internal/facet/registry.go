package facet

import (
	"fmt"

	"LendLedger/internal/state"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

// OpCode identifies a lending facet operation
type OpCode uint8

const (
	OpUnknown OpCode = iota
	OpAddCollateral
	OpRemoveCollateral
	OpBorrow
	OpPay
	OpClaimYield
	OpProcessRewards
	OpSetRewardRoute
	OpSync
	OpRefresh
	OpBatch
)

// phase orders steps inside a batch: collateral changes, then debt
// changes, then reward and yield handling.
type phase uint8

const (
	phaseCollateral phase = iota
	phaseDebt
	phaseRewards
	phaseAdmin
)

// tierOpen marks operations any caller may invoke on an existing account.
const tierOpen state.Tier = 0

// Call carries the arguments of one operation. Unused fields are ignored.
type Call struct {
	Caller   uuid.UUID
	Account  uuid.UUID
	Kind     state.CollateralKind
	Quantity int64
	Amount   int64
	Route    RewardRoute
	Steps    []Step
}

// Result carries whatever an operation produced.
type Result struct {
	Net        int64
	Fee        int64
	Excess     int64
	Claim      state.YieldClaim
	Settlement vault.Settlement
}

// Handler executes an operation without authorization or enforcement;
// Dispatch wraps both around it.
type Handler func(f *Facet, call Call) (Result, error)

type opSpec struct {
	name      string
	tier      state.Tier
	phase     phase
	batchable bool
	enforce   bool // enforce collateral requirements when run stand-alone
	handler   Handler
}

var registry map[OpCode]opSpec

// populated in init: batch refers back to the table
func init() {
	registry = map[OpCode]opSpec{
		OpAddCollateral:    {"add_collateral", state.TierAuthorized, phaseCollateral, true, false, (*Facet).addCollateral},
		OpRemoveCollateral: {"remove_collateral", state.TierOwner, phaseCollateral, true, true, (*Facet).removeCollateral},
		OpBorrow:           {"borrow", state.TierOwner, phaseDebt, true, true, (*Facet).borrow},
		OpPay:              {"pay", state.TierAuthorized, phaseDebt, true, false, (*Facet).pay},
		OpClaimYield:       {"claim_yield", state.TierBatch, phaseRewards, true, false, (*Facet).claimYield},
		OpProcessRewards:   {"process_rewards", state.TierBatch, phaseRewards, true, false, (*Facet).processRewards},
		OpSetRewardRoute:   {"set_reward_route", state.TierOwner, phaseAdmin, false, false, (*Facet).setRewardRoute},
		OpSync:             {"sync", tierOpen, phaseAdmin, false, false, (*Facet).sync},
		OpRefresh:          {"refresh", tierOpen, phaseAdmin, false, false, (*Facet).refresh},
		OpBatch:            {"batch", state.TierBatch, phaseAdmin, false, false, (*Facet).batch},
	}
}

func (op OpCode) String() string {
	if spec, ok := registry[op]; ok {
		return spec.name
	}
	return "unknown"
}

// ParseOp maps an operation name to its code.
func ParseOp(name string) (OpCode, error) {
	for op, spec := range registry {
		if spec.name == name {
			return op, nil
		}
	}
	return OpUnknown, fmt.Errorf("%w: %q", ErrUnknownOp, name)
}

// Dispatch authorizes and runs op atomically. Stand-alone borrows and
// collateral removals enforce collateral requirements before returning.
func (f *Facet) Dispatch(op OpCode, call Call) (Result, error) {
	spec, ok := registry[op]
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownOp, op)
	}

	var res Result
	err := f.log.Atomic(func() error {
		if err := f.authorize(spec, call); err != nil {
			return err
		}
		var err error
		if res, err = spec.handler(f, call); err != nil {
			return fmt.Errorf("%s: %w", spec.name, err)
		}
		if !spec.enforce {
			return nil
		}
		if err := f.collateral.EnforceCollateralRequirements(call.Account); err != nil {
			return fmt.Errorf("%s: %w", spec.name, err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (f *Facet) authorize(spec opSpec, call Call) error {
	if spec.tier == tierOpen {
		_, err := f.accounts.OwnerOf(call.Account)
		return err
	}
	return f.accounts.Check(call.Account, call.Caller, spec.tier)
}
