package facet

import (
	"fmt"
	"sort"

	"LendLedger/internal/event"
	"LendLedger/internal/state"
)

// MaxBatchSteps bounds the work a single batch can do.
const MaxBatchSteps = 32

// Step is one operation of a batch, run on the batch's account.
type Step struct {
	Op       OpCode
	Kind     state.CollateralKind
	Quantity int64
	Amount   int64
}

// StepsFromEvent decodes wire batch steps.
func StepsFromEvent(in []event.BatchStep) ([]Step, error) {
	out := make([]Step, 0, len(in))
	for i, s := range in {
		op, err := ParseOp(s.Op)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		step := Step{Op: op, Quantity: s.Quantity, Amount: s.Amount}
		if s.Kind != "" {
			if step.Kind, err = state.ParseCollateralKind(s.Kind); err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
		}
		out = append(out, step)
	}
	return out, nil
}

// CanonicalOrder stably sorts steps into collateral, then debt, then reward
// phases. Relative order within a phase is kept.
func CanonicalOrder(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool {
		return registry[out[i].Op].phase < registry[out[j].Op].phase
	})
	return out
}

// batch runs every step in canonical order and enforces collateral
// requirements once, after the last step. A breach left by an earlier step
// only fails the batch if the later steps do not cure it.
func (f *Facet) batch(call Call) (Result, error) {
	if len(call.Steps) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if len(call.Steps) > MaxBatchSteps {
		return Result{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(call.Steps), MaxBatchSteps)
	}

	var total Result
	for i, step := range CanonicalOrder(call.Steps) {
		spec, ok := registry[step.Op]
		if !ok {
			return Result{}, fmt.Errorf("step %d: %w: %d", i, ErrUnknownOp, step.Op)
		}
		if !spec.batchable {
			return Result{}, fmt.Errorf("step %d: %w: %s", i, ErrNotBatchable, spec.name)
		}
		// each step still needs its own tier; a batch router only gets
		// the batch-tier steps on accounts it does not control
		if err := f.accounts.Check(call.Account, call.Caller, spec.tier); err != nil {
			return Result{}, fmt.Errorf("step %d: %w", i, err)
		}

		res, err := spec.handler(f, Call{
			Caller:   call.Caller,
			Account:  call.Account,
			Kind:     step.Kind,
			Quantity: step.Quantity,
			Amount:   step.Amount,
		})
		if err != nil {
			return Result{}, fmt.Errorf("step %d (%s): %w", i, spec.name, err)
		}
		total.Net += res.Net
		total.Fee += res.Fee
		total.Excess += res.Excess
	}

	if err := f.collateral.EnforceCollateralRequirements(call.Account); err != nil {
		return Result{}, err
	}
	return total, nil
}
