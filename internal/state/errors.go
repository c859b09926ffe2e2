package state

import "errors"

var (
	// invariant
	ErrBadDebt                 = errors.New("collateral: bad debt")
	ErrUndercollateralizedDebt = errors.New("collateral: undercollateralized debt")

	// resource
	ErrInsufficientShares  = errors.New("collateral: insufficient collateral shares")
	ErrInsufficientDeposit = errors.New("collateral: insufficient tracked deposit")

	// no-op guards
	ErrZeroAmount     = errors.New("collateral: zero amount")
	ErrNoYield        = errors.New("collateral: no yield to harvest")
	ErrNoPosition     = errors.New("collateral: no position")
	ErrPositionExists = errors.New("collateral: position already exists")

	ErrUnknownCollateralKind = errors.New("collateral: unknown collateral kind")

	ErrUnknownLock  = errors.New("lock: unknown lock")
	ErrLockExists   = errors.New("lock: already exists")
	ErrNotLockOwner = errors.New("lock: not the owner")

	// authorization
	ErrUnauthorized   = errors.New("account: unauthorized caller")
	ErrUnknownAccount = errors.New("account: unknown account")
	ErrAccountExists  = errors.New("account: already registered")
)
