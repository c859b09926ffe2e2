// Package vault implements the dynamic-fees lending vault: a shared liquidity
// pool whose lenders hold shares and whose borrowers repay with rewards that
// vest one epoch after they are deposited.
//
// Entry points that move value (Deposit, Withdraw, Redeem, Borrow, Repay,
// RepayWithRewards, Sync) update all internal accounting before calling the
// Token, and refuse to be re-entered from inside a Token call. Only the view
// methods (Convert*, Preview*, DebtOf, Pool, rate getters) are safe to call
// from within that window.
package vault

import (
	"errors"
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/ratecurve"
	"LendLedger/internal/txn"

	"github.com/google/uuid"
)

var (
	ErrZeroAmount            = errors.New("vault: zero amount")
	ErrZeroShares            = errors.New("vault: zero shares")
	ErrPaused                = errors.New("vault: paused")
	ErrReentrantCall         = errors.New("vault: reentrant call")
	ErrUtilizationCap        = errors.New("vault: borrow exceeds max utilization")
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")
	ErrInsufficientShares    = errors.New("vault: insufficient shares")
	ErrClockRegression       = errors.New("vault: clock moved backwards")
)

// DefaultMaxUtilizationBps caps borrowing at 80% of pool assets.
const DefaultMaxUtilizationBps int64 = 8_000

// Token is the transfer interface of the underlying asset and of the share
// token. *ledger.BalanceTracker implements it. Allowances are granted by
// wallet owners at the ledger edge; holders of a Token only spend them.
type Token interface {
	Transfer(from, to ledger.AccountKey, amount int64, journalType ledger.JournalType) error
	TransferFrom(spender, from, to ledger.AccountKey, amount int64, journalType ledger.JournalType) error
	BalanceOf(key ledger.AccountKey) int64
}

type Config struct {
	Asset             ledger.AssetID
	Clock             fpmath.EpochClock
	OriginationFeeBps int64
	MaxUtilizationBps int64
}

func (c Config) Validate() error {
	if c.Clock.DurationMicros <= 0 {
		return fmt.Errorf("vault: epoch duration must be positive")
	}
	if c.OriginationFeeBps < 0 || c.OriginationFeeBps >= fpmath.BasisPoints {
		return fmt.Errorf("vault: origination fee %d bps out of range", c.OriginationFeeBps)
	}
	if c.MaxUtilizationBps <= 0 || c.MaxUtilizationBps > fpmath.BasisPoints {
		return fmt.Errorf("vault: max utilization %d bps out of range", c.MaxUtilizationBps)
	}
	if _, ok := ledger.GetAssetName(c.Asset); !ok {
		return fmt.Errorf("vault: unknown asset %d", c.Asset)
	}
	return nil
}

// Pool is a point-in-time view of the aggregate pool accounting.
type Pool struct {
	LiquidAssets      int64 `json:"liquid_assets"`
	TotalLoanedAssets int64 `json:"total_loaned_assets"`
	TotalSupply       int64 `json:"total_supply"`
	UnsettledRewards  int64 `json:"unsettled_rewards"`
}

// TotalAssets counts loaned principal toward net asset value.
func (p Pool) TotalAssets() int64 {
	return p.LiquidAssets + p.TotalLoanedAssets
}

// UtilizationBps is loaned / (liquid + loaned).
func (p Pool) UtilizationBps() int64 {
	return fpmath.RatioBps(p.TotalLoanedAssets, p.TotalAssets())
}

// RewardEpochBucket aggregates reward deposits made during one epoch.
type RewardEpochBucket struct {
	TotalRewardAssetsDeposited int64 `json:"total_reward_assets_deposited"`
	TokenClaimedPerEpoch       int64 `json:"token_claimed_per_epoch"`
}

// PendingReward is a reward deposit that has not been folded into debt yet.
type PendingReward struct {
	Epoch  int64 `json:"epoch"`
	Amount int64 `json:"amount"`
}

type borrower struct {
	Principal   int64
	Pending     []PendingReward // ascending, at most one entry per epoch
	Checkpoints []Checkpoint    // (epoch, principal)
}

// Vault is the DynamicFeesVault. It is not safe for concurrent use.
type Vault struct {
	cfg      Config
	token    Token
	recorder event.Recorder
	log      *txn.Log

	now         *txn.Cell[int64]
	pool        *txn.Cell[Pool]
	paused      *txn.Cell[bool]
	curve       *txn.Cell[ratecurve.Curve]
	appliedRate *txn.Cell[int64]
	feeBps      *txn.Cell[int64]
	poolCPs     *txn.Cell[[]PoolCheckpoint]
	borrowers   *txn.Map[uuid.UUID, borrower]
	buckets     *txn.Map[int64, RewardEpochBucket]

	entered bool
}

func New(cfg Config, token Token, curve ratecurve.Curve, log *txn.Log, recorder event.Recorder) (*Vault, error) {
	if cfg.MaxUtilizationBps == 0 {
		cfg.MaxUtilizationBps = DefaultMaxUtilizationBps
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if curve == nil {
		curve = ratecurve.Default()
	}
	if recorder == nil {
		recorder = event.NopRecorder{}
	}

	return &Vault{
		cfg:         cfg,
		token:       token,
		recorder:    recorder,
		log:         log,
		now:         txn.NewCell(log, cfg.Clock.GenesisMicros),
		pool:        txn.NewCell(log, Pool{}),
		paused:      txn.NewCell(log, false),
		curve:       txn.NewCell[ratecurve.Curve](log, curve),
		appliedRate: txn.NewCell[int64](log, 0),
		feeBps:      txn.NewCell(log, cfg.OriginationFeeBps),
		poolCPs:     txn.NewCell[[]PoolCheckpoint](log, nil),
		borrowers:   txn.NewMap[uuid.UUID, borrower](log),
		buckets:     txn.NewMap[int64, RewardEpochBucket](log),
	}, nil
}

// === Clock ===

// AdvanceTo moves the vault clock forward to ts (unix micros). Earlier
// timestamps are ignored: the clock is monotonic.
func (v *Vault) AdvanceTo(ts int64) {
	if ts > v.now.Get() {
		v.now.Set(ts)
	}
}

func (v *Vault) Now() int64 {
	return v.now.Get()
}

func (v *Vault) CurrentEpoch() int64 {
	return v.cfg.Clock.EpochAt(v.now.Get())
}

func (v *Vault) Clock() fpmath.EpochClock {
	return v.cfg.Clock
}

// === Views ===

func (v *Vault) Asset() ledger.AssetID {
	return v.cfg.Asset
}

func (v *Vault) Pool() Pool {
	return v.pool.Get()
}

func (v *Vault) TotalAssets() int64 {
	return v.pool.Get().TotalAssets()
}

func (v *Vault) LiquidAssets() int64 {
	return v.pool.Get().LiquidAssets
}

func (v *Vault) TotalLoanedAssets() int64 {
	return v.pool.Get().TotalLoanedAssets
}

func (v *Vault) TotalSupply() int64 {
	return v.pool.Get().TotalSupply
}

func (v *Vault) UtilizationBps() int64 {
	return v.pool.Get().UtilizationBps()
}

func (v *Vault) MaxUtilizationBps() int64 {
	return v.cfg.MaxUtilizationBps
}

func (v *Vault) OriginationFeeBps() int64 {
	return v.feeBps.Get()
}

// GetVaultRatioBps is the rate curve evaluated at current utilization.
func (v *Vault) GetVaultRatioBps() (int64, error) {
	return v.curve.Get().Rate(v.UtilizationBps())
}

// GetCurrentVaultRatioBps is the rate applied by the most recent settlement.
func (v *Vault) GetCurrentVaultRatioBps() int64 {
	return v.appliedRate.Get()
}

func (v *Vault) Curve() ratecurve.Curve {
	return v.curve.Get()
}

func (v *Vault) Bucket(epoch int64) RewardEpochBucket {
	return v.buckets.Value(epoch)
}

func (v *Vault) Paused() bool {
	return v.paused.Get()
}

// === Admin ===

func (v *Vault) Pause() {
	v.paused.Set(true)
}

func (v *Vault) Unpause() {
	v.paused.Set(false)
}

// SetRateCurve swaps the fee calculator. The current epoch's rate
// checkpoint is re-evaluated with the new curve; nothing else changes.
func (v *Vault) SetRateCurve(c ratecurve.Curve) error {
	if c == nil {
		return fmt.Errorf("vault: nil rate curve")
	}
	if _, err := c.Rate(v.UtilizationBps()); err != nil {
		return err
	}
	v.curve.Set(c)
	return v.checkpointPool()
}

// SetOriginationFeeBps updates the fee charged on new borrows.
func (v *Vault) SetOriginationFeeBps(bps int64) error {
	if bps < 0 || bps >= fpmath.BasisPoints {
		return fmt.Errorf("vault: origination fee %d bps out of range", bps)
	}
	v.feeBps.Set(bps)
	return nil
}

// === Guards ===

func (v *Vault) nonReentrant(fn func() error) error {
	if v.entered {
		return ErrReentrantCall
	}
	v.entered = true
	defer func() { v.entered = false }()
	return v.log.Atomic(fn)
}

func (v *Vault) whenNotPaused(fn func() error) error {
	if v.paused.Get() {
		return ErrPaused
	}
	return v.nonReentrant(fn)
}

func (v *Vault) liquidityKey() ledger.AccountKey {
	return ledger.VaultLiquidityKey(v.cfg.Asset)
}

func (v *Vault) escrowKey() ledger.AccountKey {
	return ledger.VaultRewardEscrowKey(v.cfg.Asset)
}
