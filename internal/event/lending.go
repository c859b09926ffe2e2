package event

import "github.com/google/uuid"

// AccountCall carries the fields shared by every caller-initiated lending
// operation on an account.
type AccountCall struct {
	RequestID uuid.UUID
	Account   uuid.UUID
	Caller    uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (c *AccountCall) IdempotencyKey() string { return c.RequestID.String() }
func (c *AccountCall) PartitionKey() string   { return accountPartition(c.Account) }
func (c *AccountCall) SourceSequence() int64  { return c.Sequence }
func (c *AccountCall) OccurredAt() int64      { return c.Timestamp }

// Call exposes the shared fields of any lending event.
func (c *AccountCall) Call() *AccountCall { return c }

// Collateral kinds as they appear on the wire
const (
	CollateralKindLock   = "lock"
	CollateralKindShares = "shares"
)

type CollateralDeposit struct {
	AccountCall
	Kind     string
	Quantity int64 // shares, or lock id
}

func (e *CollateralDeposit) EventType() EventType { return EventTypeCollateralDeposit }

type CollateralWithdrawal struct {
	AccountCall
	Kind     string
	Quantity int64
}

func (e *CollateralWithdrawal) EventType() EventType { return EventTypeCollateralWithdrawal }

type BorrowRequest struct {
	AccountCall
	Amount int64
}

func (e *BorrowRequest) EventType() EventType { return EventTypeBorrowRequest }

type DebtRepayment struct {
	AccountCall
	Amount int64
}

func (e *DebtRepayment) EventType() EventType { return EventTypeDebtRepayment }

type YieldClaim struct {
	AccountCall
}

func (e *YieldClaim) EventType() EventType { return EventTypeYieldClaim }

type RewardsProcess struct {
	AccountCall
	Amount int64
}

func (e *RewardsProcess) EventType() EventType { return EventTypeRewardsProcess }

// Reward route kinds as they appear on the wire
const (
	RouteKindPayToRecipient     = "pay_to_recipient"
	RouteKindIncreaseCollateral = "increase_collateral"
	RouteKindInvestToVault      = "invest_to_vault"
	RouteKindPayDebt            = "pay_debt"
)

// RouteSpec is the wire form of a reward route
type RouteSpec struct {
	Kind      string    `json:"kind"`
	Recipient uuid.UUID `json:"recipient,omitempty"`
}

type RewardRouteUpdate struct {
	AccountCall
	Route RouteSpec
}

func (e *RewardRouteUpdate) EventType() EventType { return EventTypeRewardRouteUpdate }

// Batch step ops as they appear on the wire
const (
	StepAddCollateral    = "add_collateral"
	StepRemoveCollateral = "remove_collateral"
	StepBorrow           = "borrow"
	StepPay              = "pay"
	StepClaimYield       = "claim_yield"
	StepProcessRewards   = "process_rewards"
)

// BatchStep is one operation inside a BatchRequest
type BatchStep struct {
	Op       string `json:"op"`
	Kind     string `json:"kind,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
}

type BatchRequest struct {
	AccountCall
	Steps []BatchStep
}

func (e *BatchRequest) EventType() EventType { return EventTypeBatchRequest }

// SettlementRequest folds vested rewards into the account's debt. Anyone may
// submit it, including while the vault is paused.
type SettlementRequest struct {
	AccountCall
}

func (e *SettlementRequest) EventType() EventType { return EventTypeSettlementRequest }

// CollateralRefresh re-values the account's collateral and reconciles the
// LTV breach.
type CollateralRefresh struct {
	AccountCall
}

func (e *CollateralRefresh) EventType() EventType { return EventTypeCollateralRefresh }
