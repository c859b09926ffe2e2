package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAccountRegistered
	EventTypeCallerAuthorization
	EventTypeBatchRouterUpdate
	EventTypeWalletDeposit
	EventTypeWalletWithdrawal
	EventTypeRewardsAccrued
	EventTypeLockCreated
	EventTypeVaultDeposit
	EventTypeVaultRedeem
	EventTypeCollateralDeposit
	EventTypeCollateralWithdrawal
	EventTypeBorrowRequest
	EventTypeDebtRepayment
	EventTypeYieldClaim
	EventTypeRewardsProcess
	EventTypeRewardRouteUpdate
	EventTypeBatchRequest
	EventTypeSettlementRequest
	EventTypeCollateralRefresh
	EventTypeVaultAdmin
	EventTypeRateCurveUpdate
	EventTypeRiskParamUpdate
	EventTypeWalletApproval
)

var eventTypeNames = map[EventType]string{
	EventTypeAccountRegistered:    "AccountRegistered",
	EventTypeCallerAuthorization:  "CallerAuthorization",
	EventTypeBatchRouterUpdate:    "BatchRouterUpdate",
	EventTypeWalletDeposit:        "WalletDeposit",
	EventTypeWalletWithdrawal:     "WalletWithdrawal",
	EventTypeRewardsAccrued:       "RewardsAccrued",
	EventTypeLockCreated:          "LockCreated",
	EventTypeVaultDeposit:         "VaultDeposit",
	EventTypeVaultRedeem:          "VaultRedeem",
	EventTypeCollateralDeposit:    "CollateralDeposit",
	EventTypeCollateralWithdrawal: "CollateralWithdrawal",
	EventTypeBorrowRequest:        "BorrowRequest",
	EventTypeDebtRepayment:        "DebtRepayment",
	EventTypeYieldClaim:           "YieldClaim",
	EventTypeRewardsProcess:       "RewardsProcess",
	EventTypeRewardRouteUpdate:    "RewardRouteUpdate",
	EventTypeBatchRequest:         "BatchRequest",
	EventTypeSettlementRequest:    "SettlementRequest",
	EventTypeCollateralRefresh:    "CollateralRefresh",
	EventTypeVaultAdmin:           "VaultAdmin",
	EventTypeRateCurveUpdate:      "RateCurveUpdate",
	EventTypeRiskParamUpdate:      "RiskParamUpdate",
	EventTypeWalletApproval:       "WalletApproval",
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Ordering partition ("account:<uuid>" or "global")
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event payload
	Payload []byte

	// Business rejection; a rejected event consumes its sequence but changes no state
	Rejected     bool
	RejectReason string

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PartitionKey returns the ordering partition
	PartitionKey() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp in unix micros
	OccurredAt() int64
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String
func ParseEventType(s string) (EventType, bool) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

const GlobalPartition = "global"

func accountPartition(id [16]byte) string {
	return "account:" + uuidString(id)
}
