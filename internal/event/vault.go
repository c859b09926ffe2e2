package event

import (
	"LendLedger/internal/ratecurve"

	"github.com/google/uuid"
)

// VaultDeposit supplies liquidity from the lender's wallet for shares.
type VaultDeposit struct {
	RequestID uuid.UUID
	Lender    uuid.UUID
	Assets    int64
	Sequence  int64
	Timestamp int64
}

func (e *VaultDeposit) IdempotencyKey() string { return e.RequestID.String() }
func (e *VaultDeposit) EventType() EventType   { return EventTypeVaultDeposit }
func (e *VaultDeposit) PartitionKey() string   { return GlobalPartition }
func (e *VaultDeposit) SourceSequence() int64  { return e.Sequence }
func (e *VaultDeposit) OccurredAt() int64      { return e.Timestamp }

// VaultRedeem burns lender shares for underlying assets.
type VaultRedeem struct {
	RequestID uuid.UUID
	Lender    uuid.UUID
	Shares    int64
	Sequence  int64
	Timestamp int64
}

func (e *VaultRedeem) IdempotencyKey() string { return e.RequestID.String() }
func (e *VaultRedeem) EventType() EventType   { return EventTypeVaultRedeem }
func (e *VaultRedeem) PartitionKey() string   { return GlobalPartition }
func (e *VaultRedeem) SourceSequence() int64  { return e.Sequence }
func (e *VaultRedeem) OccurredAt() int64      { return e.Timestamp }

type AdminAction string

const (
	AdminActionPause   AdminAction = "pause"
	AdminActionUnpause AdminAction = "unpause"
)

// VaultAdmin halts or resumes the vault's value-moving entry points.
type VaultAdmin struct {
	RequestID uuid.UUID
	Action    AdminAction
	Sequence  int64
	Timestamp int64
}

func (e *VaultAdmin) IdempotencyKey() string { return e.RequestID.String() }
func (e *VaultAdmin) EventType() EventType   { return EventTypeVaultAdmin }
func (e *VaultAdmin) PartitionKey() string   { return GlobalPartition }
func (e *VaultAdmin) SourceSequence() int64  { return e.Sequence }
func (e *VaultAdmin) OccurredAt() int64      { return e.Timestamp }

// RateCurveUpdate swaps the vault's fee calculator.
type RateCurveUpdate struct {
	RequestID uuid.UUID
	Curve     ratecurve.Spec
	Sequence  int64
	Timestamp int64
}

func (e *RateCurveUpdate) IdempotencyKey() string { return e.RequestID.String() }
func (e *RateCurveUpdate) EventType() EventType   { return EventTypeRateCurveUpdate }
func (e *RateCurveUpdate) PartitionKey() string   { return GlobalPartition }
func (e *RateCurveUpdate) SourceSequence() int64  { return e.Sequence }
func (e *RateCurveUpdate) OccurredAt() int64      { return e.Timestamp }

// RiskParamUpdate replaces the lending risk parameters. All fields are bps.
type RiskParamUpdate struct {
	RequestID         uuid.UUID
	LTVBps            int64
	ProtocolFeeBps    int64
	RewardRouteFeeBps int64
	OriginationFeeBps int64
	Sequence          int64
	Timestamp         int64
}

func (e *RiskParamUpdate) IdempotencyKey() string { return e.RequestID.String() }
func (e *RiskParamUpdate) EventType() EventType   { return EventTypeRiskParamUpdate }
func (e *RiskParamUpdate) PartitionKey() string   { return GlobalPartition }
func (e *RiskParamUpdate) SourceSequence() int64  { return e.Sequence }
func (e *RiskParamUpdate) OccurredAt() int64      { return e.Timestamp }
