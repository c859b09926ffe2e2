package event

import "github.com/google/uuid"

// WalletDeposit credits an owner's wallet from outside the ledger.
type WalletDeposit struct {
	RequestID uuid.UUID
	Owner     uuid.UUID
	Amount    int64 // Fixed-point
	Sequence  int64
	Timestamp int64
}

func (e *WalletDeposit) IdempotencyKey() string { return e.RequestID.String() }
func (e *WalletDeposit) EventType() EventType   { return EventTypeWalletDeposit }
func (e *WalletDeposit) PartitionKey() string   { return GlobalPartition }
func (e *WalletDeposit) SourceSequence() int64  { return e.Sequence }
func (e *WalletDeposit) OccurredAt() int64      { return e.Timestamp }

// WalletWithdrawal debits an owner's wallet to outside the ledger.
type WalletWithdrawal struct {
	RequestID uuid.UUID
	Owner     uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp int64
}

func (e *WalletWithdrawal) IdempotencyKey() string { return e.RequestID.String() }
func (e *WalletWithdrawal) EventType() EventType   { return EventTypeWalletWithdrawal }
func (e *WalletWithdrawal) PartitionKey() string   { return GlobalPartition }
func (e *WalletWithdrawal) SourceSequence() int64  { return e.Sequence }
func (e *WalletWithdrawal) OccurredAt() int64      { return e.Timestamp }

// WalletApproval sets how much of the owner's wallet a lending account may
// pull when the owner pays that account's debt.
type WalletApproval struct {
	RequestID uuid.UUID
	Owner     uuid.UUID
	Account   uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp int64
}

func (e *WalletApproval) IdempotencyKey() string { return e.RequestID.String() }
func (e *WalletApproval) EventType() EventType   { return EventTypeWalletApproval }
func (e *WalletApproval) PartitionKey() string   { return GlobalPartition }
func (e *WalletApproval) SourceSequence() int64  { return e.Sequence }
func (e *WalletApproval) OccurredAt() int64      { return e.Timestamp }

// RewardsAccrued credits an account's reward inbox (e.g. lock rebases,
// voting incentives). RewardsProcess later routes it.
type RewardsAccrued struct {
	RequestID uuid.UUID
	Account   uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp int64
}

func (e *RewardsAccrued) IdempotencyKey() string { return e.RequestID.String() }
func (e *RewardsAccrued) EventType() EventType   { return EventTypeRewardsAccrued }
func (e *RewardsAccrued) PartitionKey() string   { return accountPartition(e.Account) }
func (e *RewardsAccrued) SourceSequence() int64  { return e.Sequence }
func (e *RewardsAccrued) OccurredAt() int64      { return e.Timestamp }

// LockCreated mints a lock position funded from the owner's wallet.
type LockCreated struct {
	RequestID uuid.UUID
	LockID    int64
	Owner     uuid.UUID
	Amount    int64
	UnlockAt  int64
	Sequence  int64
	Timestamp int64
}

func (e *LockCreated) IdempotencyKey() string { return e.RequestID.String() }
func (e *LockCreated) EventType() EventType   { return EventTypeLockCreated }
func (e *LockCreated) PartitionKey() string   { return GlobalPartition }
func (e *LockCreated) SourceSequence() int64  { return e.Sequence }
func (e *LockCreated) OccurredAt() int64      { return e.Timestamp }
