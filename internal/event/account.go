package event

import "github.com/google/uuid"

func uuidString(id [16]byte) string {
	return uuid.UUID(id).String()
}

// AccountRegistered creates a lending account controlled by Owner.
type AccountRegistered struct {
	RequestID uuid.UUID
	Account   uuid.UUID
	Owner     uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (e *AccountRegistered) IdempotencyKey() string { return e.RequestID.String() }
func (e *AccountRegistered) EventType() EventType   { return EventTypeAccountRegistered }
func (e *AccountRegistered) PartitionKey() string   { return accountPartition(e.Account) }
func (e *AccountRegistered) SourceSequence() int64  { return e.Sequence }
func (e *AccountRegistered) OccurredAt() int64      { return e.Timestamp }

// CallerAuthorization grants or revokes an authorized caller for an account.
// Actor must be the account owner.
type CallerAuthorization struct {
	RequestID uuid.UUID
	Account   uuid.UUID
	Actor     uuid.UUID
	Caller    uuid.UUID
	Revoke    bool
	Sequence  int64
	Timestamp int64
}

func (e *CallerAuthorization) IdempotencyKey() string { return e.RequestID.String() }
func (e *CallerAuthorization) EventType() EventType   { return EventTypeCallerAuthorization }
func (e *CallerAuthorization) PartitionKey() string   { return accountPartition(e.Account) }
func (e *CallerAuthorization) SourceSequence() int64  { return e.Sequence }
func (e *CallerAuthorization) OccurredAt() int64      { return e.Timestamp }

// BatchRouterUpdate registers or removes a global batch router.
type BatchRouterUpdate struct {
	RequestID uuid.UUID
	Router    uuid.UUID
	Enabled   bool
	Sequence  int64
	Timestamp int64
}

func (e *BatchRouterUpdate) IdempotencyKey() string { return e.RequestID.String() }
func (e *BatchRouterUpdate) EventType() EventType   { return EventTypeBatchRouterUpdate }
func (e *BatchRouterUpdate) PartitionKey() string   { return GlobalPartition }
func (e *BatchRouterUpdate) SourceSequence() int64  { return e.Sequence }
func (e *BatchRouterUpdate) OccurredAt() int64      { return e.Timestamp }
