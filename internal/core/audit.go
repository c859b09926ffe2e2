package core

import (
	"LendLedger/internal/event"
	"LendLedger/internal/txn"
)

// auditBuffer collects the audit records of the event being applied. It
// is backed by the txn log, so records of a rejected event vanish with the
// rest of its effects.
type auditBuffer struct {
	records *txn.List[event.AuditRecord]
}

func newAuditBuffer(log *txn.Log) *auditBuffer {
	return &auditBuffer{records: txn.NewList[event.AuditRecord](log)}
}

func (b *auditBuffer) Record(rec event.AuditRecord) {
	b.records.Append(rec)
}

func (b *auditBuffer) drain() []event.AuditRecord {
	return b.records.Drain()
}
