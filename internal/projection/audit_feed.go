package projection

import (
	"sync"

	"LendLedger/internal/event"

	"github.com/google/uuid"
)

// FeedEntry is an audit record with the sequence of the event that
// produced it.
type FeedEntry struct {
	Sequence int64             `json:"sequence"`
	Record   event.AuditRecord `json:"record"`
}

// AuditFeed keeps the most recent audit records in memory for the query
// API. Older history lives in event_log.audit.
type AuditFeed struct {
	mu       sync.RWMutex
	entries  []FeedEntry
	capacity int
	head     int
	full     bool
}

func NewAuditFeed(capacity int) *AuditFeed {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &AuditFeed{
		entries:  make([]FeedEntry, capacity),
		capacity: capacity,
	}
}

// Add appends the records of one event.
func (f *AuditFeed) Add(sequence int64, records []event.AuditRecord) {
	if len(records) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.entries[f.head] = FeedEntry{Sequence: sequence, Record: rec}
		f.head = (f.head + 1) % f.capacity
		if f.head == 0 {
			f.full = true
		}
	}
}

// Len returns how many entries are retained.
func (f *AuditFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.full {
		return f.capacity
	}
	return f.head
}

// QueryByAccount returns up to limit records of account, newest first.
// uuid.Nil matches every account.
func (f *AuditFeed) QueryByAccount(account uuid.UUID, limit int) []FeedEntry {
	if limit <= 0 {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.head
	if f.full {
		n = f.capacity
	}
	result := make([]FeedEntry, 0, min(limit, n))
	for i := 0; i < n && len(result) < limit; i++ {
		idx := (f.head - 1 - i + f.capacity) % f.capacity
		entry := f.entries[idx]
		if account == uuid.Nil || entry.Record.Account == account {
			result = append(result, entry)
		}
	}
	return result
}
