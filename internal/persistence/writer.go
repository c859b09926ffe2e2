package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/core"
)

// EventLogWriter writes the event log, journals and audit trail to Postgres
// using multi-row INSERTs inside the caller's transaction.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Partition      string
	Payload        []byte // JSON-encoded event payload
	Rejected       bool
	RejectReason   string
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// AuditRow represents a row in event_log.audit
type AuditRow struct {
	Sequence int64
	Index    int
	Kind     string
	Account  string
	Epoch    int64
	Amount   int64
	Record   []byte // full record as JSON
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens one core output into table rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow, []AuditRow, error) {
	env := out.Envelope
	ev := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        env.Payload,
		Rejected:       env.Rejected,
		RejectReason:   env.RejectReason,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}

	var journals []JournalRow
	if out.Batch != nil {
		journals = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}

	audits := make([]AuditRow, 0, len(out.Records))
	for i, rec := range out.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return EventRow{}, nil, nil, fmt.Errorf("marshal audit record: %w", err)
		}
		audits = append(audits, AuditRow{
			Sequence: env.Sequence,
			Index:    i,
			Kind:     rec.Kind.String(),
			Account:  rec.Account.String(),
			Epoch:    rec.Epoch,
			Amount:   rec.Amount,
			Record:   data,
		})
	}
	return ev, journals, audits, nil
}

// placeholders renders "($1, $2, ...), (...)" for rows of width columns.
func placeholders(rows, width int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		cols := make([]string, width)
		for c := 0; c < width; c++ {
			cols[c] = fmt.Sprintf("$%d", i*width+c+1)
		}
		values = append(values, "("+strings.Join(cols, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(events)*11)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Partition, e.Payload,
			e.Rejected, e.RejectReason, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, partition_key, payload,
		 rejected, reject_reason, state_hash, prev_hash, timestamp, source_sequence)
		VALUES ` + placeholders(len(events), 11) +
		` ON CONFLICT DO NOTHING` // replays and duplicate keys are skipped

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(journals)*10)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		 asset_id, amount, journal_type, timestamp)
		VALUES ` + placeholders(len(journals), 10) +
		` ON CONFLICT (journal_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteAuditBatch writes audit records to event_log.audit.
func (w *EventLogWriter) WriteAuditBatch(ctx context.Context, tx *sql.Tx, audits []AuditRow) error {
	if len(audits) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(audits)*7)
	for _, a := range audits {
		args = append(args, a.Sequence, a.Index, a.Kind, a.Account, a.Epoch, a.Amount, a.Record)
	}

	query := `INSERT INTO event_log.audit
		(sequence, record_index, kind, account_id, epoch, amount, record)
		VALUES ` + placeholders(len(audits), 7) +
		` ON CONFLICT (sequence, record_index) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// HashHex renders a state hash for logs.
func HashHex(h []byte) string {
	if len(h) > 8 {
		h = h[:8]
	}
	return hex.EncodeToString(h)
}
