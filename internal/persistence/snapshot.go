package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LendLedger/internal/core"

	"github.com/google/uuid"
)

// snapshotNamespace derives snapshot ids from the sequence so a retried
// save keeps its id.
var snapshotNamespace = uuid.MustParse("2b7f0d4e-8c61-4d0b-b0a5-6a1f3e9c7d10")

// SnapshotManager stores and loads core snapshots.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is one stored snapshot.
type SnapshotData struct {
	Sequence  int64              `json:"sequence"`
	StateHash []byte             `json:"state_hash"`
	State     core.SnapshotState `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. It stays unverified until a replay from
// the previous verified snapshot reproduces its hash.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.NewSHA1(snapshotNamespace, []byte(fmt.Sprint(snap.Sequence)))
	const formatVersion = 1

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// UnverifiedSnapshots returns the sequence and hash of every snapshot
// awaiting verification.
func (sm *SnapshotManager) UnverifiedSnapshots(ctx context.Context) (map[int64][]byte, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, state_hash FROM event_log.snapshots WHERE verified = FALSE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]byte)
	for rows.Next() {
		var seq int64
		var hash []byte
		if err := rows.Scan(&seq, &hash); err != nil {
			return nil, err
		}
		out[seq] = hash
	}
	return out, rows.Err()
}

// LoadEventsFrom loads events with sequence >= fromSequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition_key, payload,
		       rejected, reject_reason, state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition, &e.Payload,
			&e.Rejected, &e.RejectReason, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
