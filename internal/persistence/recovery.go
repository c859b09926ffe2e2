package persistence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// Recover restores the core from the latest verified snapshot and replays
// the event log after it. Every replayed event must reproduce its persisted
// state hash; a divergence is returned as an error and the service must not
// start. Unverified snapshots reached during replay are verified on the way.
func Recover(ctx context.Context, c *core.DeterministicCore, sm *SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) (int, error) {
	start := time.Now()

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		if err := c.RestoreFromSnapshot(&snap.State); err != nil {
			return 0, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	}

	pending, err := sm.UnverifiedSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	c.SetReplaying(true)
	defer c.SetReplaying(false)

	replayed := 0
	for {
		rows, err := sm.LoadEventsFrom(ctx, c.GetSequence(), replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			if err := replayRow(c, row); err != nil {
				return replayed, err
			}
			replayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}

			if hash, ok := pending[c.GetSequence()]; ok {
				tip := c.GetStateHash()
				if !bytes.Equal(hash, tip[:]) {
					return replayed, fmt.Errorf("snapshot %d: hash mismatch", c.GetSequence())
				}
				if err := sm.MarkVerified(ctx, c.GetSequence()); err != nil {
					return replayed, err
				}
			}
		}
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Str("state_hash", HashHex(hashSlice(c.GetStateHash()))).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return replayed, nil
}

func replayRow(c *core.DeterministicCore, row EventRow) error {
	if row.Sequence != c.GetSequence() {
		return fmt.Errorf("replay: event log has sequence %d, core expects %d", row.Sequence, c.GetSequence())
	}
	et, ok := event.ParseEventType(row.EventType)
	if !ok {
		return fmt.Errorf("replay %d: unknown event type %q", row.Sequence, row.EventType)
	}
	evt, err := event.Decode(et, row.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", row.Sequence, err)
	}
	if err := c.ProcessEvent(evt); err != nil {
		return fmt.Errorf("replay %d: %w", row.Sequence, err)
	}

	tip := c.GetStateHash()
	if !bytes.Equal(row.StateHash, tip[:]) {
		return fmt.Errorf("replay %d: state hash diverged (log %s, core %s)",
			row.Sequence, HashHex(row.StateHash), HashHex(tip[:]))
	}
	return nil
}

func hashSlice(h [32]byte) []byte {
	return h[:]
}
