package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ProjectionWorker updates the read models from core outputs. The
// projection channel is non-blocking with drop, so the tables are
// eventually consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	feed      *AuditFeed
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, feed *AuditFeed, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		feed:      feed,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence is the last output applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run consumes outputs until ctx is cancelled or the channel closes.
// Outputs at or below the stored watermark only reach the audit feed, so a
// replay after restart does not apply balance deltas twice.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if pw.db != nil {
		wm, err := loadWatermark(ctx, pw.db)
		if err != nil {
			return fmt.Errorf("load projection watermark: %w", err)
		}
		pw.lastSeq = wm
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if pw.feed != nil {
				pw.feed.Add(output.Envelope.Sequence, output.Records)
			}
			if pw.db == nil {
				pw.lastSeq = output.Envelope.Sequence
				continue
			}
			if output.Envelope.Sequence <= pw.lastSeq {
				continue
			}
			if err := pw.processOutput(ctx, output); err != nil {
				// keep going; the tables can be rebuilt from the event log
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func loadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	steps := []struct {
		name string
		fn   func() error
	}{
		{"balances", func() error { return updateBalances(ctx, tx, output, seq) }},
		{"debt_accounts", func() error { return updateDebtAccounts(ctx, tx, output, seq) }},
		{"vault_pool", func() error { return updatePool(ctx, tx, output, seq) }},
	}
	for _, step := range steps {
		start := time.Now()
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s projection: %w", step.name, err)
		}
		if pw.metrics != nil {
			pw.metrics.ProjectionUpdateDur.WithLabelValues(step.name).Observe(time.Since(start).Seconds())
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalances applies journals: the debit side increases, the credit
// side decreases.
func updateBalances(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	if output.Batch == nil {
		return nil
	}
	for _, j := range output.Batch.Journals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path, asset_id)
			DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
		`, j.DebitAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, -$3::BIGINT, $4)
			ON CONFLICT (account_path, asset_id)
			DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
		`, j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
			return err
		}
	}
	return nil
}

func updateDebtAccounts(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	for _, d := range output.Debts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.debt_accounts
				(account_id, debt, unpaid_fees, over_supplied_debt, undercollateralized_debt,
				 max_loan_ignoring_liquidity, breach_level, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (account_id) DO UPDATE SET
				debt = $2, unpaid_fees = $3, over_supplied_debt = $4,
				undercollateralized_debt = $5, max_loan_ignoring_liquidity = $6,
				breach_level = $7, last_sequence = $8
		`, d.Account.String(), d.Debt, d.UnpaidFees, d.OverSuppliedDebt, d.UndercollateralizedDebt,
			d.MaxLoanIgnoringLiquidity, d.Level().String(), seq); err != nil {
			return err
		}
	}
	return nil
}

func updatePool(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	p := output.Pool
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_pool
			(pool_id, liquid_assets, total_loaned_assets, total_supply, unsettled_rewards,
			 utilization_bps, epoch, last_sequence)
		VALUES ('main', $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pool_id) DO UPDATE SET
			liquid_assets = $1, total_loaned_assets = $2, total_supply = $3,
			unsettled_rewards = $4, utilization_bps = $5, epoch = $6, last_sequence = $7
	`, p.LiquidAssets, p.TotalLoanedAssets, p.TotalSupply, p.UnsettledRewards,
		p.UtilizationBps(), output.Epoch, seq); err != nil {
		return err
	}

	// one history row per epoch, last write wins
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_history
			(epoch, total_assets, total_loaned_assets, utilization_bps, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (epoch) DO UPDATE SET
			total_assets = $2, total_loaned_assets = $3, utilization_bps = $4, last_sequence = $5
	`, output.Epoch, p.TotalAssets(), p.TotalLoanedAssets, p.UtilizationBps(), seq)
	return err
}

// RebuildProjections truncates the read models and rebuilds balances from
// the journal. Debt and pool rows are refilled by replaying the event log
// through the core.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.debt_accounts`,
		`TRUNCATE projections.vault_pool`,
		`TRUNCATE projections.pool_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence
			FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
