package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"LendLedger/internal/ledger"
	"LendLedger/internal/projection"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables and
// the event log. Every response carries as_of_sequence, the projection
// watermark it was read at.
type QueryService struct {
	db    *sql.DB
	cache *Cache
	feed  *projection.AuditFeed
}

func NewQueryService(db *sql.DB, cache *Cache, feed *projection.AuditFeed) *QueryService {
	return &QueryService{db: db, cache: cache, feed: feed}
}

// GetAccountBalances returns every projected token account of owner.
func (qs *QueryService) GetAccountBalances(ctx context.Context, owner uuid.UUID) (*BalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path
	`, fmt.Sprintf("user:%s:%%", owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalancesResponse{Owner: owner, AsOfSequence: asOfSeq}
	for rows.Next() {
		var b BalanceEntry
		if err := rows.Scan(&b.AccountPath, &b.AssetID, &b.Balance); err != nil {
			return nil, err
		}
		b.Asset, _ = ledger.GetAssetName(ledger.AssetID(b.AssetID))
		resp.Balances = append(resp.Balances, b)
	}
	return resp, rows.Err()
}

// GetDebtAccount returns the projected debt record of account. An account
// that never borrowed reports a zeroed, healthy record.
func (qs *QueryService) GetDebtAccount(ctx context.Context, account uuid.UUID) (*DebtAccountResponse, error) {
	var resp DebtAccountResponse
	err := qs.cache.ReadThrough(ctx, "debt:"+account.String(), &resp, func(ctx context.Context) (interface{}, error) {
		return qs.loadDebtAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (qs *QueryService) loadDebtAccount(ctx context.Context, account uuid.UUID) (*DebtAccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	d := &DebtAccountResponse{Account: account, BreachLevel: "Healthy", AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT debt, unpaid_fees, over_supplied_debt, undercollateralized_debt,
		       max_loan_ignoring_liquidity, breach_level, last_sequence
		FROM projections.debt_accounts
		WHERE account_id = $1
	`, account).Scan(
		&d.Debt, &d.UnpaidFees, &d.OverSuppliedDebt, &d.UndercollateralizedDebt,
		&d.MaxLoanIgnoringLiquidity, &d.BreachLevel, &d.LastSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetVaultPool returns the projected pool aggregate.
func (qs *QueryService) GetVaultPool(ctx context.Context) (*PoolResponse, error) {
	var resp PoolResponse
	err := qs.cache.ReadThrough(ctx, "pool", &resp, qs.loadVaultPool)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (qs *QueryService) loadVaultPool(ctx context.Context) (interface{}, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	p := &PoolResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT liquid_assets, total_loaned_assets, total_supply,
		       unsettled_rewards, utilization_bps, epoch
		FROM projections.vault_pool
		WHERE pool_id = 'main'
	`).Scan(&p.LiquidAssets, &p.TotalLoanedAssets, &p.TotalSupply,
		&p.UnsettledRewards, &p.UtilizationBps, &p.Epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.TotalAssets = p.LiquidAssets + p.TotalLoanedAssets
	return p, nil
}

// GetPoolHistory returns per-epoch pool state, newest first. beforeEpoch
// is an exclusive cursor.
func (qs *QueryService) GetPoolHistory(ctx context.Context, limit int, beforeEpoch *int64) ([]PoolHistoryEntry, error) {
	query := `
		SELECT epoch, total_assets, total_loaned_assets, utilization_bps
		FROM projections.pool_history
	`
	args := []interface{}{}
	argIdx := 1

	if beforeEpoch != nil {
		query += fmt.Sprintf(" WHERE epoch < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}

	query += " ORDER BY epoch DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []PoolHistoryEntry
	for rows.Next() {
		var h PoolHistoryEntry
		if err := rows.Scan(&h.Epoch, &h.TotalAssets, &h.TotalLoanedAssets, &h.UtilizationBps); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching any account of owner.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetAuditFeed returns the newest audit records of account. The in-memory
// feed answers when it holds enough history; otherwise event_log.audit
// is read.
func (qs *QueryService) GetAuditFeed(ctx context.Context, account uuid.UUID, limit int) ([]projection.FeedEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if qs.feed != nil {
		entries := qs.feed.QueryByAccount(account, limit)
		if len(entries) == limit || qs.db == nil {
			return entries, nil
		}
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, record
		FROM event_log.audit
		WHERE account_id = $1
		ORDER BY sequence DESC, record_index DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []projection.FeedEntry
	for rows.Next() {
		var e projection.FeedEntry
		var raw []byte
		if err := rows.Scan(&e.Sequence, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Record); err != nil {
			return nil, fmt.Errorf("audit record %d: %w", e.Sequence, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBreachedAccounts lists accounts whose projected breach level is not
// Healthy, hard breaches first.
func (qs *QueryService) GetBreachedAccounts(ctx context.Context, limit int) ([]DebtAccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_id, debt, unpaid_fees, over_supplied_debt, undercollateralized_debt,
		       max_loan_ignoring_liquidity, breach_level, last_sequence
		FROM projections.debt_accounts
		WHERE breach_level <> 'Healthy'
		ORDER BY undercollateralized_debt DESC, over_supplied_debt DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DebtAccountResponse
	for rows.Next() {
		d := DebtAccountResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&d.Account, &d.Debt, &d.UnpaidFees, &d.OverSuppliedDebt, &d.UndercollateralizedDebt,
			&d.MaxLoanIgnoringLiquidity, &d.BreachLevel, &d.LastSequence,
		); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// projected balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// InvalidateCache drops cached debt and pool reads, used after a
// projection rebuild.
func (qs *QueryService) InvalidateCache(ctx context.Context, accounts ...uuid.UUID) error {
	keys := []string{"pool"}
	for _, a := range accounts {
		keys = append(keys, "debt:"+a.String())
	}
	return qs.cache.Invalidate(ctx, keys...)
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
