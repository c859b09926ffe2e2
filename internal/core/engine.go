package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/facet"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/ratecurve"
	"LendLedger/internal/state"
	"LendLedger/internal/txn"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config parameterizes a core instance.
type Config struct {
	StartSequence int64
	Vault         vault.Config
	Curve         ratecurve.Curve
	Risk          state.RiskParams

	// IdempotencyTTL bounds how long tier 1 remembers a key.
	IdempotencyTTL time.Duration
	// FullCheckInterval runs the global invariant checks every N events;
	// 1 checks after every event.
	FullCheckInterval int64
}

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence int64
	asset    ledger.AssetID
	hasher   *StateHasher
	log      *txn.Log

	tracker    *ledger.BalanceTracker
	validator  *ledger.InvariantValidator
	vault      *vault.Vault
	accounts   *state.AccountRegistry
	locks      *state.LockRegistry
	risk       *state.RiskParamsManager
	fees       *state.FeeCollector
	collateral *state.CollateralManager
	facet      *facet.Facet
	audit      *auditBuffer

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	fullCheckInterval int64
	replaying         bool

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything one applied (or rejected) event produced.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Records  []event.AuditRecord
	// Debts holds the post-event debt record of every account the event
	// touched, Pool the pool aggregate after the event.
	Debts []state.DebtEntry
	Pool  vault.Pool
	Epoch int64
	// StateDelta is the canonical digest hashed into the envelope
	StateDelta []byte
}

func NewDeterministicCore(
	ctx context.Context,
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*DeterministicCore, error) {
	if cfg.Curve == nil {
		cfg.Curve = ratecurve.Default()
	}
	if cfg.FullCheckInterval <= 0 {
		cfg.FullCheckInterval = 1000
	}
	cfg.Vault.OriginationFeeBps = cfg.Risk.OriginationFeeBps

	log := txn.NewLog()
	audit := newAuditBuffer(log)
	tracker := ledger.NewBalanceTracker(log)

	v, err := vault.New(cfg.Vault, tracker, cfg.Curve, log, audit)
	if err != nil {
		return nil, err
	}
	risk, err := state.NewRiskParamsManager(log, cfg.Risk)
	if err != nil {
		return nil, err
	}
	locks := state.NewLockRegistry(log, tracker, cfg.Vault.Asset)
	fees := state.NewFeeCollector(log, tracker, cfg.Vault.Asset)
	accounts := state.NewAccountRegistry(log)
	collateral := state.NewCollateralManager(log, v, locks, risk, fees, audit)

	idempotency, err := NewIdempotencyChecker(ctx, cfg.IdempotencyTTL, dbChecker, metrics)
	if err != nil {
		return nil, err
	}

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		asset:             cfg.Vault.Asset,
		hasher:            NewStateHasher(),
		log:               log,
		tracker:           tracker,
		validator:         ledger.NewInvariantValidator(tracker),
		vault:             v,
		accounts:          accounts,
		locks:             locks,
		risk:              risk,
		fees:              fees,
		collateral:        collateral,
		facet:             facet.New(log, accounts, collateral, v, tracker, audit),
		audit:             audit,
		idempotency:       idempotency,
		sequenceValidator: NewSequenceValidator(),
		fullCheckInterval: cfg.FullCheckInterval,
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline. A business failure does not
// return an error: the event is recorded as rejected and consumes its
// sequence. Errors are reserved for ordering problems the caller must
// resolve (gaps, out-of-order delivery).
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: idempotency (two-tier)
	var isDuplicate bool
	if c.replaying {
		isDuplicate = c.idempotency.Seen(eventType, idempotencyKey)
	} else {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: per-partition source sequence
	if err := c.sequenceValidator.ValidateSequence(evt.PartitionKey(), evt.SourceSequence(), isDuplicate); err != nil {
		c.recordSequenceError(eventType, err)
		return fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: apply atomically
	ts := evt.OccurredAt()
	applyErr := c.log.Atomic(func() error {
		c.vault.AdvanceTo(ts)
		return c.dispatchEvent(evt)
	})

	// Step 4: collect what the event produced
	batch := ledger.NewBatch(idempotencyKey, c.sequence, ts, c.tracker.TakeJournals())
	records := c.audit.drain()
	if applyErr == nil {
		if err := batch.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	// Step 5: state digest and hash chain
	hashStart := time.Now()
	debts := c.touchedDebts(evt, records)
	digest := c.computeStateDigest(batch, debts)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode %s payload: %v", eventType, err))
	}
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      evt.PartitionKey(),
		Timestamp:      time.UnixMicro(ts).UTC(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if applyErr != nil {
		envelope.Rejected = true
		envelope.RejectReason = applyErr.Error()
		c.logger.Info().
			Str("event_type", eventType).
			Str("idempotency_key", idempotencyKey).
			Int64("sequence", c.sequence).
			Str("reason", applyErr.Error()).
			Msg("event rejected")
	}

	// Step 6: post-checks
	if applyErr == nil {
		if err := c.postCheckInvariants(batch, debts); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated at seq %d: %v", c.sequence, err))
		}
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Records:    records,
		Debts:      debts,
		Pool:       c.vault.Pool(),
		Epoch:      c.vault.CurrentEpoch(),
		StateDelta: digest,
	}
	c.sequence++

	// Step 7: emit. Persistence blocks (backpressure), projections drop on
	// a full channel and rebuild from the event log.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	// Step 8: remember the key
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	c.observe(eventType, applyErr, batch, records, start)
	return nil
}

func (c *DeterministicCore) recordSequenceError(eventType string, err error) {
	if c.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrSequenceGap):
		c.metrics.EventSequenceGap.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, "sequence_gap").Inc()
	case errors.Is(err, ErrOutOfOrder):
		c.metrics.EventOutOfOrder.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, "out_of_order").Inc()
	}
}

func (c *DeterministicCore) observe(eventType string, applyErr error, batch *ledger.Batch, records []event.AuditRecord, start time.Time) {
	if c.metrics == nil {
		return
	}
	if applyErr != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, "business").Inc()
	} else {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	}
	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}
	for _, rec := range records {
		c.metrics.CoreAuditRecords.WithLabelValues(rec.Kind.String()).Inc()
		if rec.Kind == event.AuditRewardsSettled {
			c.metrics.RewardsSettled.WithLabelValues("premium").Add(float64(rec.Fee))
			c.metrics.RewardsSettled.WithLabelValues("principal").Add(float64(rec.Net))
			c.metrics.RewardsSettled.WithLabelValues("excess").Add(float64(rec.Excess))
		}
	}

	pool := c.vault.Pool()
	c.metrics.VaultTotalAssets.Set(float64(pool.TotalAssets()))
	c.metrics.VaultLoanedAssets.Set(float64(pool.TotalLoanedAssets))
	c.metrics.VaultUtilizationBps.Set(float64(pool.UtilizationBps()))
	if rate, err := c.vault.GetVaultRatioBps(); err == nil {
		c.metrics.VaultRateBps.Set(float64(rate))
	}
	c.metrics.VaultEpoch.Set(float64(c.vault.CurrentEpoch()))
	c.metrics.ProtocolFees.Set(float64(c.fees.Balance()))
	for level, n := range c.collateral.Monitor().CountByLevel() {
		c.metrics.BreachAccounts.WithLabelValues(level.String()).Set(float64(n))
	}

	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
}

// computeStateDigest builds canonical bytes over the state the event could
// have touched: journal accounts and their balances, the debt record of
// every lending account involved, and the pool aggregate.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, debts []state.DebtEntry) []byte {
	// token accounts, sorted by path
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	keys := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	digest := make([]byte, 0, len(keys)*64+256)
	for _, key := range keys {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.tracker.BalanceOf(key))
	}

	// lending accounts, sorted by id
	for _, entry := range debts {
		digest = append(digest, entry.CanonicalBytes()...)
		digest = appendInt64LE(digest, c.vault.DebtOf(entry.Account))
	}

	pool := c.vault.Pool()
	digest = appendInt64LE(digest, c.vault.Now())
	digest = appendInt64LE(digest, pool.LiquidAssets)
	digest = appendInt64LE(digest, pool.TotalLoanedAssets)
	digest = appendInt64LE(digest, pool.TotalSupply)
	digest = appendInt64LE(digest, pool.UnsettledRewards)
	return digest
}

func (c *DeterministicCore) touchedDebts(evt event.Event, records []event.AuditRecord) []state.DebtEntry {
	accounts := touchedAccounts(evt, records)
	debts := make([]state.DebtEntry, 0, len(accounts))
	for _, account := range accounts {
		debts = append(debts, state.DebtEntry{Account: account, DebtAccount: c.collateral.DebtAccount(account)})
	}
	return debts
}

func touchedAccounts(evt event.Event, records []event.AuditRecord) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	if id, ok := eventAccount(evt); ok {
		seen[id] = true
	}
	for _, rec := range records {
		if rec.Account != uuid.Nil {
			seen[rec.Account] = true
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// eventAccount returns the lending account an event addresses, if any.
func eventAccount(evt event.Event) (uuid.UUID, bool) {
	type accountCall interface{ Call() *event.AccountCall }
	switch e := evt.(type) {
	case accountCall:
		return e.Call().Account, true
	case *event.AccountRegistered:
		return e.Account, true
	case *event.CallerAuthorization:
		return e.Account, true
	case *event.RewardsAccrued:
		return e.Account, true
	}
	return uuid.Nil, false
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates the touched accounts after every event and
// the whole state every fullCheckInterval events.
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch, debts []state.DebtEntry) error {
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.IsExternal() {
				continue
			}
			if err := c.tracker.ValidateNonNegative(key); err != nil {
				return fmt.Errorf("post-check non-negative: %w", err)
			}
		}
	}
	for _, entry := range debts {
		if want := c.vault.DebtOf(entry.Account); entry.Debt != want {
			return fmt.Errorf("post-check debt mirror: %s ledger %d, vault %d", entry.Account, entry.Debt, want)
		}
	}

	if c.sequence%c.fullCheckInterval != 0 {
		return nil
	}
	return c.CheckInvariants()
}

// CheckInvariants runs every global consistency check.
func (c *DeterministicCore) CheckInvariants() error {
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("global balance: %w", err)
	}
	if err := c.validator.ValidateInternalNonNegative(); err != nil {
		return fmt.Errorf("internal balances: %w", err)
	}
	if err := c.vault.CheckInvariants(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.collateral.CheckInvariants(c.tracker); err != nil {
		return fmt.Errorf("collateral: %w", err)
	}
	if err := c.locks.CheckInvariants(); err != nil {
		return fmt.Errorf("locks: %w", err)
	}
	return nil
}

// SetReplaying switches the core to replay mode: the persisted event log is
// the input, so tier 2 of the idempotency check is skipped.
func (c *DeterministicCore) SetReplaying(replaying bool) {
	c.replaying = replaying
}

// --- Accessors ---

// GetSequence returns the next global sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

func (c *DeterministicCore) Vault() *vault.Vault                   { return c.vault }
func (c *DeterministicCore) Collateral() *state.CollateralManager  { return c.collateral }
func (c *DeterministicCore) Accounts() *state.AccountRegistry      { return c.accounts }
func (c *DeterministicCore) Locks() *state.LockRegistry            { return c.locks }
func (c *DeterministicCore) Fees() *state.FeeCollector             { return c.fees }
func (c *DeterministicCore) Facet() *facet.Facet                   { return c.facet }
func (c *DeterministicCore) Balances() *ledger.BalanceTracker      { return c.tracker }
func (c *DeterministicCore) RiskParams() state.RiskParams          { return c.risk.Get() }
func (c *DeterministicCore) Idempotency() *IdempotencyChecker      { return c.idempotency }
func (c *DeterministicCore) SequenceValidator() *SequenceValidator { return c.sequenceValidator }

// Close releases the idempotency cache.
func (c *DeterministicCore) Close() error {
	return c.idempotency.Close()
}
