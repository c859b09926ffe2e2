package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletDeposit JournalType = iota
	JournalTypeWalletWithdrawal
	JournalTypeVaultDeposit
	JournalTypeVaultWithdrawal
	JournalTypeShareMint
	JournalTypeShareBurn
	JournalTypeShareTransfer
	JournalTypeBorrow
	JournalTypeRepay
	JournalTypeFeePayment
	JournalTypeRewardsAccrued
	JournalTypeRewardEscrow
	JournalTypeRewardPremium
	JournalTypeRewardPrincipal
	JournalTypeRewardExcess
	JournalTypeRewardPayout
	JournalTypeLockFunding
	JournalTypeProtocolFee
	JournalTypeAdjustment
)

var journalTypeNames = map[JournalType]string{
	JournalTypeWalletDeposit:    "wallet_deposit",
	JournalTypeWalletWithdrawal: "wallet_withdrawal",
	JournalTypeVaultDeposit:     "vault_deposit",
	JournalTypeVaultWithdrawal:  "vault_withdrawal",
	JournalTypeShareMint:        "share_mint",
	JournalTypeShareBurn:        "share_burn",
	JournalTypeShareTransfer:    "share_transfer",
	JournalTypeBorrow:           "borrow",
	JournalTypeRepay:            "repay",
	JournalTypeFeePayment:       "fee_payment",
	JournalTypeRewardsAccrued:   "rewards_accrued",
	JournalTypeRewardEscrow:     "reward_escrow",
	JournalTypeRewardPremium:    "reward_premium",
	JournalTypeRewardPrincipal:  "reward_principal",
	JournalTypeRewardExcess:     "reward_excess",
	JournalTypeRewardPayout:     "reward_payout",
	JournalTypeLockFunding:      "lock_funding",
	JournalTypeProtocolFee:      "protocol_fee",
	JournalTypeAdjustment:       "adjustment",
}

func (t JournalType) String() string {
	if name, ok := journalTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// journalNamespace derives deterministic batch and journal ids so replaying
// the same event log reproduces byte-identical journals.
var journalNamespace = uuid.MustParse("6f1d7c1e-2b8a-4f0e-9a57-0c3c1f7a9e21")

// NewBatch stamps raw journals produced while applying one event.
func NewBatch(eventRef string, sequence, timestamp int64, journals []Journal) *Batch {
	batchID := uuid.NewSHA1(journalNamespace, []byte(eventRef+":"+strconv.FormatInt(sequence, 10)))

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, len(journals)),
	}
	for i, j := range journals {
		j.JournalID = uuid.NewSHA1(batchID, []byte(strconv.Itoa(i)))
		j.BatchID = batchID
		j.EventRef = eventRef
		j.Sequence = sequence
		j.Timestamp = timestamp
		batch.Journals[i] = j
	}
	return batch
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from credit to debit, so the batch balances by construction.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
