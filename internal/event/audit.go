package event

import (
	"fmt"

	"github.com/google/uuid"
)

// AuditKind classifies an audit record
type AuditKind int32

const (
	AuditUnknown AuditKind = iota
	AuditCollateralAdded
	AuditCollateralRemoved
	AuditDebtIncreased
	AuditDebtDecreased
	AuditYieldClaimed
	AuditFeePaid
	AuditRewardsProcessed
	AuditRewardsDeposited
	AuditRewardsSettled
	AuditVaultDeposit
	AuditVaultWithdraw
	AuditRewardRouteSet
	AuditCollateralRefreshed
)

var auditKindNames = map[AuditKind]string{
	AuditCollateralAdded:     "collateral_added",
	AuditCollateralRemoved:   "collateral_removed",
	AuditDebtIncreased:       "debt_increased",
	AuditDebtDecreased:       "debt_decreased",
	AuditYieldClaimed:        "yield_claimed",
	AuditFeePaid:             "fee_paid",
	AuditRewardsProcessed:    "rewards_processed",
	AuditRewardsDeposited:    "rewards_deposited",
	AuditRewardsSettled:      "rewards_settled",
	AuditVaultDeposit:        "vault_deposit",
	AuditVaultWithdraw:       "vault_withdraw",
	AuditRewardRouteSet:      "reward_route_set",
	AuditCollateralRefreshed: "collateral_refreshed",
}

func (k AuditKind) String() string {
	if name, ok := auditKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k AuditKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *AuditKind) UnmarshalText(b []byte) error {
	for kind, name := range auditKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown audit kind %q", string(b))
}

// AuditRecord is one entry of the append-only audit trail. Every
// state-changing call emits at least one; amounts and epoch attribution are
// the contract, the encoding is not.
type AuditRecord struct {
	Kind                AuditKind `json:"kind"`
	Account             uuid.UUID `json:"account"`
	Epoch               int64     `json:"epoch"`
	Amount              int64     `json:"amount"`
	Fee                 int64     `json:"fee,omitempty"`
	Net                 int64     `json:"net,omitempty"`
	Excess              int64     `json:"excess,omitempty"`
	RateBps             int64     `json:"rate_bps,omitempty"`
	OverSupplied        int64     `json:"over_supplied,omitempty"`
	Undercollateralized int64     `json:"undercollateralized,omitempty"`
	Collateral          string    `json:"collateral,omitempty"`
	Quantity            int64     `json:"quantity,omitempty"`
	Route               string    `json:"route,omitempty"`
	Counterparty        uuid.UUID `json:"counterparty"`
}

// Recorder receives audit records as they are produced.
type Recorder interface {
	Record(AuditRecord)
}

// NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) Record(AuditRecord) {}

// SliceRecorder keeps records in memory. Handy in tests.
type SliceRecorder struct {
	Records []AuditRecord
}

func (r *SliceRecorder) Record(rec AuditRecord) {
	r.Records = append(r.Records, rec)
}

// OfKind filters recorded entries by kind.
func (r *SliceRecorder) OfKind(kind AuditKind) []AuditRecord {
	var out []AuditRecord
	for _, rec := range r.Records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}
