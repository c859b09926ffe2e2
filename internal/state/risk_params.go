package state

import (
	"fmt"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/txn"
)

// RiskParams are the lending risk parameters, all in basis points
type RiskParams struct {
	// max loan / collateral value
	LTVBps int64 `json:"ltv_bps" toml:"ltv_bps"`
	// taken from claimed yield
	ProtocolFeeBps int64 `json:"protocol_fee_bps" toml:"protocol_fee_bps"`
	// charged on compounding reward routes
	RewardRouteFeeBps int64 `json:"reward_route_fee_bps" toml:"reward_route_fee_bps"`
	// charged by the vault on borrow
	OriginationFeeBps int64 `json:"origination_fee_bps" toml:"origination_fee_bps"`
	// sequence at which params take effect
	EffectiveSeq int64 `json:"effective_seq" toml:"-"`
}

// DefaultRiskParams (MVP)
var DefaultRiskParams = RiskParams{
	LTVBps:            5_000, // 50%
	ProtocolFeeBps:    1_000, // 10% of yield
	RewardRouteFeeBps: 50,    // 0.5%
	OriginationFeeBps: 0,
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// 0 < ltv < 10000, every fee in [0, 10000).
func ValidateRiskParams(params RiskParams) error {
	if params.LTVBps <= 0 || params.LTVBps >= fpmath.BasisPoints {
		return fmt.Errorf("ltv_bps must be in (0, %d), got %d", fpmath.BasisPoints, params.LTVBps)
	}
	fees := []struct {
		name string
		bps  int64
	}{
		{"protocol_fee_bps", params.ProtocolFeeBps},
		{"reward_route_fee_bps", params.RewardRouteFeeBps},
		{"origination_fee_bps", params.OriginationFeeBps},
	}
	for _, f := range fees {
		if f.bps < 0 || f.bps >= fpmath.BasisPoints {
			return fmt.Errorf("%s must be in [0, %d), got %d", f.name, fpmath.BasisPoints, f.bps)
		}
	}
	return nil
}

// RiskParamsManager manages risk parameters
type RiskParamsManager struct {
	params *txn.Cell[RiskParams]
}

func NewRiskParamsManager(log *txn.Log, initial RiskParams) (*RiskParamsManager, error) {
	if err := ValidateRiskParams(initial); err != nil {
		return nil, fmt.Errorf("invalid initial risk params: %w", err)
	}
	return &RiskParamsManager{params: txn.NewCell(log, initial)}, nil
}

func (rpm *RiskParamsManager) Get() RiskParams {
	return rpm.params.Get()
}

func (rpm *RiskParamsManager) UpdateRiskParams(params RiskParams) error {
	if err := ValidateRiskParams(params); err != nil {
		return fmt.Errorf("invalid risk params: %w", err)
	}
	rpm.params.Set(params)
	return nil
}

// Restore replaces the params without recording undo entries.
func (rpm *RiskParamsManager) Restore(params RiskParams) {
	rpm.params.Restore(params)
}
