package event

import (
	"encoding/json"
	"fmt"
)

var constructors = map[EventType]func() Event{
	EventTypeAccountRegistered:    func() Event { return &AccountRegistered{} },
	EventTypeCallerAuthorization:  func() Event { return &CallerAuthorization{} },
	EventTypeBatchRouterUpdate:    func() Event { return &BatchRouterUpdate{} },
	EventTypeWalletDeposit:        func() Event { return &WalletDeposit{} },
	EventTypeWalletWithdrawal:     func() Event { return &WalletWithdrawal{} },
	EventTypeRewardsAccrued:       func() Event { return &RewardsAccrued{} },
	EventTypeLockCreated:          func() Event { return &LockCreated{} },
	EventTypeVaultDeposit:         func() Event { return &VaultDeposit{} },
	EventTypeVaultRedeem:          func() Event { return &VaultRedeem{} },
	EventTypeCollateralDeposit:    func() Event { return &CollateralDeposit{} },
	EventTypeCollateralWithdrawal: func() Event { return &CollateralWithdrawal{} },
	EventTypeBorrowRequest:        func() Event { return &BorrowRequest{} },
	EventTypeDebtRepayment:        func() Event { return &DebtRepayment{} },
	EventTypeYieldClaim:           func() Event { return &YieldClaim{} },
	EventTypeRewardsProcess:       func() Event { return &RewardsProcess{} },
	EventTypeRewardRouteUpdate:    func() Event { return &RewardRouteUpdate{} },
	EventTypeBatchRequest:         func() Event { return &BatchRequest{} },
	EventTypeSettlementRequest:    func() Event { return &SettlementRequest{} },
	EventTypeCollateralRefresh:    func() Event { return &CollateralRefresh{} },
	EventTypeVaultAdmin:           func() Event { return &VaultAdmin{} },
	EventTypeRateCurveUpdate:      func() Event { return &RateCurveUpdate{} },
	EventTypeRiskParamUpdate:      func() Event { return &RiskParamUpdate{} },
	EventTypeWalletApproval:       func() Event { return &WalletApproval{} },
}

// Decode rebuilds an event from an envelope payload, e.g. during replay.
func Decode(t EventType, payload []byte) (Event, error) {
	ctor, ok := constructors[t]
	if !ok {
		return nil, fmt.Errorf("decode: unknown event type %d", t)
	}
	evt := ctor()
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return evt, nil
}
