package facet

import (
	"fmt"

	"LendLedger/internal/event"

	"github.com/google/uuid"
)

// RewardRoute is where an account's processed rewards go. The variants are
// closed: PayToRecipient, IncreaseCollateral, InvestToVault, PayDebt.
type RewardRoute interface {
	Kind() string
	isRewardRoute()
}

// PayToRecipient transfers rewards to Recipient's wallet.
type PayToRecipient struct {
	Recipient uuid.UUID
}

// IncreaseCollateral compounds rewards into the account's collateral.
type IncreaseCollateral struct{}

// InvestToVault deposits rewards into the lending vault for shares held by
// the account, unpledged.
type InvestToVault struct{}

// PayDebt repays debt with rewards through the vault's epoch-vested path.
type PayDebt struct{}

func (PayToRecipient) Kind() string     { return event.RouteKindPayToRecipient }
func (IncreaseCollateral) Kind() string { return event.RouteKindIncreaseCollateral }
func (InvestToVault) Kind() string      { return event.RouteKindInvestToVault }
func (PayDebt) Kind() string            { return event.RouteKindPayDebt }

func (PayToRecipient) isRewardRoute()     {}
func (IncreaseCollateral) isRewardRoute() {}
func (InvestToVault) isRewardRoute()      {}
func (PayDebt) isRewardRoute()            {}

// DefaultRoute pays rewards to the account itself.
func DefaultRoute(account uuid.UUID) RewardRoute {
	return PayToRecipient{Recipient: account}
}

// RouteFromSpec decodes the wire form.
func RouteFromSpec(spec event.RouteSpec) (RewardRoute, error) {
	switch spec.Kind {
	case event.RouteKindPayToRecipient:
		if spec.Recipient == uuid.Nil {
			return nil, fmt.Errorf("%w: pay_to_recipient without recipient", ErrInvalidRoute)
		}
		return PayToRecipient{Recipient: spec.Recipient}, nil
	case event.RouteKindIncreaseCollateral:
		return IncreaseCollateral{}, nil
	case event.RouteKindInvestToVault:
		return InvestToVault{}, nil
	case event.RouteKindPayDebt:
		return PayDebt{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRoute, spec.Kind)
	}
}

// SpecOf encodes a route to its wire form.
func SpecOf(r RewardRoute) event.RouteSpec {
	spec := event.RouteSpec{Kind: r.Kind()}
	if p, ok := r.(PayToRecipient); ok {
		spec.Recipient = p.Recipient
	}
	return spec
}
