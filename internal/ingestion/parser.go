package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ratecurve"

	"github.com/google/uuid"
)

var ErrMissingRequestID = errors.New("ingestion: missing request_id")

type parseFunc func(data []byte) (event.Event, error)

var parsers = map[string]parseFunc{
	"AccountRegistered":    parseAccountRegistered,
	"CallerAuthorization":  parseCallerAuthorization,
	"BatchRouterUpdate":    parseBatchRouterUpdate,
	"WalletDeposit":        parseWalletDeposit,
	"WalletWithdrawal":     parseWalletWithdrawal,
	"RewardsAccrued":       parseRewardsAccrued,
	"LockCreated":          parseLockCreated,
	"VaultDeposit":         parseVaultDeposit,
	"VaultRedeem":          parseVaultRedeem,
	"CollateralDeposit":    parseCollateralDeposit,
	"CollateralWithdrawal": parseCollateralWithdrawal,
	"BorrowRequest":        parseBorrowRequest,
	"DebtRepayment":        parseDebtRepayment,
	"YieldClaim":           parseYieldClaim,
	"RewardsProcess":       parseRewardsProcess,
	"RewardRouteUpdate":    parseRewardRouteUpdate,
	"BatchRequest":         parseBatchRequest,
	"SettlementRequest":    parseSettlementRequest,
	"CollateralRefresh":    parseCollateralRefresh,
	"VaultAdmin":           parseVaultAdmin,
	"RateCurveUpdate":      parseRateCurveUpdate,
	"RiskParamUpdate":      parseRiskParamUpdate,
	"WalletApproval":       parseWalletApproval,
}

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. Only structure is checked here; amounts and
// authorization are judged by the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	parse, ok := parsers[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	return parse(raw.Data)
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Timestamps are
// unix microseconds.

type headerJSON struct {
	RequestID   uuid.UUID `json:"request_id"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

func decode(name string, data []byte, dst interface{}, hdr *headerJSON) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if hdr.RequestID == uuid.Nil {
		return fmt.Errorf("parse %s: %w", name, ErrMissingRequestID)
	}
	return nil
}

type callJSON struct {
	headerJSON
	Account uuid.UUID `json:"account"`
	Caller  uuid.UUID `json:"caller"`
}

func (j *callJSON) call() event.AccountCall {
	return event.AccountCall{
		RequestID: j.RequestID,
		Account:   j.Account,
		Caller:    j.Caller,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}
}

func parseCall(name string, data []byte, extra interface{}) (*callJSON, error) {
	var j callJSON
	if err := decode(name, data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	if j.Account == uuid.Nil {
		return nil, fmt.Errorf("parse %s: missing account", name)
	}
	if extra != nil {
		if err := json.Unmarshal(data, extra); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return &j, nil
}

// --- account registry ---

type accountRegisteredJSON struct {
	headerJSON
	Account uuid.UUID `json:"account"`
	Owner   uuid.UUID `json:"owner"`
}

func parseAccountRegistered(data []byte) (event.Event, error) {
	var j accountRegisteredJSON
	if err := decode("AccountRegistered", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.AccountRegistered{
		RequestID: j.RequestID,
		Account:   j.Account,
		Owner:     j.Owner,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type callerAuthorizationJSON struct {
	headerJSON
	Account uuid.UUID `json:"account"`
	Actor   uuid.UUID `json:"actor"`
	Caller  uuid.UUID `json:"caller"`
	Revoke  bool      `json:"revoke"`
}

func parseCallerAuthorization(data []byte) (event.Event, error) {
	var j callerAuthorizationJSON
	if err := decode("CallerAuthorization", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.CallerAuthorization{
		RequestID: j.RequestID,
		Account:   j.Account,
		Actor:     j.Actor,
		Caller:    j.Caller,
		Revoke:    j.Revoke,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type batchRouterJSON struct {
	headerJSON
	Router  uuid.UUID `json:"router"`
	Enabled bool      `json:"enabled"`
}

func parseBatchRouterUpdate(data []byte) (event.Event, error) {
	var j batchRouterJSON
	if err := decode("BatchRouterUpdate", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.BatchRouterUpdate{
		RequestID: j.RequestID,
		Router:    j.Router,
		Enabled:   j.Enabled,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

// --- wallets and locks ---

type walletJSON struct {
	headerJSON
	Owner  uuid.UUID `json:"owner"`
	Amount int64     `json:"amount"`
}

func parseWalletDeposit(data []byte) (event.Event, error) {
	var j walletJSON
	if err := decode("WalletDeposit", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.WalletDeposit{
		RequestID: j.RequestID,
		Owner:     j.Owner,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

func parseWalletWithdrawal(data []byte) (event.Event, error) {
	var j walletJSON
	if err := decode("WalletWithdrawal", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.WalletWithdrawal{
		RequestID: j.RequestID,
		Owner:     j.Owner,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type walletApprovalJSON struct {
	headerJSON
	Owner   uuid.UUID `json:"owner"`
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

func parseWalletApproval(data []byte) (event.Event, error) {
	var j walletApprovalJSON
	if err := decode("WalletApproval", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.WalletApproval{
		RequestID: j.RequestID,
		Owner:     j.Owner,
		Account:   j.Account,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type rewardsAccruedJSON struct {
	headerJSON
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

func parseRewardsAccrued(data []byte) (event.Event, error) {
	var j rewardsAccruedJSON
	if err := decode("RewardsAccrued", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.RewardsAccrued{
		RequestID: j.RequestID,
		Account:   j.Account,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type lockCreatedJSON struct {
	headerJSON
	LockID   int64     `json:"lock_id"`
	Owner    uuid.UUID `json:"owner"`
	Amount   int64     `json:"amount"`
	UnlockAt int64     `json:"unlock_at"`
}

func parseLockCreated(data []byte) (event.Event, error) {
	var j lockCreatedJSON
	if err := decode("LockCreated", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.LockCreated{
		RequestID: j.RequestID,
		LockID:    j.LockID,
		Owner:     j.Owner,
		Amount:    j.Amount,
		UnlockAt:  j.UnlockAt,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

// --- vault ---

type vaultFlowJSON struct {
	headerJSON
	Lender uuid.UUID `json:"lender"`
	Assets int64     `json:"assets"`
	Shares int64     `json:"shares"`
}

func parseVaultDeposit(data []byte) (event.Event, error) {
	var j vaultFlowJSON
	if err := decode("VaultDeposit", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.VaultDeposit{
		RequestID: j.RequestID,
		Lender:    j.Lender,
		Assets:    j.Assets,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

func parseVaultRedeem(data []byte) (event.Event, error) {
	var j vaultFlowJSON
	if err := decode("VaultRedeem", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.VaultRedeem{
		RequestID: j.RequestID,
		Lender:    j.Lender,
		Shares:    j.Shares,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type vaultAdminJSON struct {
	headerJSON
	Action string `json:"action"`
}

func parseVaultAdmin(data []byte) (event.Event, error) {
	var j vaultAdminJSON
	if err := decode("VaultAdmin", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	action := event.AdminAction(j.Action)
	if action != event.AdminActionPause && action != event.AdminActionUnpause {
		return nil, fmt.Errorf("parse VaultAdmin: unknown action %q", j.Action)
	}
	return &event.VaultAdmin{
		RequestID: j.RequestID,
		Action:    action,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type rateCurveJSON struct {
	headerJSON
	Curve ratecurve.Spec `json:"curve"`
}

func parseRateCurveUpdate(data []byte) (event.Event, error) {
	var j rateCurveJSON
	if err := decode("RateCurveUpdate", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.RateCurveUpdate{
		RequestID: j.RequestID,
		Curve:     j.Curve,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type riskParamJSON struct {
	headerJSON
	LTVBps            int64 `json:"ltv_bps"`
	ProtocolFeeBps    int64 `json:"protocol_fee_bps"`
	RewardRouteFeeBps int64 `json:"reward_route_fee_bps"`
	OriginationFeeBps int64 `json:"origination_fee_bps"`
}

func parseRiskParamUpdate(data []byte) (event.Event, error) {
	var j riskParamJSON
	if err := decode("RiskParamUpdate", data, &j, &j.headerJSON); err != nil {
		return nil, err
	}
	return &event.RiskParamUpdate{
		RequestID:         j.RequestID,
		LTVBps:            j.LTVBps,
		ProtocolFeeBps:    j.ProtocolFeeBps,
		RewardRouteFeeBps: j.RewardRouteFeeBps,
		OriginationFeeBps: j.OriginationFeeBps,
		Sequence:          j.Sequence,
		Timestamp:         j.TimestampUs,
	}, nil
}

// --- lending facet calls ---

type collateralJSON struct {
	Kind     string `json:"kind"`
	Quantity int64  `json:"quantity"`
}

func parseCollateralDeposit(data []byte) (event.Event, error) {
	var x collateralJSON
	j, err := parseCall("CollateralDeposit", data, &x)
	if err != nil {
		return nil, err
	}
	return &event.CollateralDeposit{AccountCall: j.call(), Kind: x.Kind, Quantity: x.Quantity}, nil
}

func parseCollateralWithdrawal(data []byte) (event.Event, error) {
	var x collateralJSON
	j, err := parseCall("CollateralWithdrawal", data, &x)
	if err != nil {
		return nil, err
	}
	return &event.CollateralWithdrawal{AccountCall: j.call(), Kind: x.Kind, Quantity: x.Quantity}, nil
}

type amountJSON struct {
	Amount int64 `json:"amount"`
}

func parseBorrowRequest(data []byte) (event.Event, error) {
	var x amountJSON
	j, err := parseCall("BorrowRequest", data, &x)
	if err != nil {
		return nil, err
	}
	return &event.BorrowRequest{AccountCall: j.call(), Amount: x.Amount}, nil
}

func parseDebtRepayment(data []byte) (event.Event, error) {
	var x amountJSON
	j, err := parseCall("DebtRepayment", data, &x)
	if err != nil {
		return nil, err
	}
	return &event.DebtRepayment{AccountCall: j.call(), Amount: x.Amount}, nil
}

func parseRewardsProcess(data []byte) (event.Event, error) {
	var x amountJSON
	j, err := parseCall("RewardsProcess", data, &x)
	if err != nil {
		return nil, err
	}
	return &event.RewardsProcess{AccountCall: j.call(), Amount: x.Amount}, nil
}

func parseYieldClaim(data []byte) (event.Event, error) {
	j, err := parseCall("YieldClaim", data, nil)
	if err != nil {
		return nil, err
	}
	return &event.YieldClaim{AccountCall: j.call()}, nil
}

func parseSettlementRequest(data []byte) (event.Event, error) {
	j, err := parseCall("SettlementRequest", data, nil)
	if err != nil {
		return nil, err
	}
	return &event.SettlementRequest{AccountCall: j.call()}, nil
}

func parseCollateralRefresh(data []byte) (event.Event, error) {
	j, err := parseCall("CollateralRefresh", data, nil)
	if err != nil {
		return nil, err
	}
	return &event.CollateralRefresh{AccountCall: j.call()}, nil
}

type routeJSON struct {
	Route event.RouteSpec `json:"route"`
}

func parseRewardRouteUpdate(data []byte) (event.Event, error) {
	var x routeJSON
	j, err := parseCall("RewardRouteUpdate", data, &x)
	if err != nil {
		return nil, err
	}
	return &event.RewardRouteUpdate{AccountCall: j.call(), Route: x.Route}, nil
}

type batchJSON struct {
	Steps []event.BatchStep `json:"steps"`
}

func parseBatchRequest(data []byte) (event.Event, error) {
	var x batchJSON
	j, err := parseCall("BatchRequest", data, &x)
	if err != nil {
		return nil, err
	}
	if len(x.Steps) == 0 {
		return nil, fmt.Errorf("parse BatchRequest: no steps")
	}
	return &event.BatchRequest{AccountCall: j.call(), Steps: x.Steps}, nil
}
