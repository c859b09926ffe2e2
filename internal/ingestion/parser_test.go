package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/ratecurve"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requestID = "550e8400-e29b-41d4-a716-446655440000"
	accountID = "660e8400-e29b-41d4-a716-446655440001"
	callerID  = "770e8400-e29b-41d4-a716-446655440002"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func callPayload(extra map[string]interface{}) map[string]interface{} {
	p := map[string]interface{}{
		"request_id":   requestID,
		"account":      accountID,
		"caller":       callerID,
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func TestParseBorrowRequest(t *testing.T) {
	raw := rawFromJSON(t, callPayload(map[string]interface{}{"amount": int64(790)}))
	evt, err := ingestion.ParseRawEvent(raw, "BorrowRequest")
	require.NoError(t, err)

	br, ok := evt.(*event.BorrowRequest)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, int64(790), br.Amount)
	assert.Equal(t, uuid.MustParse(accountID), br.Account)
	assert.Equal(t, uuid.MustParse(callerID), br.Caller)
	assert.Equal(t, int64(42), br.SourceSequence())
	assert.Equal(t, int64(1700000000000000), br.OccurredAt())
	assert.Equal(t, requestID, br.IdempotencyKey())
	assert.Equal(t, "account:"+accountID, br.PartitionKey())
}

func TestParseCollateralDeposit(t *testing.T) {
	raw := rawFromJSON(t, callPayload(map[string]interface{}{"kind": "lock", "quantity": int64(7)}))
	evt, err := ingestion.ParseRawEvent(raw, "CollateralDeposit")
	require.NoError(t, err)

	cd := evt.(*event.CollateralDeposit)
	assert.Equal(t, event.CollateralKindLock, cd.Kind)
	assert.Equal(t, int64(7), cd.Quantity)
}

func TestParseBatchRequest(t *testing.T) {
	raw := rawFromJSON(t, callPayload(map[string]interface{}{
		"steps": []map[string]interface{}{
			{"op": "remove_collateral", "kind": "shares", "quantity": 100},
			{"op": "borrow", "amount": 50},
		},
	}))
	evt, err := ingestion.ParseRawEvent(raw, "BatchRequest")
	require.NoError(t, err)

	br := evt.(*event.BatchRequest)
	require.Len(t, br.Steps, 2)
	assert.Equal(t, event.StepRemoveCollateral, br.Steps[0].Op)
	assert.Equal(t, int64(100), br.Steps[0].Quantity)
	assert.Equal(t, int64(50), br.Steps[1].Amount)
}

func TestParseBatchRequest_NoSteps(t *testing.T) {
	raw := rawFromJSON(t, callPayload(nil))
	_, err := ingestion.ParseRawEvent(raw, "BatchRequest")
	assert.Error(t, err)
}

func TestParseRewardRouteUpdate(t *testing.T) {
	raw := rawFromJSON(t, callPayload(map[string]interface{}{
		"route": map[string]interface{}{"kind": "pay_to_recipient", "recipient": callerID},
	}))
	evt, err := ingestion.ParseRawEvent(raw, "RewardRouteUpdate")
	require.NoError(t, err)

	ru := evt.(*event.RewardRouteUpdate)
	assert.Equal(t, event.RouteKindPayToRecipient, ru.Route.Kind)
	assert.Equal(t, uuid.MustParse(callerID), ru.Route.Recipient)
}

func TestParseVaultDepositAndRedeem(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": requestID,
		"lender":     accountID,
		"assets":     int64(1000),
		"shares":     int64(250),
		"sequence":   int64(3),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "VaultDeposit")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), evt.(*event.VaultDeposit).Assets)
	assert.Equal(t, event.GlobalPartition, evt.PartitionKey())

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, payload), "VaultRedeem")
	require.NoError(t, err)
	assert.Equal(t, int64(250), evt.(*event.VaultRedeem).Shares)
}

func TestParseWalletApproval(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"request_id": requestID,
		"owner":      callerID,
		"account":    accountID,
		"amount":     int64(300),
		"sequence":   int64(7),
	})
	evt, err := ingestion.ParseRawEvent(raw, "WalletApproval")
	require.NoError(t, err)

	wa, ok := evt.(*event.WalletApproval)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, uuid.MustParse(callerID), wa.Owner)
	assert.Equal(t, uuid.MustParse(accountID), wa.Account)
	assert.Equal(t, int64(300), wa.Amount)
	assert.Equal(t, event.GlobalPartition, evt.PartitionKey())
}

func TestParseRateCurveUpdate(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"request_id": requestID,
		"curve": map[string]interface{}{
			"kind":   "piecewise_linear",
			"points": []map[string]int64{{"utilization_bps": 0, "rate_bps": 500}, {"utilization_bps": 10000, "rate_bps": 9500}},
		},
	})
	evt, err := ingestion.ParseRawEvent(raw, "RateCurveUpdate")
	require.NoError(t, err)

	spec := evt.(*event.RateCurveUpdate).Curve
	assert.Equal(t, ratecurve.KindPiecewiseLinear, spec.Kind)
	assert.Len(t, spec.Points, 2)
}

func TestParseVaultAdmin_UnknownAction(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{"request_id": requestID, "action": "explode"})
	_, err := ingestion.ParseRawEvent(raw, "VaultAdmin")
	assert.Error(t, err)
}

func TestParseMissingRequestID(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{"owner": accountID, "amount": 5})
	_, err := ingestion.ParseRawEvent(raw, "WalletDeposit")
	assert.ErrorIs(t, err, ingestion.ErrMissingRequestID)
}

func TestParseAccountCallWithoutAccount(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{"request_id": requestID, "amount": 5})
	_, err := ingestion.ParseRawEvent(raw, "DebtRepayment")
	assert.Error(t, err)
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	_, err := ingestion.ParseRawEvent(raw, "TradeFill")
	assert.Error(t, err)
}

func TestParseInvalidJSON(t *testing.T) {
	raw := ingestion.RawEvent{Subject: "test", Data: []byte("{invalid")}
	_, err := ingestion.ParseRawEvent(raw, "BorrowRequest")
	assert.Error(t, err)
}

func TestDefaultSubjectsCoverEveryParser(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	require.Len(t, subjects, 23)
	for _, s := range subjects {
		_, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: []byte("{")}, s.EventType)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "unknown event type", s.EventType)
		assert.Equal(t, "lend.commands."+s.EventType+".>", s.Subject)
	}
}
