package projection_test

import (
	"testing"

	"LendLedger/internal/event"
	"LendLedger/internal/projection"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditFeed_NewestFirstPerAccount(t *testing.T) {
	feed := projection.NewAuditFeed(16)
	a, b := uuid.New(), uuid.New()

	feed.Add(1, []event.AuditRecord{{Kind: event.AuditDebtIncreased, Account: a, Amount: 100}})
	feed.Add(2, []event.AuditRecord{{Kind: event.AuditDebtIncreased, Account: b, Amount: 50}})
	feed.Add(3, []event.AuditRecord{
		{Kind: event.AuditDebtDecreased, Account: a, Amount: 40},
		{Kind: event.AuditFeePaid, Account: a, Amount: 1},
	})

	got := feed.QueryByAccount(a, 10)
	require.Len(t, got, 3)
	assert.Equal(t, event.AuditFeePaid, got[0].Record.Kind)
	assert.Equal(t, int64(3), got[0].Sequence)
	assert.Equal(t, int64(1), got[2].Sequence)

	assert.Len(t, feed.QueryByAccount(a, 2), 2)
	assert.Len(t, feed.QueryByAccount(uuid.Nil, 10), 4)
	assert.Empty(t, feed.QueryByAccount(a, 0))
	assert.Equal(t, 4, feed.Len())
}

func TestAuditFeed_WrapsAtCapacity(t *testing.T) {
	feed := projection.NewAuditFeed(3)
	account := uuid.New()
	for seq := int64(0); seq < 5; seq++ {
		feed.Add(seq, []event.AuditRecord{{Kind: event.AuditVaultDeposit, Account: account, Amount: seq}})
	}

	got := feed.QueryByAccount(account, 10)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{4, 3, 2}, []int64{got[0].Sequence, got[1].Sequence, got[2].Sequence})
	assert.Equal(t, 3, feed.Len())
}

func TestAuditFeed_IgnoresEmptyBatches(t *testing.T) {
	feed := projection.NewAuditFeed(4)
	feed.Add(7, nil)
	assert.Equal(t, 0, feed.Len())
}
