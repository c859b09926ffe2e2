package txn_test

import (
	"errors"
	"testing"

	"LendLedger/internal/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestAtomic_CommitKeepsWrites(t *testing.T) {
	log := txn.NewLog()
	m := txn.NewMap[string, int](log)
	c := txn.NewCell(log, 1)

	err := log.Atomic(func() error {
		m.Set("a", 10)
		c.Set(2)
		return nil
	})
	require.NoError(t, err)

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Get())
	assert.False(t, log.Active())
}

func TestAtomic_RollbackRestoresEverything(t *testing.T) {
	log := txn.NewLog()
	m := txn.NewMap[string, int](log)
	c := txn.NewCell(log, 1)
	l := txn.NewList[string](log)

	m.Set("keep", 1) // outside a scope: permanent
	l.Append("before")

	err := log.Atomic(func() error {
		m.Set("keep", 2)
		m.Set("new", 3)
		m.Delete("keep")
		c.Set(5)
		l.Append("during")
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, 1, m.Value("keep"))
	_, ok := m.Get("new")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Get())
	assert.Equal(t, []string{"before"}, l.Items())
}

func TestAtomic_NestedErrorUnwindsOutermost(t *testing.T) {
	log := txn.NewLog()
	c := txn.NewCell(log, 0)

	err := log.Atomic(func() error {
		c.Set(1)
		return log.Atomic(func() error {
			c.Set(2)
			return errBoom
		})
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, c.Get())
}

func TestAtomic_NestedErrorSwallowedKeepsOuterWrites(t *testing.T) {
	log := txn.NewLog()
	c := txn.NewCell(log, 0)
	other := txn.NewCell(log, "x")

	err := log.Atomic(func() error {
		c.Set(1)
		_ = log.Atomic(func() error {
			other.Set("y")
			return errBoom
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Get())
	assert.Equal(t, "x", other.Get())
}

func TestAtomic_PanicRollsBack(t *testing.T) {
	log := txn.NewLog()
	c := txn.NewCell(log, 0)

	assert.Panics(t, func() {
		_ = log.Atomic(func() error {
			c.Set(9)
			panic("fatal")
		})
	})
	assert.Equal(t, 0, c.Get())
	assert.False(t, log.Active())
}

func TestSortedKeysAndSnapshot(t *testing.T) {
	log := txn.NewLog()
	m := txn.NewMap[int64, string](log)
	m.Set(3, "c")
	m.Set(1, "a")
	m.Set(2, "b")

	assert.Equal(t, []int64{1, 2, 3}, txn.SortedKeys(m))

	snap := m.Snapshot()
	restored := txn.NewMap[int64, string](log)
	restored.Restore(snap)
	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, "b", restored.Value(2))
}
