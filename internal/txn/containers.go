package txn

import (
	"cmp"
	"slices"
)

// Map is a map whose writes are undone when the enclosing scope fails.
type Map[K comparable, V any] struct {
	log *Log
	m   map[K]V
}

func NewMap[K comparable, V any](log *Log) *Map[K, V] {
	return &Map[K, V]{log: log, m: make(map[K]V)}
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

// Value returns the stored value or the zero value.
func (m *Map[K, V]) Value(k K) V {
	return m.m[k]
}

func (m *Map[K, V]) Set(k K, v V) {
	prev, existed := m.m[k]
	m.log.record(func() {
		if existed {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
	m.m[k] = v
}

func (m *Map[K, V]) Delete(k K) {
	prev, existed := m.m[k]
	if !existed {
		return
	}
	m.log.record(func() { m.m[k] = prev })
	delete(m.m, k)
}

func (m *Map[K, V]) Len() int {
	return len(m.m)
}

// Range calls fn for every entry in unspecified order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}

// Snapshot copies the current contents.
func (m *Map[K, V]) Snapshot() map[K]V {
	out := make(map[K]V, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// Restore replaces the contents without recording undo entries.
func (m *Map[K, V]) Restore(src map[K]V) {
	m.m = make(map[K]V, len(src))
	for k, v := range src {
		m.m[k] = v
	}
}

// SortedKeys returns the keys ordered by cmp.
func SortedKeys[K cmp.Ordered, V any](m *Map[K, V]) []K {
	keys := make([]K, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Cell is a single value whose writes are undone when the scope fails.
type Cell[T any] struct {
	log *Log
	v   T
}

func NewCell[T any](log *Log, v T) *Cell[T] {
	return &Cell[T]{log: log, v: v}
}

func (c *Cell[T]) Get() T {
	return c.v
}

func (c *Cell[T]) Set(v T) {
	prev := c.v
	c.log.record(func() { c.v = prev })
	c.v = v
}

// Restore replaces the value without recording an undo entry.
func (c *Cell[T]) Restore(v T) {
	c.v = v
}

// List is an append-only buffer drained by the owner after commit.
type List[T any] struct {
	log   *Log
	items []T
}

func NewList[T any](log *Log) *List[T] {
	return &List[T]{log: log}
}

func (l *List[T]) Append(items ...T) {
	n := len(l.items)
	l.log.record(func() { l.items = l.items[:n] })
	l.items = append(l.items, items...)
}

func (l *List[T]) Len() int {
	return len(l.items)
}

// Items returns the buffered items without clearing them.
func (l *List[T]) Items() []T {
	return l.items
}

// Drain returns the buffered items and clears the buffer. Call it only
// outside an open scope.
func (l *List[T]) Drain() []T {
	out := l.items
	l.items = nil
	return out
}
