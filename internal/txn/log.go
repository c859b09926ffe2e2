// Package txn gives the accounting core all-or-nothing operations.
//
// Every mutable container in the core (Map, Cell, List) records an undo
// closure on its Log while a scope is open. The outermost Atomic scope
// discards the undo entries on success and replays them in reverse on error.
package txn

// Log is an undo journal. It is not safe for concurrent use; the core that
// owns it is single-threaded.
type Log struct {
	undo  []func()
	depth int
}

func NewLog() *Log {
	return &Log{}
}

// Active reports whether an Atomic scope is open.
func (l *Log) Active() bool {
	return l.depth > 0
}

// Atomic runs fn inside a scope. Nested calls join the enclosing scope, so an
// error anywhere rolls back the outermost operation.
func (l *Log) Atomic(fn func() error) (err error) {
	l.depth++
	mark := len(l.undo)
	completed := false

	defer func() {
		l.depth--
		if !completed || err != nil {
			// a panic or an error in a nested scope still unwinds only that
			// scope's entries; the caller decides whether to keep going
			l.rollbackTo(mark)
		}
		if l.depth == 0 {
			l.undo = l.undo[:0]
		}
	}()

	err = fn()
	completed = true
	return err
}

func (l *Log) record(fn func()) {
	if l == nil || l.depth == 0 {
		return
	}
	l.undo = append(l.undo, fn)
}

func (l *Log) rollbackTo(mark int) {
	for i := len(l.undo) - 1; i >= mark; i-- {
		l.undo[i]()
		l.undo[i] = nil
	}
	l.undo = l.undo[:mark]
}
