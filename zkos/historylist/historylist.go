// Package historylist implements the universal rollback primitive shared
// by every snapshotted cache in the engine: storage, transient storage,
// events, messages, and account properties. It is a singly linked,
// pool-backed chain of (snapshotID, value) nodes indexed by a
// monotonically increasing snapshot-id counter. Grounded on the
// warm/cold-with-revert shape of core/state/access_events.go, generalized
// per spec §9 into one reusable primitive that the five caches build on.
package historylist

// node is one history entry. Nodes are pooled: once rolled back, a node is
// recycled onto the free list for future allocations rather than
// discarded, so steady-state operation never touches the allocator.
type node[T any] struct {
	snapshotID int
	value      T
	prev       *node[T]
}

// List is a rollback-capable history of values for a single key. The
// current value is the head of the chain; rollback walks the chain
// discarding nodes whose snapshot id is newer than the target.
type List[T any] struct {
	head *node[T]
	pool *Pool[T]
}

// Pool is a shared free-list of nodes, amortizing allocation across every
// List that shares it (e.g. every key in one StorageCache).
type Pool[T any] struct {
	free *node[T]
}

// NewPool constructs an empty node pool.
func NewPool[T any]() *Pool[T] { return &Pool[T]{} }

func (p *Pool[T]) get(snapshotID int, value T, prev *node[T]) *node[T] {
	if p.free == nil {
		return &node[T]{snapshotID: snapshotID, value: value, prev: prev}
	}
	n := p.free
	p.free = n.prev
	n.snapshotID = snapshotID
	n.value = value
	n.prev = prev
	return n
}

func (p *Pool[T]) recycle(n *node[T]) {
	n.prev = p.free
	var zero T
	n.value = zero
	p.free = n
}

// New constructs an empty List backed by pool.
func New[T any](pool *Pool[T]) *List[T] { return &List[T]{pool: pool} }

// NewWithInitial constructs a List whose first entry is value at
// snapshotID.
func NewWithInitial[T any](pool *Pool[T], snapshotID int, value T) *List[T] {
	l := &List[T]{pool: pool}
	l.Push(snapshotID, value)
	return l
}

// Current returns the current (head) value and whether the list is
// non-empty.
func (l *List[T]) Current() (T, bool) {
	if l.head == nil {
		var zero T
		return zero, false
	}
	return l.head.value, true
}

// Push records a new current value at the given snapshot id.
func (l *List[T]) Push(snapshotID int, value T) {
	l.head = l.pool.get(snapshotID, value, l.head)
}

// Rollback restores the current value to the entry whose snapshot id is
// the highest <= target, discarding (and recycling) every node newer than
// target. Returns the restored value and whether any entry now remains.
func (l *List[T]) Rollback(target int) (T, bool) {
	for l.head != nil && l.head.snapshotID > target {
		discarded := l.head
		l.head = l.head.prev
		l.pool.recycle(discarded)
	}
	return l.Current()
}

// Len reports the number of live entries (for tests/diagnostics only; not
// on any hot path).
func (l *List[T]) Len() int {
	n := 0
	for c := l.head; c != nil; c = c.prev {
		n++
	}
	return n
}
