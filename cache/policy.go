package cache

import "container/list"

// Policy decides which key is evicted when the cache is full.
//
// The cache calls every method while holding its write lock, except Touch
// on policies whose TracksReads returns false, which is never called.
// Implementations therefore need no locking of their own.
type Policy[K comparable] interface {
	// Added records a newly inserted key.
	Added(key K)

	// Updated records a write to an existing key.
	Updated(key K)

	// Touched records a read hit.
	Touched(key K)

	// Removed forgets a key deleted or evicted by the cache.
	Removed(key K)

	// Victim returns the key to evict next without removing it.
	Victim() (K, bool)

	// Keys returns every tracked key, next victim first.
	Keys() []K

	// Reset forgets all keys.
	Reset()

	// TracksReads reports whether Touched changes eviction order.
	TracksReads() bool
}

// PolicyKind names a built-in policy.
type PolicyKind string

const (
	// PolicyFIFO evicts the oldest inserted key. Writes to existing keys
	// and reads do not refresh it.
	PolicyFIFO PolicyKind = "fifo"

	// PolicyLRU evicts the least recently read or written key.
	PolicyLRU PolicyKind = "lru"
)

// order is an insertion-ordered key list shared by the built-in policies.
type order[K comparable] struct {
	ll    *list.List
	index map[K]*list.Element
}

func newOrder[K comparable]() order[K] {
	return order[K]{ll: list.New(), index: make(map[K]*list.Element)}
}

func (o *order[K]) Added(key K) {
	if el, ok := o.index[key]; ok {
		o.ll.MoveToBack(el)
		return
	}
	o.index[key] = o.ll.PushBack(key)
}

func (o *order[K]) Removed(key K) {
	if el, ok := o.index[key]; ok {
		o.ll.Remove(el)
		delete(o.index, key)
	}
}

func (o *order[K]) Victim() (K, bool) {
	front := o.ll.Front()
	if front == nil {
		var zero K
		return zero, false
	}
	return front.Value.(K), true
}

func (o *order[K]) Keys() []K {
	keys := make([]K, 0, o.ll.Len())
	for el := o.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(K))
	}
	return keys
}

func (o *order[K]) Reset() {
	o.ll.Init()
	clear(o.index)
}

func (o *order[K]) refresh(key K) {
	if el, ok := o.index[key]; ok {
		o.ll.MoveToBack(el)
	}
}

// FIFO evicts keys in insertion order.
type FIFO[K comparable] struct {
	order[K]
}

// NewFIFO returns an empty FIFO policy.
func NewFIFO[K comparable]() *FIFO[K] {
	return &FIFO[K]{order: newOrder[K]()}
}

// Updated is a no-op: overwriting a key keeps its original position.
func (p *FIFO[K]) Updated(_ K) {}

// Touched is a no-op.
func (p *FIFO[K]) Touched(_ K) {}

// TracksReads returns false.
func (p *FIFO[K]) TracksReads() bool { return false }

// LRU evicts the least recently used key.
type LRU[K comparable] struct {
	order[K]
}

// NewLRU returns an empty LRU policy.
func NewLRU[K comparable]() *LRU[K] {
	return &LRU[K]{order: newOrder[K]()}
}

// Updated moves key to the most recently used position.
func (p *LRU[K]) Updated(key K) { p.refresh(key) }

// Touched moves key to the most recently used position.
func (p *LRU[K]) Touched(key K) { p.refresh(key) }

// TracksReads returns true.
func (p *LRU[K]) TracksReads() bool { return true }

func newPolicy[K comparable](kind PolicyKind) Policy[K] {
	if kind == PolicyLRU {
		return NewLRU[K]()
	}
	return NewFIFO[K]()
}
