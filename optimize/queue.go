package optimize

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Queue ranks selectors by how many mounted readers reference them and keeps
// the top MaxOptimized of them flagged with a distinct single-bit mask. It is
// an array-backed binary max-heap (1-indexed, slot 0 unused) over reference
// counts, with insertion order as the tie-break so layouts are reproducible.
//
// The optimized window is heap indices 1..MaxOptimized. A selector holds a
// flag iff it occupies the window; the only exception is a selector admitted
// while the pool was momentarily empty, which waits on the overflow queue
// until a flag is reclaimed.
//
// Selectors are opaque identity-compared keys. Queue is not safe for
// concurrent use; the host schedules all operations cooperatively.
type Queue struct {
	heap     []*node
	nodes    map[any]*node
	tracker  *refTracker
	pool     *bitPool
	overflow []*node
	waiting  mapset.Set[*node]
	seq      uint64
}

type node struct {
	key   any
	refs  int
	seq   uint64
	index int // heap slot, 0 while detached
	bit   uint32
}

func NewQueue() *Queue {
	return &Queue{
		heap:    []*node{nil},
		nodes:   map[any]*node{},
		tracker: newRefTracker(),
		pool:    newBitPool(),
		waiting: mapset.NewSet[*node](),
	}
}

// Reference records one more mounted reader for key. A new selector starts at
// count 1 and sifts toward its slot; an existing one only ever rises, since
// its priority is monotonically non-decreasing on this path.
func (q *Queue) Reference(key any) {
	n, ok := q.nodes[key]
	if !ok {
		q.seq++
		n = &node{key: key, seq: q.seq, bit: UnoptimizedBit}
		q.nodes[key] = n
		n.refs = q.tracker.increment(key)
		q.heap = append(q.heap, n)
		q.place(n, len(q.heap)-1)
		q.bubbleUp(n.index)
		return
	}
	n.refs = q.tracker.increment(key)
	q.bubbleUp(n.index)
}

// Dereference records one reader unmount for key. Reaching zero forgets the
// selector entirely and returns any held flag to the pool; otherwise the
// selector only ever sinks. Dereferencing an untracked selector is a
// mismatched mount/unmount pairing in the caller and panics.
func (q *Queue) Dereference(key any) {
	n, ok := q.nodes[key]
	if !ok {
		panic(fmt.Sprintf("optimize: dereference of untracked selector %v", key))
	}
	n.refs = q.tracker.decrement(key)
	if n.refs > 0 {
		q.bubbleDown(n.index)
		return
	}
	delete(q.nodes, key)
	q.removeAt(n.index)
}

// removeAt vacates an arbitrary heap slot by swapping in the last element and
// re-heapifying it in whichever direction it is out of order. The vacated
// node's flag is released only after the heap has settled, so a displaced
// node that crossed into the window during the shuffle is first in line for
// the reclaimed flag.
func (q *Queue) removeAt(i int) {
	last := len(q.heap) - 1
	n := q.heap[i]
	moved := q.heap[last]
	q.heap[last] = nil
	q.heap = q.heap[:last]
	n.index = 0
	if moved != n {
		q.place(moved, i)
		if !q.bubbleUp(i) {
			q.bubbleDown(i)
		}
	}
	if n.bit != UnoptimizedBit {
		q.releaseBit(n)
	} else {
		q.unwait(n)
	}
}

// place writes n into heap slot i and runs the window-boundary bookkeeping.
// Crossing out of the window releases the node's flag; crossing in acquires
// one, or defers to the overflow queue when the pool is empty.
func (q *Queue) place(n *node, i int) {
	prev := n.index
	q.heap[i] = n
	n.index = i

	wasIn := prev >= 1 && prev <= MaxOptimized
	isIn := i >= 1 && i <= MaxOptimized
	switch {
	case isIn && !wasIn:
		q.admit(n)
	case wasIn && !isIn:
		if n.bit != UnoptimizedBit {
			q.releaseBit(n)
		} else {
			q.unwait(n)
		}
	}
}

func (q *Queue) admit(n *node) {
	if n.bit != UnoptimizedBit {
		panic(fmt.Sprintf("optimize: selector %v admitted while already holding flag %#x", n.key, n.bit))
	}
	if bit, ok := q.pool.acquire(); ok {
		n.bit = bit
		return
	}
	q.wait(n)
}

// releaseBit returns n's flag to the pool and immediately tries to promote an
// overflow candidate, so reclaimed capacity is never idle between operations.
func (q *Queue) releaseBit(n *node) {
	if n.bit == UnoptimizedBit {
		panic(fmt.Sprintf("optimize: selector %v evicted from the window without a flag", n.key))
	}
	q.pool.release(n.bit)
	n.bit = UnoptimizedBit
	q.promote()
}

// promote drains overflow candidates in FIFO order until one passes the
// admission check again: still tracked, inside the window, and flagless.
// Candidates that fell out of the window while waiting are discarded.
func (q *Queue) promote() {
	for len(q.overflow) > 0 && q.pool.available() > 0 {
		c := q.overflow[0]
		q.overflow = q.overflow[1:]
		q.waiting.Remove(c)
		if c.index >= 1 && c.index <= MaxOptimized && c.bit == UnoptimizedBit {
			bit, ok := q.pool.acquire()
			if !ok {
				return
			}
			c.bit = bit
			return
		}
	}
}

func (q *Queue) wait(n *node) {
	if !q.waiting.Add(n) {
		return
	}
	q.overflow = append(q.overflow, n)
}

func (q *Queue) unwait(n *node) {
	if !q.waiting.Contains(n) {
		return
	}
	q.waiting.Remove(n)
	for i, c := range q.overflow {
		if c == n {
			q.overflow = append(q.overflow[:i], q.overflow[i+1:]...)
			break
		}
	}
}

func (q *Queue) higher(a, b *node) bool {
	if a.refs != b.refs {
		return a.refs > b.refs
	}
	return a.seq < b.seq
}

// swap exchanges two heap slots. The node moving outward is placed first so
// any flag it gives up is already back in the pool when the inward move asks
// for one.
func (q *Queue) swap(i, j int) {
	if i > j {
		i, j = j, i
	}
	hi, hj := q.heap[i], q.heap[j]
	q.place(hi, j)
	q.place(hj, i)
}

func (q *Queue) bubbleUp(i int) (moved bool) {
	for i > 1 {
		parent := i / 2
		if !q.higher(q.heap[i], q.heap[parent]) {
			break
		}
		q.swap(parent, i)
		i = parent
		moved = true
	}
	return moved
}

func (q *Queue) bubbleDown(i int) (moved bool) {
	for {
		best := 2 * i
		if best >= len(q.heap) {
			break
		}
		if right := best + 1; right < len(q.heap) && q.higher(q.heap[right], q.heap[best]) {
			best = right
		}
		if !q.higher(q.heap[best], q.heap[i]) {
			break
		}
		q.swap(i, best)
		i = best
		moved = true
	}
	return moved
}

// Len is the number of tracked selectors.
func (q *Queue) Len() int {
	return len(q.heap) - 1
}

// Tracked reports whether key currently has at least one reference.
func (q *Queue) Tracked(key any) bool {
	_, ok := q.nodes[key]
	return ok
}

// RefCount returns key's reference count, zero when untracked.
func (q *Queue) RefCount(key any) int {
	if n, ok := q.nodes[key]; ok {
		return n.refs
	}
	return 0
}

// Bit returns key's assigned flag, or UnoptimizedBit when the selector is
// untracked or not currently optimized.
func (q *Queue) Bit(key any) uint32 {
	if n, ok := q.nodes[key]; ok {
		return n.bit
	}
	return UnoptimizedBit
}

// EachOptimized visits every selector currently holding a flag, in heap
// order, so broadcast masks are computed deterministically.
func (q *Queue) EachOptimized(fn func(key any, bit uint32)) {
	for i := 1; i < len(q.heap) && i <= MaxOptimized; i++ {
		if n := q.heap[i]; n.bit != UnoptimizedBit {
			fn(n.key, n.bit)
		}
	}
}

// AvailableBits is the pool's free flag count.
func (q *Queue) AvailableBits() int {
	return q.pool.available()
}

// AssignedBits is the pool's outstanding flag count.
func (q *Queue) AssignedBits() int {
	return q.pool.assigned()
}

// OverflowLen is the number of selectors waiting for a reclaimed flag.
func (q *Queue) OverflowLen() int {
	return len(q.overflow)
}

// Check walks every structural invariant and returns the first violation:
// heap ordering, index bookkeeping, tracker agreement, flag uniqueness, pool
// conservation, and window membership (flag iff inside the window, waiting
// selectors excepted).
func (q *Queue) Check() error {
	if len(q.heap)-1 != len(q.nodes) {
		return fmt.Errorf("heap has %d entries, tracker map has %d", len(q.heap)-1, len(q.nodes))
	}
	if q.tracker.len() != len(q.nodes) {
		return fmt.Errorf("ref tracker has %d entries, node map has %d", q.tracker.len(), len(q.nodes))
	}
	seen := mapset.NewSet[uint32]()
	for i := 1; i < len(q.heap); i++ {
		n := q.heap[i]
		if n.index != i {
			return fmt.Errorf("slot %d holds node indexed %d", i, n.index)
		}
		if n.refs < 1 {
			return fmt.Errorf("slot %d holds selector %v with count %d", i, n.key, n.refs)
		}
		if n.refs != q.tracker.counts[n.key] {
			return fmt.Errorf("selector %v cached count %d disagrees with tracker %d", n.key, n.refs, q.tracker.counts[n.key])
		}
		if i > 1 {
			parent := q.heap[i/2]
			if n.refs > parent.refs {
				return fmt.Errorf("slot %d count %d exceeds parent count %d", i, n.refs, parent.refs)
			}
		}
		inWindow := i <= MaxOptimized
		hasBit := n.bit != UnoptimizedBit
		if hasBit {
			if !inWindow {
				return fmt.Errorf("selector %v holds flag %#x outside the window at slot %d", n.key, n.bit, i)
			}
			if !seen.Add(n.bit) {
				return fmt.Errorf("flag %#x held by more than one selector", n.bit)
			}
			if !q.pool.outstanding.Contains(n.bit) {
				return fmt.Errorf("selector %v holds flag %#x the pool considers free", n.key, n.bit)
			}
		} else if inWindow && !q.waiting.Contains(n) {
			return fmt.Errorf("selector %v inside the window at slot %d with no flag and not waiting", n.key, i)
		}
	}
	if got := seen.Cardinality(); got != q.pool.assigned() {
		return fmt.Errorf("%d flags held by selectors but pool says %d outstanding", got, q.pool.assigned())
	}
	if q.pool.available()+q.pool.assigned() != MaxOptimized {
		return fmt.Errorf("pool conservation broken: %d available + %d assigned", q.pool.available(), q.pool.assigned())
	}
	if len(q.overflow) != q.waiting.Cardinality() {
		return fmt.Errorf("overflow list has %d entries, membership set has %d", len(q.overflow), q.waiting.Cardinality())
	}
	return nil
}

// Dump renders the heap one slot per line for inspection and golden tests.
func (q *Queue) Dump() string {
	var sb strings.Builder
	for i := 1; i < len(q.heap); i++ {
		n := q.heap[i]
		fmt.Fprintf(&sb, "%02d refs=%d bit=0x%08x seq=%d key=%v\n", i, n.refs, n.bit, n.seq, n.key)
	}
	return sb.String()
}
