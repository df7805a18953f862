package optimize

import "fmt"

// refTracker counts, per selector, how many mounted readers depend on it.
// Entries are removed entirely when their count reaches zero.
type refTracker struct {
	counts map[any]int
}

func newRefTracker() *refTracker {
	return &refTracker{counts: map[any]int{}}
}

func (t *refTracker) increment(key any) int {
	t.counts[key]++
	return t.counts[key]
}

func (t *refTracker) decrement(key any) int {
	n, ok := t.counts[key]
	if !ok {
		panic(fmt.Sprintf("optimize: decrement of untracked selector %v", key))
	}
	n--
	if n == 0 {
		delete(t.counts, key)
		return 0
	}
	t.counts[key] = n
	return n
}

func (t *refTracker) len() int {
	return len(t.counts)
}
