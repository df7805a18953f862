package draft

import (
	"errors"
	"fmt"

	"github.com/delaneyj/draftparty/optimize"
	"github.com/google/uuid"
)

// RenderFunc is invoked with the freshly selected values and a mutate handle
// whenever a reader re-renders.
type RenderFunc func(values []any, mutate func(Recipe) error)

// Reader is the per-consumer binding: it references its selectors on
// subscribe, dereferences them symmetrically on Close, and re-renders only
// when a broadcast's change mask intersects the bits it observes.
type Reader struct {
	id        uuid.UUID
	store     *Store
	selectors []*Selector
	render    RenderFunc
	last      []any
	closed    bool
}

// Subscribe registers a reader over one or more selectors and renders it once
// with the current snapshot.
func (s *Store) Subscribe(render RenderFunc, sels ...*Selector) (*Reader, error) {
	if len(sels) == 0 {
		return nil, errors.New("draft: Subscribe requires at least one selector")
	}
	r := &Reader{
		id:        uuid.New(),
		store:     s,
		selectors: sels,
		render:    render,
	}
	for _, sel := range sels {
		s.queue.Reference(sel)
	}
	r.last = r.selectAll(s.current)
	s.readers = append(s.readers, r)
	r.invoke(r.last)
	return r, nil
}

func (r *Reader) ID() uuid.UUID { return r.id }

// Close dereferences the reader's selectors and detaches it from the store.
func (r *Reader) Close() error {
	if r.closed {
		return fmt.Errorf("%w: reader %s", ErrReaderClosed, r.id)
	}
	r.closed = true
	for _, sel := range r.selectors {
		r.store.queue.Dereference(sel)
	}
	rs := r.store.readers
	for i, c := range rs {
		if c == r {
			r.store.readers = append(rs[:i], rs[i+1:]...)
			break
		}
	}
	return nil
}

// Invalidate models a host-driven re-render that bypasses change detection
// entirely, e.g. a parent re-render: the reader re-evaluates and renders with
// the current snapshot unconditionally.
func (r *Reader) Invalidate() {
	if r.closed {
		return
	}
	r.last = r.selectAll(r.store.current)
	r.invoke(r.last)
}

// observedBits is the union of the reader's selectors' current flags. Any
// unoptimized selector contributes the always-dirty sentinel. The broadcaster
// captures it alongside the change mask, before any render runs, so both
// sides of the skip test see the same flag assignment even when a render
// closes a reader and its freed flag is reassigned mid-broadcast.
func (r *Reader) observedBits() uint32 {
	bits := uint32(0)
	for _, sel := range r.selectors {
		bits |= r.store.queue.Bit(sel)
	}
	return bits
}

// receive is one broadcast delivery; observed is this reader's mask as the
// broadcaster captured it. Fast path: no overlap between the change mask and
// the observed bits means no selector of ours can have changed, skip without
// re-evaluating anything. Slow path: re-evaluate and render only when a
// selected value actually differs under the store's equality policy.
func (r *Reader) receive(snapshot any, changedBits, observed uint32) {
	if observed&changedBits == 0 {
		return
	}
	vals := r.selectAll(snapshot)
	changed := false
	for i, v := range vals {
		if !r.store.equals(r.last[i], v) {
			changed = true
			break
		}
	}
	r.last = vals
	if changed {
		r.invoke(vals)
	}
}

func (r *Reader) selectAll(snapshot any) []any {
	vals := make([]any, len(r.selectors))
	for i, sel := range r.selectors {
		vals[i] = sel.Select(snapshot)
	}
	return vals
}

func (r *Reader) invoke(vals []any) {
	if r.render == nil {
		return
	}
	out := make([]any, len(vals))
	copy(out, vals)
	r.render(out, r.store.Mutate)
}

// Optimized reports whether every selector of this reader currently holds an
// assigned flag, i.e. the reader is fully on the bitmask fast path.
func (r *Reader) Optimized() bool {
	for _, sel := range r.selectors {
		if r.store.queue.Bit(sel) == optimize.UnoptimizedBit {
			return false
		}
	}
	return true
}
