package draft

import "github.com/delaneyj/draftparty/optimize"

// The broadcast bridge models the host framework's changed-bits capability:
// a broadcaster may attach a numeric change mask to a published value and the
// delivery layer may skip any reader whose observed mask does not intersect
// it. The store is the broadcaster; Reader.receive is the delivery layer.

// changedBits tests every currently optimized selector against the old and
// new snapshots, ORs in its flag when the selected values differ under the
// equality policy, and always includes the always-dirty sentinel so
// unoptimized readers are re-evaluated unconditionally.
func (s *Store) changedBits(old, next any) uint32 {
	bits := optimize.UnoptimizedBit
	s.queue.EachOptimized(func(key any, bit uint32) {
		sel := key.(*Selector)
		if !s.equals(sel.Select(old), sel.Select(next)) {
			bits |= bit
		}
	})
	return bits
}

// broadcast pushes the new snapshot to every subscribed reader. The reader
// list is copied first since render callbacks may close readers mid-flight.
// Observed masks are captured up front too: a render that closes a reader
// frees its flag, which can be reassigned to a previously unoptimized
// selector whose fresh bit would miss a mask computed under the old
// assignment. Mask and observations must come from the same assignment.
func (s *Store) broadcast(old, next any) {
	bits := s.changedBits(old, next)
	readers := make([]*Reader, len(s.readers))
	copy(readers, s.readers)
	observed := make([]uint32, len(readers))
	for i, r := range readers {
		observed[i] = r.observedBits()
	}
	for i, r := range readers {
		if r.closed {
			continue
		}
		r.receive(next, bits, observed[i])
	}
}
