package draft

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SelectorFunc maps the full state to some observed sub-value.
type SelectorFunc func(state any) any

// Selector is an identity-compared selector function eligible for bit-flag
// optimization. Two selectors computing the same thing are still distinct;
// only the *Selector pointer matters to the optimizer.
type Selector struct {
	name string
	id   uint64
	fn   SelectorFunc
}

// NewSelector tags fn as optimizable. The name is only for diagnostics; the
// id is minted from it so dumps and errors stay stable across runs.
func NewSelector(name string, fn SelectorFunc) *Selector {
	return &Selector{
		name: name,
		id:   xxhash.Sum64String(name),
		fn:   fn,
	}
}

func (sel *Selector) Name() string { return sel.name }

func (sel *Selector) ID() uint64 { return sel.id }

// Select applies the selector to a snapshot.
func (sel *Selector) Select(state any) any { return sel.fn(state) }

func (sel *Selector) String() string {
	return fmt.Sprintf("%s(%016x)", sel.name, sel.id)
}
