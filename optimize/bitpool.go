package optimize

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	// UnoptimizedBit is the reserved always-dirty flag. Every change mask
	// includes it so readers without an assigned flag are re-evaluated
	// unconditionally. It is never handed out by the pool.
	UnoptimizedBit uint32 = 1 << 0

	// MaxOptimized is the number of grantable flags: bits 1..29 of a 31-bit
	// signed integer space, leaving bit 0 for UnoptimizedBit.
	MaxOptimized = 29
)

// bitPool owns the fixed inventory of single-bit flags. Each flag is held by
// at most one selector at a time; available + outstanding is always
// MaxOptimized.
type bitPool struct {
	free        []uint32
	outstanding mapset.Set[uint32]
}

func newBitPool() *bitPool {
	p := &bitPool{
		free:        make([]uint32, 0, MaxOptimized),
		outstanding: mapset.NewSet[uint32](),
	}
	for i := MaxOptimized; i >= 1; i-- {
		p.free = append(p.free, 1<<uint(i))
	}
	return p
}

func (p *bitPool) acquire() (uint32, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	last := len(p.free) - 1
	bit := p.free[last]
	p.free = p.free[:last]
	p.outstanding.Add(bit)
	return bit, true
}

func (p *bitPool) release(bit uint32) {
	if !p.outstanding.Contains(bit) {
		panic(fmt.Sprintf("optimize: release of flag %#x that is not outstanding", bit))
	}
	p.outstanding.Remove(bit)
	p.free = append(p.free, bit)
}

func (p *bitPool) available() int {
	return len(p.free)
}

func (p *bitPool) assigned() int {
	return p.outstanding.Cardinality()
}
