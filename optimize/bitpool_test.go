package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitPoolHandsOutDistinctSingleBits(t *testing.T) {
	p := newBitPool()
	seen := map[uint32]bool{}
	for i := 0; i < MaxOptimized; i++ {
		bit, ok := p.acquire()
		require.True(t, ok)
		assert.False(t, seen[bit], "bit %#x handed out twice", bit)
		assert.Zero(t, bit&(bit-1), "%#x is not a single bit", bit)
		assert.NotEqual(t, UnoptimizedBit, bit)
		seen[bit] = true
	}
	_, ok := p.acquire()
	assert.False(t, ok)
}

func TestBitPoolConservation(t *testing.T) {
	p := newBitPool()
	a, _ := p.acquire()
	b, _ := p.acquire()
	assert.Equal(t, MaxOptimized, p.available()+p.assigned())

	p.release(a)
	assert.Equal(t, MaxOptimized, p.available()+p.assigned())

	p.release(b)
	assert.Equal(t, MaxOptimized, p.available())
	assert.Zero(t, p.assigned())
}

func TestBitPoolDoubleReleasePanics(t *testing.T) {
	p := newBitPool()
	bit, _ := p.acquire()
	p.release(bit)
	assert.Panics(t, func() {
		p.release(bit)
	})
}

func TestBitPoolReleaseOfUnknownBitPanics(t *testing.T) {
	p := newBitPool()
	assert.Panics(t, func() {
		p.release(1 << 7)
	})
}
