package bloom

import (
	"math/bits"
	"sync/atomic"
)

// BitArray is a fixed-length bit sequence backed by 64-bit words.
//
// Bits only ever move from 0 to 1. Every write is an atomic OR on the owning
// word, so concurrent Set calls never lose updates and readers never observe a
// bit being cleared. The length is fixed at construction.
type BitArray struct {
	words []uint64
	n     uint64
}

// NewBitArray allocates a zeroed array of n bits.
func NewBitArray(n uint64) *BitArray {
	return &BitArray{words: make([]uint64, wordsFor(n)), n: n}
}

func wordsFor(n uint64) uint64 {
	return (n + 63) / 64
}

// Len returns the number of addressable bits.
func (b *BitArray) Len() uint64 { return b.n }

// Set turns on bit i and reports whether it was previously off.
func (b *BitArray) Set(i uint64) bool {
	mask := uint64(1) << (i & 63)
	old := atomic.OrUint64(&b.words[i>>6], mask)
	return old&mask == 0
}

// Get reports whether bit i is on.
func (b *BitArray) Get(i uint64) bool {
	return atomic.LoadUint64(&b.words[i>>6])&(uint64(1)<<(i&63)) != 0
}

// Or folds other into b word by word. Both arrays must have the same length;
// callers check compatibility first.
func (b *BitArray) Or(other []uint64) {
	for i, w := range other {
		if w != 0 {
			atomic.OrUint64(&b.words[i], w)
		}
	}
}

// OnesCount returns the number of set bits.
func (b *BitArray) OnesCount() uint64 {
	var c int
	for i := range b.words {
		c += bits.OnesCount64(atomic.LoadUint64(&b.words[i]))
	}
	return uint64(c)
}

// Words returns a consistent-per-word copy of the backing store.
func (b *BitArray) Words() []uint64 {
	out := make([]uint64, len(b.words))
	for i := range b.words {
		out[i] = atomic.LoadUint64(&b.words[i])
	}
	return out
}

// tailClean reports whether words has no bits set beyond position n.
func tailClean(words []uint64, n uint64) bool {
	rem := n & 63
	if rem == 0 || len(words) == 0 {
		return true
	}
	return words[len(words)-1]>>rem == 0
}
