// Package bloom implements the exact-match set: a fixed-size Bloom filter with
// Kirsch-Mitzenmacher double hashing and lock-free concurrent insertion.
//
// A Bloom filter answers "definitely not present" or "probably present". It
// never reports a false negative for an inserted item, and its false positive
// rate is governed by the sizing chosen at construction.
//
// Sizing
// ======
//
// For an expected capacity n and target false positive rate p the filter
// allocates
//
//	m = ceil(-n * ln(p) / ln(2)^2)   bits
//	k = round((m / n) * ln(2))       probes
//
// Both are fixed for the lifetime of the filter. Capacity is a sizing hint,
// not a limit: inserting past n is allowed and simply raises the observed
// false positive rate.
//
// Probing
// =======
//
// Each item is hashed once by two independent families (see hashkit) into a
// base pair (h1, h2), and the k probe positions are
//
//	pos_i = (h1 + i*h2) mod m,  i = 0..k-1
//
// which matches k independent hashes asymptotically [1].
//
//	[1] A. Kirsch, M. Mitzenmacher. "Less Hashing, Same Performance:
//	    Building a Better Bloom Filter".
//
// Concurrency
// ===========
//
// Bits only move from 0 to 1, and every write is an atomic OR on a 64-bit
// word. Insert, Contains and Merge may therefore run concurrently without a
// lock. A Contains racing with an Insert of the same item may return either
// answer; once Insert returns, every later Contains returns true.
//
// Data Layout
// ===========
//
// MarshalBinary produces a 48-byte header followed by the bit words:
//
//	+--------+--------+--------+--------+--------+--------+------------------+
//	| Magic  | m      | k      | Seed1  | Seed2  | Count  | Word 0 .. Word N |
//	+--------+--------+--------+--------+--------+--------+------------------+
//	  8B       8B       8B       8B       8B       8B       8B each
package bloom

import (
	"sync/atomic"

	"kaka.lopezb.com/internal/kaka/hashkit"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

const (
	DefaultCapacity  = 1_000_000
	DefaultErrorRate = 0.01
)

// Config holds the construction parameters of a filter.
type Config struct {
	// Capacity is the expected number of distinct items.
	Capacity uint64

	// ErrorRate is the target false positive rate, strictly between 0 and 1.
	ErrorRate float64

	// Hasher selects the hash seeds. The zero value means DefaultHasher.
	// Filters can only be merged when their seeds match.
	Hasher hashkit.Hasher
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:  DefaultCapacity,
		ErrorRate: DefaultErrorRate,
		Hasher:    hashkit.DefaultHasher,
	}
}

// Filter is a fixed-size Bloom filter. The zero value is not usable; build one
// with New, NewWithConfig, NewWithParams or FromSnapshot.
type Filter struct {
	bits   *BitArray
	m      uint64
	k      uint32
	hasher hashkit.Hasher
	count  atomic.Uint64
}

// New returns a filter sized for capacity items at false positive rate p.
func New(capacity uint64, p float64) (*Filter, error) {
	return NewWithConfig(Config{Capacity: capacity, ErrorRate: p})
}

// NewWithConfig validates cfg and returns a filter sized from it.
func NewWithConfig(cfg Config) (*Filter, error) {
	if cfg.Capacity == 0 {
		return nil, kakaerr.Config("bloom: capacity must be > 0")
	}
	if !(cfg.ErrorRate > 0 && cfg.ErrorRate < 1) {
		return nil, kakaerr.Config("bloom: error rate %v outside (0, 1)", cfg.ErrorRate)
	}
	m, k := EstimateParameters(cfg.Capacity, cfg.ErrorRate)
	return NewWithParams(m, k, cfg.Hasher)
}

// NewWithParams returns a filter with explicit geometry. It is used to rebuild
// a filter whose parameters came from elsewhere, such as a peer's snapshot.
func NewWithParams(m uint64, k uint32, h hashkit.Hasher) (*Filter, error) {
	if m == 0 || k == 0 {
		return nil, kakaerr.Config("bloom: m=%d k=%d must both be > 0", m, k)
	}
	if h == (hashkit.Hasher{}) {
		h = hashkit.DefaultHasher
	}
	return &Filter{bits: NewBitArray(m), m: m, k: k, hasher: h}, nil
}

// M returns the number of bits.
func (f *Filter) M() uint64 { return f.m }

// K returns the number of probes per item.
func (f *Filter) K() uint32 { return f.k }

// Hasher returns the seeds in use.
func (f *Filter) Hasher() hashkit.Hasher { return f.hasher }

// Count returns the number of insertions that set at least one new bit. It
// approximates the number of distinct items and is exact until the first
// false positive on insert.
func (f *Filter) Count() uint64 { return f.count.Load() }

// Insert adds item and reports whether any bit changed. A false return means
// the item was already present or is a false positive.
func (f *Filter) Insert(item []byte) bool {
	h1, h2 := f.hasher.Pair(item)
	return f.InsertHash(h1, h2)
}

// InsertString is Insert without the caller having to convert.
func (f *Filter) InsertString(item string) bool {
	return f.Insert([]byte(item))
}

// InsertHash adds an item by its precomputed base hashes.
func (f *Filter) InsertHash(h1, h2 uint64) bool {
	changed := false
	m := f.m
	for i := uint64(0); i < uint64(f.k); i++ {
		if f.bits.Set((h1 + i*h2) % m) {
			changed = true
		}
	}
	if changed {
		f.count.Add(1)
	}
	return changed
}

// Contains reports whether item may have been inserted. It never returns false
// for an inserted item.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := f.hasher.Pair(item)
	return f.ContainsHash(h1, h2)
}

// ContainsString is Contains for strings.
func (f *Filter) ContainsString(item string) bool {
	return f.Contains([]byte(item))
}

// ContainsHash checks an item by its precomputed base hashes.
func (f *Filter) ContainsHash(h1, h2 uint64) bool {
	m := f.m
	for i := uint64(0); i < uint64(f.k); i++ {
		if !f.bits.Get((h1 + i*h2) % m) {
			return false
		}
	}
	return true
}

// FillRatio returns the fraction of bits set.
func (f *Filter) FillRatio() float64 {
	return float64(f.bits.OnesCount()) / float64(f.m)
}

// EstimatedFalsePositiveRate returns the expected false positive rate given
// the current insertion count.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	return FalsePositiveRate(f.m, f.k, f.Count())
}

// MemoryBytes returns the size of the bit store.
func (f *Filter) MemoryBytes() uint64 {
	return wordsFor(f.m) * 8
}
