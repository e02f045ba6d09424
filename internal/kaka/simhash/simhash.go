// Package simhash computes locality-sensitive content fingerprints.
//
// A SimHash maps a weighted feature set to a fixed-width bit vector such that
// the fraction of agreeing bits between two fingerprints tracks the cosine
// similarity of their feature vectors [1]. Near-duplicate documents therefore
// land at small Hamming distance.
//
// The Algorithm
// =============
//
// For each output bit j the engine keeps a signed accumulator:
//
//	sum_j = sum over features f of  w(f) * sign_j(f)
//
// where sign_j(f) is +1 if bit (j mod 64) of Hash64(f, seed_{j/64}) is set and
// -1 otherwise. Every 64-bit lane of the output draws on its own seed, so wide
// fingerprints do not repeat the same 64 signs. Bit j of the output is 1 iff
// sum_j > 0; ties resolve to 0.
//
// The result is deterministic for a fixed (width, seed) and independent of
// feature order.
//
//	[1] M. Charikar. "Similarity Estimation Techniques from Rounding Algorithms".
package simhash

import (
	"kaka.lopezb.com/internal/kaka/hashkit"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// DefaultSeed roots the per-lane seed family.
const DefaultSeed = 0x73696d68617368

// Feature is one weighted input to the hash. Weights are usually positive;
// a zero weight contributes nothing.
type Feature struct {
	Data   []byte
	Weight float64
}

// Engine computes fingerprints of a fixed width.
type Engine struct {
	width int
	seed  uint64
	lanes []uint64
}

// New returns an engine producing width-bit fingerprints.
func New(width int) (*Engine, error) {
	return NewWithSeed(width, DefaultSeed)
}

// NewWithSeed returns an engine whose lane seeds derive from seed. Engines
// with different seeds produce unrelated fingerprints.
func NewWithSeed(width int, seed uint64) (*Engine, error) {
	if width <= 0 {
		return nil, kakaerr.Config("simhash: width %d must be > 0", width)
	}
	root := hashkit.Hasher{Seed1: seed}
	lanes := make([]uint64, (width+63)/64)
	for i := range lanes {
		lanes[i] = root.Derive(uint64(i)).Seed1
	}
	return &Engine{width: width, seed: seed, lanes: lanes}, nil
}

// Width returns the fingerprint width.
func (e *Engine) Width() int { return e.width }

// Seed returns the root seed.
func (e *Engine) Seed() uint64 { return e.seed }

// Hash fingerprints a weighted feature set. An empty set yields the all-zero
// fingerprint.
func (e *Engine) Hash(features []Feature) Fingerprint {
	acc := make([]float64, e.width)
	for _, f := range features {
		if f.Weight == 0 {
			continue
		}
		for lane, seed := range e.lanes {
			h := hashkit.Hash64(f.Data, seed)
			base := lane * 64
			end := min(base+64, e.width)
			for j := base; j < end; j++ {
				if h&1 == 1 {
					acc[j] += f.Weight
				} else {
					acc[j] -= f.Weight
				}
				h >>= 1
			}
		}
	}

	words := make([]uint64, len(e.lanes))
	for j, v := range acc {
		if v > 0 {
			words[j/64] |= uint64(1) << uint(j%64)
		}
	}
	fp, _ := FromWords(e.width, words)
	return fp
}

// HashText fingerprints text using word shingles of size n.
func (e *Engine) HashText(text string, n int) Fingerprint {
	return e.Hash(Shingles(text, n))
}

// HashURL fingerprints a URL from its host, path and query structure.
func (e *Engine) HashURL(rawURL string) (Fingerprint, error) {
	features, err := URLFeatures(rawURL)
	if err != nil {
		return Fingerprint{}, err
	}
	return e.Hash(features), nil
}

// Similarity is the package-level Similarity with an additional check that
// both fingerprints match the engine's width.
func (e *Engine) Similarity(a, b Fingerprint) (float64, error) {
	if a.width != e.width {
		return 0, kakaerr.Dimension(a.width, e.width)
	}
	return Similarity(a, b)
}
