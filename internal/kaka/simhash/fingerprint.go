package simhash

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/bits-and-blooms/bitset"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// Fingerprint is an immutable fixed-width bit vector. Bit j lives at word j/64,
// position j%64. Fingerprints of different widths are not comparable.
type Fingerprint struct {
	bits  *bitset.BitSet
	width int
}

// FromWords builds a fingerprint of the given width from little-endian words.
// Bits beyond width are ignored.
func FromWords(width int, words []uint64) (Fingerprint, error) {
	if width <= 0 {
		return Fingerprint{}, kakaerr.Config("simhash: width %d must be > 0", width)
	}
	need := (width + 63) / 64
	if len(words) != need {
		return Fingerprint{}, kakaerr.Dimension(len(words)*64, width)
	}
	buf := make([]uint64, need)
	copy(buf, words)
	if rem := width % 64; rem != 0 {
		buf[need-1] &= (uint64(1) << rem) - 1
	}
	return Fingerprint{bits: bitset.FromWithLength(uint(width), buf), width: width}, nil
}

// FromUint64 builds a 64-bit fingerprint.
func FromUint64(v uint64) Fingerprint {
	fp, _ := FromWords(64, []uint64{v})
	return fp
}

// Width returns the number of bits.
func (f Fingerprint) Width() int { return f.width }

// IsZero reports whether f is the zero value rather than a computed
// fingerprint.
func (f Fingerprint) IsZero() bool { return f.bits == nil }

// Bit reports whether bit i is set.
func (f Fingerprint) Bit(i int) bool {
	return f.bits.Test(uint(i))
}

// Words returns a copy of the backing words.
func (f Fingerprint) Words() []uint64 {
	src := f.bits.Bytes()
	out := make([]uint64, (f.width+63)/64)
	copy(out, src)
	return out
}

// Uint64 returns the first 64 bits.
func (f Fingerprint) Uint64() uint64 {
	w := f.bits.Bytes()
	if len(w) == 0 {
		return 0
	}
	return w[0]
}

// Band returns bits [i*r, (i+1)*r) packed into the low bits of a uint64.
// r must be in 1..64.
func (f Fingerprint) Band(i, r int) uint64 {
	words := f.bits.Bytes()
	start := i * r
	w, off := start/64, uint(start%64)
	v := words[w] >> off
	if int(off)+r > 64 && w+1 < len(words) {
		v |= words[w+1] << (64 - off)
	}
	if r < 64 {
		v &= (uint64(1) << uint(r)) - 1
	}
	return v
}

// OnesCount returns the number of set bits.
func (f Fingerprint) OnesCount() int {
	return int(f.bits.Count())
}

// Equal reports whether f and o have the same width and bits.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.width != o.width {
		return false
	}
	if f.bits == nil || o.bits == nil {
		return f.bits == o.bits
	}
	return f.bits.Equal(o.bits)
}

// HammingDistance returns the number of differing bits.
func HammingDistance(a, b Fingerprint) (int, error) {
	if a.width != b.width {
		return 0, kakaerr.Dimension(b.width, a.width)
	}
	if a.bits == nil || b.bits == nil {
		return 0, kakaerr.Config("simhash: uninitialized fingerprint")
	}
	return int(a.bits.SymmetricDifferenceCardinality(b.bits)), nil
}

// Similarity returns 1 - hamming/width, in [0, 1].
func Similarity(a, b Fingerprint) (float64, error) {
	d, err := HammingDistance(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - float64(d)/float64(a.width), nil
}

// String renders f as big-endian hex, most significant word first.
func (f Fingerprint) String() string {
	words := f.Words()
	buf := make([]byte, 0, len(words)*8)
	for i := len(words) - 1; i >= 0; i-- {
		buf = binary.BigEndian.AppendUint64(buf, words[i])
	}
	return hex.EncodeToString(buf)
}

// ParseHex parses the output of String for a fingerprint of the given width.
func ParseHex(width int, s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, kakaerr.Config("simhash: %v", err)
	}
	if len(raw)%8 != 0 {
		return Fingerprint{}, kakaerr.Config("simhash: hex length %d not a multiple of 16", len(s))
	}
	n := len(raw) / 8
	words := make([]uint64, n)
	for i := 0; i < n; i++ {
		words[n-1-i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return FromWords(width, words)
}
