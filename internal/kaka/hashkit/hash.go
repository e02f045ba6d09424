// Package hashkit provides the seeded 64-bit hash families shared by every
// structure in kaka.
//
// Two independent families are exposed. Hash64 is a seeded xxHash64 digest and
// is the primary hash for probe positions and SimHash signs. Murmur64 is a
// seeded MurmurHash3 (x64, 128-bit, low half) and supplies the stride for
// Kirsch-Mitzenmacher double hashing. Drawing h1 and h2 from unrelated
// families keeps the probe sequence free of the correlations that appear when
// both halves come from one digest.
//
// Neither family is cryptographic. Inputs controlled by an adversary can be
// crafted to collide.
package hashkit

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Hash64 returns the xxHash64 digest of data under the given seed.
func Hash64(data []byte, seed uint64) uint64 {
	if seed == 0 {
		return xxhash.Sum64(data)
	}
	d := xxhash.NewWithSeed(seed)
	_, _ = d.Write(data)
	return d.Sum64()
}

// Murmur64 returns the low 64 bits of MurmurHash3 x64/128 under seed.
func Murmur64(data []byte, seed uint32) uint64 {
	return murmur3.Sum64WithSeed(data, seed)
}

// Hasher derives the (h1, h2) pair used for double hashing.
type Hasher struct {
	Seed1 uint64
	Seed2 uint32
}

// DefaultHasher is used by filters built without explicit seeds.
var DefaultHasher = Hasher{Seed1: 0x6b616b61, Seed2: 0x9e3779b9}

// Pair returns the base hashes for data. h2 is forced odd so that the stride
// (h1 + i*h2) mod m never collapses onto a single position.
func (h Hasher) Pair(data []byte) (uint64, uint64) {
	return Hash64(data, h.Seed1), Murmur64(data, h.Seed2) | 1
}

// Derive returns the i-th member of a seed family rooted at h. Bands, SimHash
// lanes and replica filters all take their seeds from here.
func (h Hasher) Derive(i uint64) Hasher {
	s := Mix(h.Seed1 ^ Mix(i+1))
	return Hasher{Seed1: s, Seed2: uint32(Mix(s) >> 32)}
}

// Mix scrambles a 64-bit integer using the SplitMix64 finalizer (public
// domain). It decorrelates sequential seeds.
func Mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Uint64Key encodes a pair of integers as a 16 byte little-endian key. It is
// used to bind a band value to its band index before hashing.
func Uint64Key(dst []byte, a, b uint64) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, a)
	return binary.LittleEndian.AppendUint64(dst, b)
}
