package bloom

import (
	"encoding/binary"

	"kaka.lopezb.com/internal/kaka/hashkit"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// Snapshot is a self-describing copy of a filter's state. Its version is the
// geometry (M, K) together with the seeds; two snapshots with equal versions
// can be OR-merged.
type Snapshot struct {
	M      uint64
	K      uint32
	Hasher hashkit.Hasher
	Count  uint64
	Words  []uint64
}

// Snapshot copies the current state. Inserts that race with it may or may not
// be included, but every insert that returned before the call is.
func (f *Filter) Snapshot() Snapshot {
	return Snapshot{
		M:      f.m,
		K:      f.k,
		Hasher: f.hasher,
		Count:  f.Count(),
		Words:  f.bits.Words(),
	}
}

func (s Snapshot) validate() error {
	if s.M == 0 || s.K == 0 {
		return kakaerr.Corrupt("bloom: m=%d k=%d", s.M, s.K)
	}
	if uint64(len(s.Words)) != wordsFor(s.M) {
		return kakaerr.Corrupt("bloom: %d words for m=%d", len(s.Words), s.M)
	}
	if !tailClean(s.Words, s.M) {
		return kakaerr.Corrupt("bloom: bits set beyond m=%d", s.M)
	}
	return nil
}

// FromSnapshot rebuilds a filter from s.
func FromSnapshot(s Snapshot) (*Filter, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	f, err := NewWithParams(s.M, s.K, s.Hasher)
	if err != nil {
		return nil, err
	}
	copy(f.bits.words, s.Words)
	f.count.Store(s.Count)
	return f, nil
}

// Compatible reports whether s can be merged into f.
func (f *Filter) Compatible(s Snapshot) error {
	if s.M != f.m || s.K != f.k {
		return kakaerr.Incompatible("bloom: (m=%d, k=%d) vs (m=%d, k=%d)", s.M, s.K, f.m, f.k)
	}
	if s.Hasher != f.hasher {
		return kakaerr.Incompatible("bloom: hash seeds differ")
	}
	return s.validate()
}

// Merge ORs s into f, making f the union of both sets. On error f is left
// untouched. Merge is commutative, associative and idempotent, and is safe to
// call while other goroutines insert.
func (f *Filter) Merge(s Snapshot) error {
	if err := f.Compatible(s); err != nil {
		return err
	}
	f.bits.Or(s.Words)
	f.recount()
	return nil
}

// MergeFilter merges another live filter into f.
func (f *Filter) MergeFilter(other *Filter) error {
	return f.Merge(other.Snapshot())
}

// recount replaces the insertion counter with the cardinality implied by the
// fill, since the union of two counted sets is not the sum of their counts.
func (f *Filter) recount() {
	est := estimateCardinality(f.m, f.k, f.bits.OnesCount())
	for {
		cur := f.count.Load()
		if est <= cur || f.count.CompareAndSwap(cur, est) {
			return
		}
	}
}

// MarshalBinary encodes the filter as a header followed by its words.
func (f *Filter) MarshalBinary() ([]byte, error) {
	return f.Snapshot().MarshalBinary()
}

// EncodedLen returns the length of MarshalBinary output for a filter of m bits.
func EncodedLen(m uint64) uint64 {
	return HeaderSize + wordsFor(m)*8
}

// MarshalBinary encodes s. See the package documentation for the layout.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize, HeaderSize+len(s.Words)*8)
	h := Header(buf)
	h.SetMagic(Magic)
	h.SetBits(s.M)
	h.SetProbes(s.K)
	h.SetSeed1(s.Hasher.Seed1)
	h.SetSeed2(s.Hasher.Seed2)
	h.SetCount(s.Count)
	for _, w := range s.Words {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf, nil
}

// DecodeSnapshot parses data produced by MarshalBinary.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) < HeaderSize {
		return Snapshot{}, kakaerr.Corrupt("bloom: %d bytes is shorter than header", len(data))
	}
	h := Header(data[:HeaderSize])
	if h.Magic() != Magic {
		return Snapshot{}, kakaerr.Corrupt("bloom: bad magic %#x", h.Magic())
	}
	s := Snapshot{
		M:      h.Bits(),
		K:      h.Probes(),
		Hasher: hashkit.Hasher{Seed1: h.Seed1(), Seed2: h.Seed2()},
		Count:  h.Count(),
	}
	body := data[HeaderSize:]
	if s.M == 0 || uint64(len(body)) != wordsFor(s.M)*8 {
		return Snapshot{}, kakaerr.Corrupt("bloom: body of %d bytes for m=%d", len(body), s.M)
	}
	s.Words = make([]uint64, len(body)/8)
	for i := range s.Words {
		s.Words[i] = binary.LittleEndian.Uint64(body[i*8:])
	}
	return s, s.validate()
}

// UnmarshalBinary replaces f's state with the encoded filter in data.
func (f *Filter) UnmarshalBinary(data []byte) error {
	s, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	nf, err := FromSnapshot(s)
	if err != nil {
		return err
	}
	f.bits, f.m, f.k, f.hasher = nf.bits, nf.m, nf.k, nf.hasher
	f.count.Store(nf.Count())
	return nil
}
