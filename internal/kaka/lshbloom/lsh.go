// Package lshbloom implements a banded locality-sensitive index whose buckets
// are Bloom filters.
//
// A width-bit SimHash fingerprint is split into b disjoint bands of r = width/b
// contiguous bits. Each band position i owns its own Bloom filter, and band i
// of a fingerprint is only ever inserted into filter i, keyed together with i
// itself. Two fingerprints collide in the index when at least one band agrees
// exactly.
//
// For fingerprints agreeing on a fraction s of their bits, the probability of
// a collision follows the S-curve
//
//	P(match) = 1 - (1 - s^r)^b
//
// whose 50% point sits near (1/b)^(1/r). More bands lower the threshold and
// raise recall; more rows per band raise it and improve precision. The choice
// is made at construction and cannot change afterwards.
//
// The index stores no identifiers. QuerySimilarIDs pairs a positive answer with
// a caller-owned IDSource that maps band keys back to stored ids.
package lshbloom

import (
	"context"
	"sync"

	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/hashkit"
	"kaka.lopezb.com/internal/kaka/kakaerr"
	"kaka.lopezb.com/internal/kaka/simhash"
)

// Config holds the construction parameters of an index.
type Config struct {
	// Capacity and ErrorRate size every per-band filter.
	Capacity  uint64
	ErrorRate float64

	// Width is the fingerprint width; Bands must divide it and leave at most
	// 64 rows per band.
	Width int
	Bands int

	// Hasher roots the per-band seed family. The zero value means
	// hashkit.DefaultHasher.
	Hasher hashkit.Hasher
}

// BandKey identifies one band of one fingerprint. Rows is part of the key so
// that indexes of different granularity never share keys in an IDSource.
type BandKey struct {
	Rows  int
	Band  int
	Value uint64
}

// IDSource resolves a band key to the ids inserted under it. It is supplied
// by the caller; the index itself never stores ids.
type IDSource interface {
	IDs(ctx context.Context, key BandKey) ([]string, error)
}

// IDSink receives (band key, id) pairs on insert when configured.
type IDSink interface {
	AddID(key BandKey, id string)
}

// Index is the banded Bloom index.
type Index struct {
	width, bands, rows int
	filters            []*bloom.Filter
	sink               IDSink
}

// New returns an index of bands filters each sized for (capacity, p).
func New(capacity uint64, p float64, width, bands int) (*Index, error) {
	return NewWithConfig(Config{Capacity: capacity, ErrorRate: p, Width: width, Bands: bands})
}

// NewWithConfig validates cfg and builds the index.
func NewWithConfig(cfg Config) (*Index, error) {
	if cfg.Width <= 0 || cfg.Bands <= 0 {
		return nil, kakaerr.Config("lshbloom: width %d and bands %d must be > 0", cfg.Width, cfg.Bands)
	}
	if cfg.Width%cfg.Bands != 0 {
		return nil, kakaerr.Config("lshbloom: width %d is not a multiple of bands %d", cfg.Width, cfg.Bands)
	}
	rows := cfg.Width / cfg.Bands
	if rows > 64 {
		return nil, kakaerr.Config("lshbloom: %d rows per band exceeds 64", rows)
	}
	if cfg.Hasher == (hashkit.Hasher{}) {
		cfg.Hasher = hashkit.DefaultHasher
	}

	idx := &Index{
		width:   cfg.Width,
		bands:   cfg.Bands,
		rows:    rows,
		filters: make([]*bloom.Filter, cfg.Bands),
	}
	for i := range idx.filters {
		f, err := bloom.NewWithConfig(bloom.Config{
			Capacity:  cfg.Capacity,
			ErrorRate: cfg.ErrorRate,
			Hasher:    cfg.Hasher.Derive(uint64(i)),
		})
		if err != nil {
			return nil, err
		}
		idx.filters[i] = f
	}
	return idx, nil
}

// SetIDSink forwards every inserted (band key, id) pair to s. It must be set
// before the index is shared between goroutines.
func (x *Index) SetIDSink(s IDSink) { x.sink = s }

func (x *Index) Width() int { return x.width }
func (x *Index) Bands() int { return x.bands }
func (x *Index) Rows() int  { return x.rows }

// Threshold returns the similarity at which the index matches half the time.
func (x *Index) Threshold() float64 { return Threshold(x.bands, x.rows) }

// Filter returns the filter owning band i.
func (x *Index) Filter(i int) *bloom.Filter { return x.filters[i] }

func (x *Index) check(fp simhash.Fingerprint) error {
	if fp.IsZero() {
		return kakaerr.Config("lshbloom: empty fingerprint")
	}
	if fp.Width() != x.width {
		return kakaerr.Dimension(fp.Width(), x.width)
	}
	return nil
}

func bandItem(buf []byte, i int, v uint64) []byte {
	return hashkit.Uint64Key(buf[:0], v, uint64(i))
}

// Keys returns the band keys of fp.
func (x *Index) Keys(fp simhash.Fingerprint) ([]BandKey, error) {
	if err := x.check(fp); err != nil {
		return nil, err
	}
	keys := make([]BandKey, x.bands)
	for i := range keys {
		keys[i] = BandKey{Rows: x.rows, Band: i, Value: fp.Band(i, x.rows)}
	}
	return keys, nil
}

// InsertWithHash inserts every band of fp into its filter. id is forwarded to
// the configured IDSink, if any, and otherwise discarded.
func (x *Index) InsertWithHash(id string, fp simhash.Fingerprint) error {
	if err := x.check(fp); err != nil {
		return err
	}
	var buf [16]byte
	for i, f := range x.filters {
		v := fp.Band(i, x.rows)
		f.Insert(bandItem(buf[:], i, v))
		if x.sink != nil {
			x.sink.AddID(BandKey{Rows: x.rows, Band: i, Value: v}, id)
		}
	}
	return nil
}

// QuerySimilar reports whether any band of fp is present in its filter. It
// never misses a fingerprint that was inserted with identical bits in at
// least one band.
func (x *Index) QuerySimilar(fp simhash.Fingerprint) (bool, error) {
	if err := x.check(fp); err != nil {
		return false, err
	}
	var buf [16]byte
	for i, f := range x.filters {
		if f.Contains(bandItem(buf[:], i, fp.Band(i, x.rows))) {
			return true, nil
		}
	}
	return false, nil
}

// MatchingBands returns the keys of fp whose bands are present.
func (x *Index) MatchingBands(fp simhash.Fingerprint) ([]BandKey, error) {
	if err := x.check(fp); err != nil {
		return nil, err
	}
	var buf [16]byte
	var out []BandKey
	for i, f := range x.filters {
		v := fp.Band(i, x.rows)
		if f.Contains(bandItem(buf[:], i, v)) {
			out = append(out, BandKey{Rows: x.rows, Band: i, Value: v})
		}
	}
	return out, nil
}

// QuerySimilarIDs returns the union of ids that src holds for every matching
// band of fp, in first-seen order. The result is a candidate superset of the
// true near-duplicates.
func (x *Index) QuerySimilarIDs(ctx context.Context, fp simhash.Fingerprint, src IDSource) ([]string, error) {
	if src == nil {
		return nil, kakaerr.Config("lshbloom: nil id source")
	}
	keys, err := x.MatchingBands(fp)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := src.IDs(ctx, k)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// MemoryBytes returns the total size of the band filters.
func (x *Index) MemoryBytes() uint64 {
	var n uint64
	for _, f := range x.filters {
		n += f.MemoryBytes()
	}
	return n
}

// FillRatio returns the mean fill of the band filters.
func (x *Index) FillRatio() float64 {
	var sum float64
	for _, f := range x.filters {
		sum += f.FillRatio()
	}
	return sum / float64(len(x.filters))
}

// Count approximates distinct insertions as the largest per-band count.
// Fingerprints sharing a band only change the other bands' filters.
func (x *Index) Count() uint64 {
	var n uint64
	for _, f := range x.filters {
		n = max(n, f.Count())
	}
	return n
}

// MemoryIDStore is an in-process IDSource and IDSink.
type MemoryIDStore struct {
	mu  sync.RWMutex
	ids map[BandKey][]string
}

// NewMemoryIDStore returns an empty store.
func NewMemoryIDStore() *MemoryIDStore {
	return &MemoryIDStore{ids: make(map[BandKey][]string)}
}

// AddID records id under key. Repeated ids are kept once.
func (s *MemoryIDStore) AddID(key BandKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.ids[key] {
		if have == id {
			return
		}
	}
	s.ids[key] = append(s.ids[key], id)
}

// IDs returns a copy of the ids under key.
func (s *MemoryIDStore) IDs(_ context.Context, key BandKey) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ids[key]...), nil
}
