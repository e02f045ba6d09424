package lshbloom

import (
	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// Snapshot is a copy of an index. Its version is (Width, Bands, Rows) plus the
// geometry of each band filter.
type Snapshot struct {
	Width   int
	Bands   int
	Rows    int
	Filters []bloom.Snapshot
}

// Snapshot copies every band filter.
func (x *Index) Snapshot() Snapshot {
	s := Snapshot{Width: x.width, Bands: x.bands, Rows: x.rows, Filters: make([]bloom.Snapshot, len(x.filters))}
	for i, f := range x.filters {
		s.Filters[i] = f.Snapshot()
	}
	return s
}

// Compatible reports whether s can be merged into x.
func (x *Index) Compatible(s Snapshot) error {
	if s.Width != x.width || s.Bands != x.bands || s.Rows != x.rows {
		return kakaerr.Incompatible("lshbloom: (w=%d, b=%d, r=%d) vs (w=%d, b=%d, r=%d)",
			s.Width, s.Bands, s.Rows, x.width, x.bands, x.rows)
	}
	if len(s.Filters) != len(x.filters) {
		return kakaerr.Incompatible("lshbloom: %d band filters, expected %d", len(s.Filters), len(x.filters))
	}
	for i, f := range x.filters {
		if err := f.Compatible(s.Filters[i]); err != nil {
			return err
		}
	}
	return nil
}

// Merge ORs every band filter of s into the matching filter of x. Every band
// is validated before any is modified, so a failed merge leaves x untouched.
func (x *Index) Merge(s Snapshot) error {
	if err := x.Compatible(s); err != nil {
		return err
	}
	for i, f := range x.filters {
		if err := f.Merge(s.Filters[i]); err != nil {
			return err
		}
	}
	return nil
}

// FromSnapshot rebuilds an index from s. The band filters keep the seeds and
// geometry recorded in s, so the result merges with the index s was taken
// from. Geometry that New would reject is reported as kakaerr.ErrCorrupt.
func FromSnapshot(s Snapshot) (*Index, error) {
	if s.Bands <= 0 || s.Rows <= 0 || s.Rows > 64 || s.Width != s.Bands*s.Rows {
		return nil, kakaerr.Corrupt("lshbloom: geometry w=%d b=%d r=%d", s.Width, s.Bands, s.Rows)
	}
	if len(s.Filters) != s.Bands {
		return nil, kakaerr.Corrupt("lshbloom: %d filters for %d bands", len(s.Filters), s.Bands)
	}
	x := &Index{width: s.Width, bands: s.Bands, rows: s.Rows, filters: make([]*bloom.Filter, s.Bands)}
	for i, fs := range s.Filters {
		if fs.M != s.Filters[0].M || fs.K != s.Filters[0].K {
			return nil, kakaerr.Corrupt("lshbloom: band %d sized m=%d k=%d, band 0 m=%d k=%d",
				i, fs.M, fs.K, s.Filters[0].M, s.Filters[0].K)
		}
		f, err := bloom.FromSnapshot(fs)
		if err != nil {
			return nil, err
		}
		x.filters[i] = f
	}
	return x, nil
}
