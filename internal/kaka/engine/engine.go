// Package engine ties URL normalization, the exact-match filter and the
// content similarity indexes into one deduplication engine.
//
// The engine stores no URLs and no content. It keeps a Bloom filter over
// canonical URLs and, when content similarity is enabled, one or more banded
// LSH indexes over SimHash fingerprints of page content. Every structure is
// monotonic and OR-mergeable, so engines built with the same Config on
// different nodes can exchange snapshots and converge on the union.
//
// Granularities
// =============
//
// An LSH index fixes its similarity threshold at construction. To answer
// FindSimilar at more than one threshold the engine can maintain several
// indexes over the same fingerprints, one per band count (Config.Bands plus
// Config.Granularities). A query with threshold t uses the index whose design
// threshold is the highest one not above t, so that candidates at or above t
// are found with at least one half probability. When t is below every design
// threshold the most permissive index is used.
package engine

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/hashkit"
	"kaka.lopezb.com/internal/kaka/kakaerr"
	"kaka.lopezb.com/internal/kaka/lshbloom"
	"kaka.lopezb.com/internal/kaka/normalizer"
	"kaka.lopezb.com/internal/kaka/simhash"
)

// Normalizer maps a raw URL to its canonical form. Implementations must be
// deterministic.
type Normalizer interface {
	Normalize(raw string) (string, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(string) (string, error)

func (f NormalizerFunc) Normalize(raw string) (string, error) { return f(raw) }

// Config holds engine construction parameters.
type Config struct {
	// Capacity is the expected number of distinct URLs (and documents).
	Capacity uint64

	// FalsePositiveRate sizes the exact filter and every band filter.
	FalsePositiveRate float64

	// SimHashEnabled turns on content fingerprinting. When set, Insert
	// requires content.
	SimHashEnabled bool

	// FingerprintWidth is the SimHash width in bits. It must be a multiple of
	// Bands and of every entry in Granularities.
	FingerprintWidth int

	// Bands is the band count of the primary LSH index.
	Bands int

	// Granularities lists extra band counts, each backed by its own index.
	Granularities []int

	// ShingleSize is the word n-gram length used to fingerprint content.
	ShingleSize int

	// Seed roots every hash seed. Engines only merge when their seeds match.
	Seed uint64
}

// DefaultConfig returns the standard engine configuration: one million URLs at
// 1% false positives, content similarity off.
func DefaultConfig() Config {
	return Config{
		Capacity:          bloom.DefaultCapacity,
		FalsePositiveRate: bloom.DefaultErrorRate,
		FingerprintWidth:  64,
		Bands:             8,
		ShingleSize:       simhash.DefaultShingleSize,
		Seed:              hashkit.DefaultHasher.Seed1,
	}
}

// Validate checks cfg without allocating anything.
func (c Config) Validate() error {
	if c.Capacity == 0 {
		return kakaerr.Config("engine: capacity must be > 0")
	}
	if !(c.FalsePositiveRate > 0 && c.FalsePositiveRate < 1) {
		return kakaerr.Config("engine: false positive rate %v outside (0, 1)", c.FalsePositiveRate)
	}
	if !c.SimHashEnabled {
		return nil
	}
	if c.FingerprintWidth <= 0 {
		return kakaerr.Config("engine: fingerprint width %d must be > 0", c.FingerprintWidth)
	}
	for _, b := range c.bandCounts() {
		if b <= 0 || c.FingerprintWidth%b != 0 {
			return kakaerr.Config("engine: width %d is not a multiple of bands %d", c.FingerprintWidth, b)
		}
		if c.FingerprintWidth/b > 64 {
			return kakaerr.Config("engine: %d rows per band exceeds 64", c.FingerprintWidth/b)
		}
	}
	return nil
}

func (c Config) bandCounts() []int {
	seen := map[int]bool{}
	var out []int
	for _, b := range append([]int{c.Bands}, c.Granularities...) {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNormalizer replaces the default URL normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(e *Engine) { e.norm = n }
}

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRegisterer registers the engine's metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = r }
}

// WithIDSink forwards (band key, canonical URL) pairs from every LSH index.
func WithIDSink(s lshbloom.IDSink) Option {
	return func(e *Engine) { e.sink = s }
}

// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	cfg     Config
	exact   *bloom.Filter
	hasher  *simhash.Engine
	indexes []*lshbloom.Index // ascending design threshold

	norm       Normalizer
	log        zerolog.Logger
	registerer prometheus.Registerer
	sink       lshbloom.IDSink
	metrics    *metrics

	checked         atomic.Uint64
	duplicates      atomic.Uint64
	urlsInserted    atomic.Uint64
	contentInserted atomic.Uint64
	similarQueries  atomic.Uint64
	similarHits     atomic.Uint64
}

// New validates cfg and builds an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = simhash.DefaultShingleSize
	}
	root := hashkit.Hasher{Seed1: cfg.Seed}
	if cfg.Seed == 0 {
		root = hashkit.DefaultHasher
		cfg.Seed = root.Seed1
	}
	root.Seed2 = uint32(hashkit.Mix(cfg.Seed) >> 32)

	e := &Engine{cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.norm == nil {
		e.norm = normalizer.New()
	}

	exact, err := bloom.NewWithConfig(bloom.Config{
		Capacity:  cfg.Capacity,
		ErrorRate: cfg.FalsePositiveRate,
		Hasher:    root,
	})
	if err != nil {
		return nil, err
	}
	e.exact = exact

	if cfg.SimHashEnabled {
		if e.hasher, err = simhash.NewWithSeed(cfg.FingerprintWidth, root.Derive(0).Seed1); err != nil {
			return nil, err
		}
		for _, b := range cfg.bandCounts() {
			idx, err := lshbloom.NewWithConfig(lshbloom.Config{
				Capacity:  cfg.Capacity,
				ErrorRate: cfg.FalsePositiveRate,
				Width:     cfg.FingerprintWidth,
				Bands:     b,
				Hasher:    root.Derive(uint64(b) << 16),
			})
			if err != nil {
				return nil, err
			}
			if e.sink != nil {
				idx.SetIDSink(e.sink)
			}
			e.indexes = append(e.indexes, idx)
		}
		sort.SliceStable(e.indexes, func(i, j int) bool {
			return e.indexes[i].Threshold() < e.indexes[j].Threshold()
		})
	}

	e.metrics = newMetrics(e, e.registerer)

	ev := e.log.Info().
		Uint64("capacity", cfg.Capacity).
		Float64("fp_rate", cfg.FalsePositiveRate).
		Uint64("m", exact.M()).
		Uint32("k", exact.K()).
		Bool("simhash", cfg.SimHashEnabled)
	if cfg.SimHashEnabled {
		ev = ev.Int("width", cfg.FingerprintWidth).Ints("bands", cfg.bandCounts())
	}
	ev.Msg("dedup engine ready")
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Normalize returns the canonical form of url.
func (e *Engine) Normalize(url string) (string, error) {
	return e.norm.Normalize(url)
}

// Contains reports whether url, after normalization, may have been inserted.
// It touches neither the filter nor the check and duplicate counters; only
// the query latency is observed.
func (e *Engine) Contains(url string) (bool, error) {
	start := time.Now()
	canon, err := e.norm.Normalize(url)
	if err != nil {
		return false, err
	}
	ok := e.exact.ContainsString(canon)
	e.metrics.queryLatency.Observe(time.Since(start).Seconds())
	return ok, nil
}

// Insert records url and, when content similarity is enabled, the
// fingerprint of content under the canonical URL. With similarity enabled a
// nil content is a configuration error and nothing is inserted; with it
// disabled content is ignored.
func (e *Engine) Insert(url string, content []byte) error {
	_, err := e.insert(url, content)
	return err
}

// CheckAndInsert inserts url (and content) and reports whether the URL was
// already present. Two goroutines racing on the same new URL may both see it
// as new.
func (e *Engine) CheckAndInsert(url string, content []byte) (bool, error) {
	changed, err := e.insert(url, content)
	if err != nil {
		return false, err
	}
	e.checked.Add(1)
	e.metrics.checks.Inc()
	if !changed {
		e.duplicates.Add(1)
		e.metrics.duplicates.Inc()
	}
	return !changed, nil
}

// InsertURL records url in the exact filter only and reports whether it was
// new. It works with content similarity on or off and leaves the LSH indexes
// untouched. Counters are updated as for CheckAndInsert.
func (e *Engine) InsertURL(url string) (bool, error) {
	start := time.Now()
	canon, err := e.norm.Normalize(url)
	if err != nil {
		e.metrics.errors.Inc()
		return false, err
	}
	changed := e.exact.InsertString(canon)
	e.checked.Add(1)
	e.metrics.checks.Inc()
	if changed {
		e.urlsInserted.Add(1)
		e.metrics.inserts.Inc()
	} else {
		e.duplicates.Add(1)
		e.metrics.duplicates.Inc()
	}
	e.metrics.insertLatency.Observe(time.Since(start).Seconds())
	return changed, nil
}

func (e *Engine) insert(url string, content []byte) (bool, error) {
	start := time.Now()
	if e.cfg.SimHashEnabled && content == nil {
		e.metrics.errors.Inc()
		return false, kakaerr.Config("engine: content is required when simhash is enabled")
	}
	canon, err := e.norm.Normalize(url)
	if err != nil {
		e.metrics.errors.Inc()
		return false, err
	}

	changed := e.exact.InsertString(canon)
	if changed {
		e.urlsInserted.Add(1)
		e.metrics.inserts.Inc()
	}

	if e.cfg.SimHashEnabled {
		fp := e.fingerprint(content)
		for _, idx := range e.indexes {
			if err := idx.InsertWithHash(canon, fp); err != nil {
				return changed, err
			}
		}
		e.contentInserted.Add(1)
		e.metrics.contentInserts.Inc()
	}
	e.metrics.insertLatency.Observe(time.Since(start).Seconds())
	return changed, nil
}

// InsertWithHash inserts a precomputed fingerprint under id into every LSH
// index, bypassing content hashing and the exact filter.
func (e *Engine) InsertWithHash(id string, fp simhash.Fingerprint) error {
	if !e.cfg.SimHashEnabled {
		return kakaerr.Config("engine: simhash is disabled")
	}
	for _, idx := range e.indexes {
		if err := idx.InsertWithHash(id, fp); err != nil {
			return err
		}
	}
	e.contentInserted.Add(1)
	e.metrics.contentInserts.Inc()
	return nil
}

// Fingerprint returns the SimHash of content, or kakaerr.ErrConfig when
// similarity is disabled.
func (e *Engine) Fingerprint(content []byte) (simhash.Fingerprint, error) {
	if !e.cfg.SimHashEnabled {
		return simhash.Fingerprint{}, kakaerr.Config("engine: simhash is disabled")
	}
	return e.fingerprint(content), nil
}

func (e *Engine) fingerprint(content []byte) simhash.Fingerprint {
	return e.hasher.HashText(string(content), e.cfg.ShingleSize)
}

// IndexFor returns the LSH index serving queries at threshold.
func (e *Engine) IndexFor(threshold float64) (*lshbloom.Index, error) {
	if !e.cfg.SimHashEnabled {
		return nil, kakaerr.Config("engine: simhash is disabled")
	}
	if !(threshold >= 0 && threshold <= 1) {
		return nil, kakaerr.Config("engine: threshold %v outside [0, 1]", threshold)
	}
	chosen := e.indexes[0]
	for _, idx := range e.indexes {
		if idx.Threshold() <= threshold {
			chosen = idx
		}
	}
	return chosen, nil
}

// FindSimilar reports whether content whose similarity to previously inserted
// content is at or above threshold has likely been seen. The answer is
// probabilistic in both directions, following the chosen index's S-curve.
func (e *Engine) FindSimilar(content []byte, threshold float64) (bool, error) {
	idx, err := e.IndexFor(threshold)
	if err != nil {
		return false, err
	}
	return e.querySimilar(idx, e.fingerprint(content))
}

// FindSimilarHash is FindSimilar for a precomputed fingerprint.
func (e *Engine) FindSimilarHash(fp simhash.Fingerprint, threshold float64) (bool, error) {
	idx, err := e.IndexFor(threshold)
	if err != nil {
		return false, err
	}
	return e.querySimilar(idx, fp)
}

func (e *Engine) querySimilar(idx *lshbloom.Index, fp simhash.Fingerprint) (bool, error) {
	start := time.Now()
	ok, err := idx.QuerySimilar(fp)
	if err != nil {
		return false, err
	}
	e.similarQueries.Add(1)
	e.metrics.similarQueries.Inc()
	if ok {
		e.similarHits.Add(1)
		e.metrics.similarHits.Inc()
	}
	e.metrics.queryLatency.Observe(time.Since(start).Seconds())
	return ok, nil
}

// FindSimilarIDs returns candidate ids for content from src, which must hold
// the (band key, id) pairs recorded through WithIDSink or an equivalent.
func (e *Engine) FindSimilarIDs(ctx context.Context, content []byte, threshold float64, src lshbloom.IDSource) ([]string, error) {
	idx, err := e.IndexFor(threshold)
	if err != nil {
		return nil, err
	}
	e.similarQueries.Add(1)
	e.metrics.similarQueries.Inc()
	ids, err := idx.QuerySimilarIDs(ctx, e.fingerprint(content), src)
	if err == nil && len(ids) > 0 {
		e.similarHits.Add(1)
		e.metrics.similarHits.Inc()
	}
	return ids, err
}

// Similarity returns the fingerprint similarity of two documents.
func (e *Engine) Similarity(a, b []byte) (float64, error) {
	if !e.cfg.SimHashEnabled {
		return 0, kakaerr.Config("engine: simhash is disabled")
	}
	return simhash.Similarity(e.fingerprint(a), e.fingerprint(b))
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	TotalChecked    uint64
	DuplicatesFound uint64
	URLsInserted    uint64
	ContentInserted uint64
	SimilarQueries  uint64
	SimilarHits     uint64

	FilterBits       uint64
	FilterProbes     uint32
	FillRatio        float64
	EstimatedFPR     float64
	MemoryBytes      uint64
	IndexThresholds  []float64
	FingerprintWidth int
	SimHashEnabled   bool
}

// Stats returns current counters and filter state.
func (e *Engine) Stats() Stats {
	s := Stats{
		TotalChecked:     e.checked.Load(),
		DuplicatesFound:  e.duplicates.Load(),
		URLsInserted:     e.urlsInserted.Load(),
		ContentInserted:  e.contentInserted.Load(),
		SimilarQueries:   e.similarQueries.Load(),
		SimilarHits:      e.similarHits.Load(),
		FilterBits:       e.exact.M(),
		FilterProbes:     e.exact.K(),
		FillRatio:        e.exact.FillRatio(),
		EstimatedFPR:     e.exact.EstimatedFalsePositiveRate(),
		MemoryBytes:      e.exact.MemoryBytes(),
		FingerprintWidth: e.cfg.FingerprintWidth,
		SimHashEnabled:   e.cfg.SimHashEnabled,
	}
	for _, idx := range e.indexes {
		s.MemoryBytes += idx.MemoryBytes()
		s.IndexThresholds = append(s.IndexThresholds, idx.Threshold())
	}
	return s
}
