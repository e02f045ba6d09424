package engine

import (
	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/kakaerr"
	"kaka.lopezb.com/internal/kaka/lshbloom"
)

// Snapshot is a copy of an engine's filters. Two snapshots merge when their
// exact filters, fingerprint parameters and index geometries all agree.
type Snapshot struct {
	FingerprintWidth int
	SimHashEnabled   bool
	SimHashSeed      uint64
	Exact            bloom.Snapshot
	Indexes          []lshbloom.Snapshot
}

// Snapshot copies the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		SimHashEnabled: e.cfg.SimHashEnabled,
		Exact:          e.exact.Snapshot(),
	}
	if e.cfg.SimHashEnabled {
		s.FingerprintWidth = e.cfg.FingerprintWidth
		s.SimHashSeed = e.hasher.Seed()
		for _, idx := range e.indexes {
			s.Indexes = append(s.Indexes, idx.Snapshot())
		}
	}
	return s
}

// Compatible reports whether s can be merged into e.
func (e *Engine) Compatible(s Snapshot) error {
	if err := e.exact.Compatible(s.Exact); err != nil {
		return err
	}
	if s.SimHashEnabled != e.cfg.SimHashEnabled {
		return kakaerr.Incompatible("engine: simhash enabled %v vs %v", s.SimHashEnabled, e.cfg.SimHashEnabled)
	}
	if !e.cfg.SimHashEnabled {
		return nil
	}
	if s.FingerprintWidth != e.cfg.FingerprintWidth || s.SimHashSeed != e.hasher.Seed() {
		return kakaerr.Incompatible("engine: fingerprint (w=%d, seed=%#x) vs (w=%d, seed=%#x)",
			s.FingerprintWidth, s.SimHashSeed, e.cfg.FingerprintWidth, e.hasher.Seed())
	}
	if len(s.Indexes) != len(e.indexes) {
		return kakaerr.Incompatible("engine: %d indexes, expected %d", len(s.Indexes), len(e.indexes))
	}
	for i, idx := range e.indexes {
		if err := idx.Compatible(s.Indexes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Merge ORs s into e. Every component is checked before any is modified, so a
// failed merge leaves e unchanged.
func (e *Engine) Merge(s Snapshot) error {
	if err := e.Compatible(s); err != nil {
		e.log.Warn().Err(err).Msg("rejecting incompatible snapshot")
		return err
	}
	if err := e.exact.Merge(s.Exact); err != nil {
		return err
	}
	for i, idx := range e.indexes {
		if err := idx.Merge(s.Indexes[i]); err != nil {
			return err
		}
	}
	e.log.Debug().Uint64("count", e.exact.Count()).Int("indexes", len(s.Indexes)).Msg("merged snapshot")
	return nil
}

// Restore builds a fresh engine from cfg and merges s into it.
func Restore(cfg Config, s Snapshot, opts ...Option) (*Engine, error) {
	e, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.Merge(s); err != nil {
		return nil, err
	}
	e.urlsInserted.Store(e.exact.Count())
	return e, nil
}
