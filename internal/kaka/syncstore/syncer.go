package syncstore

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kaka.lopezb.com/internal/kaka/engine"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// Syncer publishes one engine's snapshot and merges its peers'.
type Syncer struct {
	kv          KVProvider
	prefix      string
	nodeID      string
	ttl         time.Duration
	concurrency int
	log         zerolog.Logger
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithTTL expires published snapshots so departed nodes age out. Zero keeps
// them forever.
func WithTTL(d time.Duration) Option { return func(s *Syncer) { s.ttl = d } }

// WithConcurrency bounds parallel snapshot fetches.
func WithConcurrency(n int) Option { return func(s *Syncer) { s.concurrency = n } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Syncer) { s.log = l } }

// New returns a Syncer for nodeID. An empty nodeID gets a random UUID.
func New(kv KVProvider, prefix, nodeID string, opts ...Option) *Syncer {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	s := &Syncer{kv: kv, prefix: prefix, nodeID: nodeID, concurrency: 4, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	s.log = s.log.With().Str("node", nodeID).Logger()
	return s
}

func (s *Syncer) NodeID() string { return s.nodeID }

// Key returns the key this node publishes under.
func (s *Syncer) Key() string { return s.keyFor(s.nodeID) }

func (s *Syncer) keyFor(id string) string { return s.prefix + ":node:" + id }

// Publish writes e's current snapshot.
func (s *Syncer) Publish(ctx context.Context, e *engine.Engine) error {
	var buf bytes.Buffer
	if err := e.WriteSnapshot(&buf); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := s.kv.Set(ctx, s.Key(), buf.Bytes(), s.ttl); err != nil {
		return errors.Wrapf(err, "publish %s", s.Key())
	}
	s.log.Debug().Int("bytes", buf.Len()).Msg("published snapshot")
	return nil
}

// PullResult summarizes one pull.
type PullResult struct {
	Merged  int
	Skipped int
}

// PullAndMerge fetches every peer snapshot and merges it into e. Peers whose
// snapshots are incompatible or corrupt are logged and skipped; e is left
// untouched by them. Store errors abort the pull.
func (s *Syncer) PullAndMerge(ctx context.Context, e *engine.Engine) (PullResult, error) {
	keys, err := s.kv.Scan(ctx, s.prefix+":node:*")
	if err != nil {
		return PullResult{}, errors.Wrap(err, "scan peers")
	}

	var merged, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		if key == s.Key() {
			continue
		}
		g.Go(func() error {
			data, err := s.kv.GetBytes(gctx, key)
			if errors.Is(err, ErrNotFound) {
				skipped.Add(1)
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "fetch %s", key)
			}
			snap, err := engine.DecodeSnapshot(bytes.NewReader(data))
			if err == nil {
				err = e.Merge(snap)
			}
			switch {
			case err == nil:
				merged.Add(1)
			case errors.Is(err, kakaerr.ErrIncompatibleFilter), errors.Is(err, kakaerr.ErrCorrupt):
				s.log.Warn().Err(err).Str("peer", key).Msg("skipping peer snapshot")
				skipped.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	err = g.Wait()
	res := PullResult{Merged: int(merged.Load()), Skipped: int(skipped.Load())}
	if err != nil {
		return res, err
	}
	s.log.Debug().Int("merged", res.Merged).Int("skipped", res.Skipped).Msg("pulled peers")
	return res, nil
}

// Sync publishes and then pulls.
func (s *Syncer) Sync(ctx context.Context, e *engine.Engine) (PullResult, error) {
	if err := s.Publish(ctx, e); err != nil {
		return PullResult{}, err
	}
	return s.PullAndMerge(ctx, e)
}

// Run syncs every interval until ctx is cancelled. Errors are logged and the
// loop continues. A final publish runs on the way out so peers see this node's
// last state.
func (s *Syncer) Run(ctx context.Context, e *engine.Engine, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Publish(fctx, e); err != nil {
				s.log.Warn().Err(err).Msg("final publish failed")
			}
			cancel()
			return
		case <-t.C:
			if _, err := s.Sync(ctx, e); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("sync failed")
			}
		}
	}
}

// Leave removes this node's snapshot.
func (s *Syncer) Leave(ctx context.Context) error {
	_, err := s.kv.Del(ctx, s.Key())
	return err
}
