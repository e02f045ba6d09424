package syncstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaka.lopezb.com/internal/kaka/engine"
)

var ctx = context.Background()

func TestMemoryProvider(t *testing.T) {
	prov := NewMemoryProvider()

	keys, err := prov.Scan(ctx, "kaka:node:*")
	require.NoError(t, err)
	require.Equal(t, []string{}, keys)

	_, err = prov.GetBytes(ctx, "kaka:node:a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, prov.Set(ctx, "kaka:node:a", []byte("one"), 0))
	require.NoError(t, prov.Set(ctx, "kaka:node:b", []byte("two"), 0))
	require.NoError(t, prov.Set(ctx, "other:key", []byte("x"), 0))

	res, err := prov.GetBytes(ctx, "kaka:node:a")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), res)

	keys, err = prov.Scan(ctx, "kaka:node:*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"kaka:node:a", "kaka:node:b"}, keys)

	n, err := prov.Del(ctx, "kaka:node:a", "missing")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestMemoryProvider_Expiry(t *testing.T) {
	prov := NewMemoryProvider()
	now := time.Unix(1000, 0)
	prov.now = func() time.Time { return now }

	require.NoError(t, prov.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := prov.GetBytes(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = prov.GetBytes(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func newEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	e, err := engine.New(cfg)
	require.NoError(t, err)
	return e
}

func TestConvergence(t *testing.T) {
	kv := NewMemoryProvider()
	cfg := engine.Config{Capacity: 1000, FalsePositiveRate: 0.01}

	nodes := make([]*engine.Engine, 3)
	syncers := make([]*Syncer, 3)
	for i := range nodes {
		nodes[i] = newEngine(t, cfg)
		syncers[i] = New(kv, "kaka", fmt.Sprintf("n%d", i))
		for j := 0; j < 20; j++ {
			require.NoError(t, nodes[i].Insert(fmt.Sprintf("https://n%d.example/%d", i, j), nil))
		}
		require.NoError(t, syncers[i].Publish(ctx, nodes[i]))
	}

	for i := range nodes {
		res, err := syncers[i].PullAndMerge(ctx, nodes[i])
		require.NoError(t, err)
		assert.Equal(t, 2, res.Merged)
		assert.Equal(t, 0, res.Skipped)
	}

	for _, e := range nodes {
		for i := 0; i < 3; i++ {
			for j := 0; j < 20; j++ {
				ok, err := e.Contains(fmt.Sprintf("https://n%d.example/%d", i, j))
				require.NoError(t, err)
				require.True(t, ok)
			}
		}
	}
}

func TestPullSkipsIncompatible(t *testing.T) {
	kv := NewMemoryProvider()
	local := newEngine(t, engine.Config{Capacity: 1000, FalsePositiveRate: 0.01})
	alien := newEngine(t, engine.Config{Capacity: 50_000, FalsePositiveRate: 0.01})
	require.NoError(t, alien.Insert("https://alien.example/", nil))

	require.NoError(t, New(kv, "kaka", "alien").Publish(ctx, alien))
	require.NoError(t, kv.Set(ctx, "kaka:node:garbage", []byte("not a snapshot"), 0))

	before := local.Snapshot()
	res, err := New(kv, "kaka", "local").PullAndMerge(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Merged)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, before, local.Snapshot())
}

func TestNodeIDAndLeave(t *testing.T) {
	kv := NewMemoryProvider()
	s := New(kv, "kaka", "")
	assert.Len(t, s.NodeID(), 36)
	assert.Equal(t, "kaka:node:"+s.NodeID(), s.Key())

	e := newEngine(t, engine.Config{Capacity: 10, FalsePositiveRate: 0.1})
	require.NoError(t, s.Publish(ctx, e))
	require.NoError(t, s.Leave(ctx))
	_, err := kv.GetBytes(ctx, s.Key())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun(t *testing.T) {
	kv := NewMemoryProvider()
	cfg := engine.Config{Capacity: 100, FalsePositiveRate: 0.01}
	a, b := newEngine(t, cfg), newEngine(t, cfg)
	require.NoError(t, b.Insert("https://b.example/", nil))
	require.NoError(t, New(kv, "kaka", "b").Publish(ctx, b))

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		New(kv, "kaka", "a").Run(rctx, a, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ok, _ := a.Contains("https://b.example/")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	_, err := kv.GetBytes(ctx, "kaka:node:a")
	assert.NoError(t, err, "final publish")
}
