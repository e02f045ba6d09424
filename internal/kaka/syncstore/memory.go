package syncstore

import (
	"context"
	"path"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemoryProvider is an in-process KVProvider.
type MemoryProvider struct {
	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{mem: make(map[string]memEntry), now: time.Now}
}

func (p *MemoryProvider) live(k string) (memEntry, bool) {
	e, ok := p.mem[k]
	if ok && !e.expires.IsZero() && !p.now().Before(e.expires) {
		delete(p.mem, k)
		return memEntry{}, false
	}
	return e, ok
}

func (p *MemoryProvider) GetBytes(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := memEntry{value: append([]byte(nil), value...)}
	if expiration > 0 {
		e.expires = p.now().Add(expiration)
	}
	p.mem[key] = e
	return nil
}

func (p *MemoryProvider) Del(_ context.Context, keys ...string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := p.live(k); ok {
			delete(p.mem, k)
			n++
		}
	}
	return n, nil
}

// Scan matches keys with path.Match, which agrees with redis globs for the
// patterns the syncer uses.
func (p *MemoryProvider) Scan(_ context.Context, match string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := []string{}
	for k := range p.mem {
		if _, ok := p.live(k); !ok {
			continue
		}
		if ok, err := path.Match(match, k); err != nil {
			return nil, err
		} else if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (p *MemoryProvider) Close() error { return nil }
