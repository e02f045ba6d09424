package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := simConfig()
	cfg.Granularities = []int{4}
	e, err := New(cfg)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, e.Insert(fmt.Sprintf("https://example.com/%d", i), article(fmt.Sprint("topic", i), 0)))
	}

	var buf bytes.Buffer
	require.NoError(t, e.WriteSnapshot(&buf))
	assert.Equal(t, SnapshotMagic, buf.String()[:8])

	s, err := DecodeSnapshot(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, e.Snapshot(), s)

	fresh, err := Restore(cfg, s)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		ok, _ := fresh.Contains(fmt.Sprintf("https://example.com/%d", i))
		assert.True(t, ok)
		hit, _ := fresh.FindSimilar(article(fmt.Sprint("topic", i), 0), 0.9)
		assert.True(t, hit)
	}

	other, _ := New(cfg)
	require.NoError(t, other.LoadSnapshot(bytes.NewReader(buf.Bytes())))
	ok, _ := other.Contains("https://example.com/7")
	assert.True(t, ok)
}

func TestDecodeSnapshot_Corruption(t *testing.T) {
	e, _ := New(Config{Capacity: 100, FalsePositiveRate: 0.01})
	_ = e.Insert("https://example.com/", nil)
	var buf bytes.Buffer
	require.NoError(t, e.WriteSnapshot(&buf))
	good := buf.Bytes()

	flipped := append([]byte(nil), good...)
	flipped[len(flipped)/2] ^= 0x01

	badOp := append([]byte(nil), good...)
	badOp[8] = 0x7E

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("NOTKAKA!"), good[8:]...)},
		{"truncated", good[:len(good)-3]},
		{"bit flip", flipped},
		{"unknown opcode", badOp},
		{"huge length without header", exactSection(1<<34, 0)},
		{"length shorter than header", exactSection(bloom.HeaderSize-1, 0)},
		{"length disagrees with header", exactSection(bloom.EncodedLen(1000)+8, 1000)},
		{"huge filter truncated", exactSection(bloom.EncodedLen(1<<36), 1<<36)},
		{"filter too large", exactSection(bloom.EncodedLen(1<<41), 1<<41)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, kakaerr.ErrCorrupt), "got %v", err)
		})
	}
}

// exactSection builds a snapshot prefix that ends inside an OpExact section
// with length prefix n. When m is non-zero a bloom header claiming m bits
// follows the prefix; no body bytes are written.
func exactSection(n, m uint64) []byte {
	var b bytes.Buffer
	b.WriteString(SnapshotMagic)
	b.Write([]byte{OpParams, 0})
	b.Write(make([]byte, 12))
	b.WriteByte(OpExact)
	b.Write(binary.LittleEndian.AppendUint64(nil, n))
	if m > 0 {
		h := bloom.Header(make([]byte, bloom.HeaderSize))
		h.SetMagic(bloom.Magic)
		h.SetBits(m)
		h.SetProbes(7)
		b.Write(h)
	}
	return b.Bytes()
}

func TestMerge_Union(t *testing.T) {
	cfg := simConfig()
	a, _ := New(cfg)
	b, _ := New(cfg)
	require.NoError(t, a.Insert("https://a.example/", article("alpha", 0)))
	require.NoError(t, b.Insert("https://b.example/", article("beta", 0)))

	require.NoError(t, a.Merge(b.Snapshot()))
	for _, u := range []string{"https://a.example/", "https://b.example/"} {
		ok, _ := a.Contains(u)
		assert.True(t, ok, u)
	}
	hit, _ := a.FindSimilar(article("beta", 0), 0.9)
	assert.True(t, hit)
}

func TestMerge_Incompatible(t *testing.T) {
	base := simConfig()
	a, _ := New(base)
	require.NoError(t, a.Insert("https://keep.example/", []byte("keep")))
	before := a.Snapshot()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"capacity", func(c *Config) { c.Capacity *= 2 }},
		{"seed", func(c *Config) { c.Seed = 12345 }},
		{"bands", func(c *Config) { c.Bands = 4 }},
		{"width", func(c *Config) { c.FingerprintWidth = 64 }},
		{"simhash off", func(c *Config) { c.SimHashEnabled = false }},
		{"extra granularity", func(c *Config) { c.Granularities = []int{4} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			other, err := New(cfg)
			require.NoError(t, err)
			_ = other.Insert("https://other.example/", []byte("other"))

			err = a.Merge(other.Snapshot())
			assert.True(t, errors.Is(err, kakaerr.ErrIncompatibleFilter), "got %v", err)
			assert.Equal(t, before, a.Snapshot())
		})
	}
}
