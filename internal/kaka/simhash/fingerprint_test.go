package simhash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

func TestBand(t *testing.T) {
	fp, err := FromWords(128, []uint64{0xF0F0_0000_0000_00AB, 0x0000_0000_0000_0003})
	require.NoError(t, err)

	tests := []struct {
		name string
		i, r int
		want uint64
	}{
		{"low byte", 0, 8, 0xAB},
		{"second byte", 1, 8, 0x00},
		{"top nibble of word 0", 15, 4, 0xF},
		{"whole first word", 0, 64, 0xF0F0_0000_0000_00AB},
		{"second word", 1, 64, 3},
		{"straddles words", 2, 24, 0x03F0F0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fp.Band(tt.i, tt.r))
		})
	}
}

func TestBand_Concatenation(t *testing.T) {
	e, _ := New(128)
	fp := e.HashText("the quick brown fox jumps over the lazy dog", 2)
	for _, r := range []int{4, 8, 16, 32} {
		for b := 0; b < 128/r; b++ {
			band := fp.Band(b, r)
			for j := 0; j < r; j++ {
				assert.Equal(t, fp.Bit(b*r+j), band>>uint(j)&1 == 1, "r=%d band=%d bit=%d", r, b, j)
			}
		}
	}
}

func TestFromWords(t *testing.T) {
	_, err := FromWords(0, nil)
	assert.True(t, errors.Is(err, kakaerr.ErrConfig))

	_, err = FromWords(128, []uint64{1})
	assert.True(t, errors.Is(err, kakaerr.ErrDimensionMismatch))

	fp, err := FromWords(10, []uint64{^uint64(0)})
	require.NoError(t, err)
	assert.Equal(t, 10, fp.OnesCount())
}

func TestHexRoundTrip(t *testing.T) {
	e, _ := New(192)
	fp := e.HashText("round trip through hex", 1)
	s := fp.String()
	assert.Len(t, s, 48)

	back, err := ParseHex(192, s)
	require.NoError(t, err)
	assert.True(t, fp.Equal(back))

	assert.Equal(t, "00000000000000ff", FromUint64(0xff).String())
}

func TestHammingDistance_Zero(t *testing.T) {
	_, err := HammingDistance(Fingerprint{}, Fingerprint{})
	assert.True(t, errors.Is(err, kakaerr.ErrConfig))
}
