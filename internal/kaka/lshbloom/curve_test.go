package lshbloom

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

func TestMatchProbability(t *testing.T) {
	assert.Equal(t, 1.0, MatchProbability(1, 8, 8))
	assert.Equal(t, 0.0, MatchProbability(0, 8, 8))

	// At the threshold s^r = 1/b, so P = 1 - (1-1/b)^b, which sits between
	// one half and 1 - 1/e.
	for _, br := range [][2]int{{8, 8}, {16, 8}, {4, 16}, {32, 4}} {
		b, r := br[0], br[1]
		p := MatchProbability(Threshold(b, r), r, b)
		assert.InDelta(t, 0.65, p, 0.05, "b=%d r=%d", b, r)
	}

	// Monotone in s.
	prev := 0.0
	for s := 0.0; s <= 1.0; s += 0.05 {
		p := MatchProbability(s, 8, 16)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
}

func TestThreshold(t *testing.T) {
	assert.InDelta(t, math.Pow(0.125, 0.125), Threshold(8, 8), 1e-12)
	assert.Less(t, Threshold(16, 8), Threshold(8, 16), "more bands lower the threshold")
}

func TestChooseBands(t *testing.T) {
	b, err := ChooseBands(64, Threshold(8, 8))
	require.NoError(t, err)
	assert.Equal(t, 8, b)

	b, err = ChooseBands(256, 0.5)
	require.NoError(t, err)
	assert.Zero(t, 256%b)
	assert.LessOrEqual(t, 256/b, 64)

	// Rows above 64 are never chosen, even for thresholds near 1.
	b, err = ChooseBands(256, 0.999)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b, 4)

	_, err = ChooseBands(64, 1.5)
	assert.True(t, errors.Is(err, kakaerr.ErrConfig))
	_, err = ChooseBands(0, 0.5)
	assert.True(t, errors.Is(err, kakaerr.ErrConfig))
}
