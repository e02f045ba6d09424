package kakaerr

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"config", Config("capacity %d", 0), ErrConfig},
		{"dimension", Dimension(64, 128), ErrDimensionMismatch},
		{"incompatible", Incompatible("m %d != %d", 1, 2), ErrIncompatibleFilter},
		{"corrupt", Corrupt("bad crc"), ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, stderrors.Is(tt.err, tt.kind))
			assert.Contains(t, tt.err.Error(), tt.kind.Error())
		})
	}
	assert.False(t, stderrors.Is(Config("x"), ErrIncompatibleFilter))
	assert.Equal(t, "width 64, expected 128: kaka: dimension mismatch", Dimension(64, 128).Error())
}
