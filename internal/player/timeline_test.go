package player

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocate(t *testing.T) {
	durations := []float64{10, 20, 15}

	tests := []struct {
		name   string
		t      float64
		index  int
		offset float64
	}{
		{"start", 0, 0, 0},
		{"inside first", 4.5, 0, 4.5},
		{"boundary belongs to next", 10, 1, 0},
		{"inside second", 25, 1, 15},
		{"near end of second is guarded", 29.99, 1, 19.95},
		{"inside last", 44.9, 2, 14.9},
		{"exact end", 45, 2, 14.95},
		{"past end", 100, 2, 14.95},
		{"negative", -3, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, off := Locate(durations, tt.t)
			assert.Equal(t, tt.index, idx)
			assert.InDelta(t, tt.offset, off, 1e-9)
		})
	}
}

func TestLocate_empty(t *testing.T) {
	idx, off := Locate(nil, 12)
	assert.Zero(t, idx)
	assert.Zero(t, off)
}

func TestOffset(t *testing.T) {
	durations := []float64{10, 20, 15}
	assert.Equal(t, 0.0, Offset(durations, 0))
	assert.Equal(t, 30.0, Offset(durations, 2))
	assert.Equal(t, 45.0, Offset(durations, 9))
}

func TestBestKnown(t *testing.T) {
	assert.Equal(t, 22.0, BestKnown(22, 20))
	assert.Equal(t, 20.0, BestKnown(0, 20))
	assert.Equal(t, 20.0, BestKnown(-1, 20))
	assert.Equal(t, 20.0, BestKnown(math.Inf(1), 20))
	assert.Equal(t, 20.0, BestKnown(math.NaN(), 20))
}
