package player

import "math"

// SeekEndGuard keeps seek offsets this far before a segment's end so that
// landing on the boundary does not fire "ended".
const SeekEndGuard = 0.05

// BestKnown returns measured when it is a usable duration, else declared.
func BestKnown(measured, declared float64) float64 {
	if measured > 0 && !math.IsInf(measured, 0) && !math.IsNaN(measured) {
		return measured
	}
	return declared
}

// Offset returns the global time at which segment index starts.
func Offset(durations []float64, index int) float64 {
	var sum float64
	for i := 0; i < index && i < len(durations); i++ {
		sum += durations[i]
	}
	return sum
}

// Locate maps a global time to a segment index and an offset within it. The
// offset is clamped to [0, duration-SeekEndGuard]. Times at or past the end
// resolve to the last segment. An empty timeline returns (0, 0).
func Locate(durations []float64, t float64) (index int, offset float64) {
	if len(durations) == 0 {
		return 0, 0
	}
	if t < 0 {
		t = 0
	}

	var cum float64
	found := false
	for i, d := range durations {
		if cum+d > t {
			index, found = i, true
			break
		}
		cum += d
	}
	if !found {
		index = len(durations) - 1
		cum -= durations[index]
	}

	offset = t - cum
	if limit := durations[index] - SeekEndGuard; offset > limit {
		offset = limit
	}
	if offset < 0 {
		offset = 0
	}
	return index, offset
}
