package filter

import (
	"math"
	"sort"
)

// twoPi is 2*pi, used for the rotation-filter gap/unwrap arithmetic.
const twoPi = 2 * math.Pi

// RotationFilter wraps Filter for angular values in (-pi, pi], handling
// the wraparound that would otherwise make a linear average of, say,
// {-3.04, 3.10} collapse toward 0 instead of toward +-pi.
type RotationFilter struct {
	*Filter
}

// NewRotation creates a RotationFilter with the given window size.
func NewRotation(windowSize int, opts ...Option) (*RotationFilter, error) {
	rf := &RotationFilter{}
	opts = append(opts, WithRemap(normalizeAngle))
	f, err := New(windowSize, opts...)
	if err != nil {
		return nil, err
	}
	rf.Filter = f
	return rf, nil
}

// Result returns the FOM-weighted circular average of the window.
// Before delegating to the base Filter's
// sort-trim-average, it rotates the window representation so the widest
// angular gap sits at the sort boundary, and unwraps angles before that
// boundary by +2*pi so a linear sort/average produces the correct
// circular mean.
func (rf *RotationFilter) Result() (Sample, error) {
	if len(rf.window) <= 1 {
		return rf.Filter.Result()
	}

	if allEqualValue(rf.window) {
		// When every retained sample has collapsed to the same angle,
		// the gap-finding step is undefined (every pairwise gap is
		// zero). Treat it as the single-sample case: average
		// degenerates to that value.
		return rf.Filter.Result()
	}

	saved := make([]retained, len(rf.window))
	copy(saved, rf.window)
	defer func() { rf.window = saved }()

	sorted := make([]retained, len(rf.window))
	copy(sorted, rf.window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })

	// Find the index i maximizing the circular gap between sorted[i] and
	// its predecessor sorted[i-1], where the predecessor of
	// index 0 wraps to the largest value minus a full turn. This is the
	// widest empty arc on the circle -- the natural place to cut it open
	// into a line.
	gapIdx := widestGapIndex(sorted)

	// Samples before the cut wrap around to become the largest values:
	// add a full turn so the whole window becomes a contiguous,
	// monotonically increasing run that a linear sort/trim/average
	// handles correctly.
	for i := 0; i < gapIdx; i++ {
		sorted[i].value += twoPi
	}
	rotated := make([]retained, 0, len(sorted))
	rotated = append(rotated, sorted[gapIdx:]...)
	rotated = append(rotated, sorted[:gapIdx]...)
	rf.window = rotated

	return rf.Filter.Result()
}

// widestGapIndex finds the index i (into the value-sorted slice) that
// maximizes the circular gap to its predecessor: ((v_i - v_{i-1}) mod
// 2*pi). samples must already be sorted ascending by value.
func widestGapIndex(samples []retained) int {
	best := 0
	bestGap := -1.0
	n := len(samples)
	for i := range samples {
		prev := samples[(i-1+n)%n].value
		gap := math.Mod(samples[i].value-prev, twoPi)
		if gap < 0 {
			gap += twoPi
		}
		if gap > bestGap {
			bestGap = gap
			best = i
		}
	}
	return best
}

func allEqualValue(samples []retained) bool {
	for _, s := range samples[1:] {
		if s.value != samples[0].value {
			return false
		}
	}
	return true
}

// normalizeAngle folds a (possibly unwrapped, possibly > pi) angle back
// into (-pi, pi].
func normalizeAngle(v float64) float64 {
	v = math.Mod(v+math.Pi, twoPi)
	if v <= 0 {
		v += twoPi
	}
	return v - math.Pi
}
