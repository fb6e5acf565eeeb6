// Package filter implements the sliding-window median-average sample
// filters used to denoise raw UWB angle/distance readings before they
// reach the ranging client.
//
// A filter holds up to WindowSize samples. Result() sorts the retained
// samples by value, drops K outliers from each end, and returns the
// FOM-weighted average of what remains (and of the corresponding
// instants, rebased to the earliest retained instant to bound the sum).
// K and the cut fraction are related by:
//
//	K = round(WindowSize * (1 - cut) / 2)
//
// clamped so at least one sample (two, for an even window) survives.
// cut=0 is a pure median-ish trim; cut=1 keeps every sample (a plain
// average).
package filter

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// maxWindowSize is the largest window the filter accepts.
const maxWindowSize = 255

// Sentinel errors for filter configuration and queries.
var (
	// ErrEmpty indicates Result was called before any sample was added.
	ErrEmpty = errors.New("filter: no samples")

	// ErrInvalidWindowSize indicates a window size outside [1, 255].
	ErrInvalidWindowSize = errors.New("filter: window size must be in [1, 255]")

	// ErrInvalidCut indicates a cut fraction outside [0, 1].
	ErrInvalidCut = errors.New("filter: cut must be in [0, 1]")

	// ErrZeroWeight indicates the FOM weights of a mixed-FOM window sum
	// to zero. A window in which every sample has FOM 0 is not rejected;
	// it is averaged with equal weights.
	ErrZeroWeight = errors.New("filter: sum of figure-of-merit weights is zero")
)

// instant is a monotonic timestamp rebased to the earliest sample in the
// current window. Using a single duration-based representation (instead
// of mixing time.Time and raw millisecond counts, the way the filters this
// package was modeled on sometimes did) keeps every filter variant's
// mean-of-instants computation identical.
type instant = time.Duration

// Sample is one filter input/output value: a measurement, the instant it
// was taken, and an optional figure of merit in [0, 1] used to weight it.
type Sample struct {
	Value   float64
	Instant instant
	FOM     float64
}

// retained is an internal window slot: a sample's value, instant and
// FOM. Compensate adjusts only the value.
type retained struct {
	value float64
	at    instant
	fom   float64
}

// Filter is a sliding-window median-average sample filter.
// The zero value is not usable; construct with New.
type Filter struct {
	window     []retained
	windowSize int
	cut        float64
	remap      func(float64) float64
}

// Option configures a Filter at construction time.
type Option func(*Filter)

// WithCut sets the cut fraction. Valid range is
// [0, 1]; cut=0 trims toward the median, cut=1 disables trimming.
func WithCut(cut float64) Option {
	return func(f *Filter) {
		f.cut = cut
	}
}

// WithRemap installs a post-average remap function, e.g. angle
// normalization for the rotation variant.
func WithRemap(remap func(float64) float64) Option {
	return func(f *Filter) {
		f.remap = remap
	}
}

// New creates a Filter with the given window size, a sliding window of
// up to N samples (1 <= N <= 255). Default cut is
// 1.0 (plain average) unless overridden with WithCut.
func New(windowSize int, opts ...Option) (*Filter, error) {
	if windowSize < 1 || windowSize > maxWindowSize {
		return nil, fmt.Errorf("new filter: %w", ErrInvalidWindowSize)
	}

	f := &Filter{
		windowSize: windowSize,
		cut:        1.0,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cut < 0 || f.cut > 1 {
		return nil, fmt.Errorf("new filter: %w", ErrInvalidCut)
	}

	return f, nil
}

// SetWindowSize changes the filter's window capacity. Shrinking the
// window evicts the oldest samples immediately.
func (f *Filter) SetWindowSize(n int) error {
	if n < 1 || n > maxWindowSize {
		return fmt.Errorf("set window size: %w", ErrInvalidWindowSize)
	}
	f.windowSize = n
	if len(f.window) > n {
		f.window = f.window[len(f.window)-n:]
	}
	return nil
}

// SetCut changes the cut fraction used by Result.
func (f *Filter) SetCut(cut float64) error {
	if cut < 0 || cut > 1 {
		return fmt.Errorf("set cut: %w", ErrInvalidCut)
	}
	f.cut = cut
	return nil
}

// Add appends a sample, evicting the oldest when the window is full.
func (f *Filter) Add(value float64, at time.Duration, fom float64) {
	f.window = append(f.window, retained{value: value, at: at, fom: fom})
	if len(f.window) > f.windowSize {
		f.window = f.window[1:]
	}
}

// earliestInstant returns the earliest instant among the currently
// retained samples, used to rebase the mean-of-instants computation
// rebased to the earliest window instant to bound the overflow of the
// accumulated mean. Recomputed from the live window rather than tracked
// incrementally so eviction never leaves a stale epoch behind.
func (f *Filter) earliestInstant() instant {
	min := f.window[0].at
	for _, s := range f.window[1:] {
		if s.at < min {
			min = s.at
		}
	}
	return min
}

// Compensate adds shift to every retained sample's value, used when the
// observer's reference frame moves.
func (f *Filter) Compensate(shift float64) {
	for i := range f.window {
		f.window[i].value += shift
	}
}

// trimCount returns K, the number of outliers dropped from each end of
// the sorted window, for the given window length.
func trimCount(windowLen int, cut float64) int {
	k := int(float64(windowLen)*(1-cut)/2 + 0.5)

	minSurvivors := 1
	if windowLen%2 == 0 {
		minSurvivors = 2
	}
	for windowLen-2*k < minSurvivors {
		if k == 0 {
			break
		}
		k--
	}
	return k
}

// Result returns the FOM-weighted average of the middle portion of the
// sorted window. Fails with ErrEmpty if no sample has been added yet.
func (f *Filter) Result() (Sample, error) {
	if len(f.window) == 0 {
		return Sample{}, fmt.Errorf("result: %w", ErrEmpty)
	}

	if len(f.window) == 1 {
		s := f.window[0]
		val := s.value
		if f.remap != nil {
			val = f.remap(val)
		}
		return Sample{Value: val, Instant: s.at, FOM: s.fom}, nil
	}

	sorted := make([]retained, len(f.window))
	copy(sorted, f.window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })

	k := trimCount(len(sorted), f.cut)
	middle := sorted[k : len(sorted)-k]

	val, err := weightedAverage(middle)
	if err != nil {
		return Sample{}, fmt.Errorf("result: %w", err)
	}
	if f.remap != nil {
		val = f.remap(val)
	}

	avgInstant := weightedAverageInstant(middle, f.earliestInstant())
	avgFOM := meanFOM(middle)

	return Sample{Value: val, Instant: avgInstant, FOM: avgFOM}, nil
}

// weightedAverage computes the FOM-weighted mean of the given slots. If
// every slot has FOM 0 it returns their plain arithmetic mean instead of
// rejecting; otherwise zero-FOM members are weighted 0 (dropped from the
// numerator) and ErrZeroWeight is returned only if the weights still sum
// to zero.
func weightedAverage(slots []retained) (float64, error) {
	var sumW, sumWV float64
	allEqualWeight := true
	for _, s := range slots {
		if s.fom != slots[0].fom {
			allEqualWeight = false
		}
	}
	if allEqualWeight && slots[0].fom == 0 {
		// No FOM information at all: treat every sample as equally
		// weighted (plain arithmetic mean) rather than rejecting, since
		// FOM is optional.
		var sum float64
		for _, s := range slots {
			sum += s.value
		}
		return sum / float64(len(slots)), nil
	}
	for _, s := range slots {
		sumW += s.fom
		sumWV += s.fom * s.value
	}
	if sumW == 0 {
		return 0, ErrZeroWeight
	}
	return sumWV / sumW, nil
}

func weightedAverageInstant(slots []retained, epoch instant) instant {
	useFOM := false
	for _, s := range slots {
		if s.fom != 0 {
			useFOM = true
			break
		}
	}

	if !useFOM {
		var sum time.Duration
		for _, s := range slots {
			sum += s.at - epoch
		}
		return epoch + sum/time.Duration(len(slots))
	}

	var sumW, sumWV float64
	for _, s := range slots {
		rebased := float64(s.at - epoch)
		sumW += s.fom
		sumWV += s.fom * rebased
	}
	if sumW == 0 {
		var sum time.Duration
		for _, s := range slots {
			sum += s.at - epoch
		}
		return epoch + sum/time.Duration(len(slots))
	}
	return epoch + time.Duration(sumWV/sumW)
}

func meanFOM(slots []retained) float64 {
	values := make([]float64, len(slots))
	for i, s := range slots {
		values[i] = s.fom
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return mean
}
