package aoa

import (
	"fmt"

	"github.com/uwbcore/uwbd/internal/filter"
)

// PositionFilter owns three scalar filters -- azimuth and elevation as
// rotation filters, distance as a linear filter -- and exclusively owns
// them for its lifetime.
type PositionFilter struct {
	azimuth   *filter.RotationFilter
	elevation *filter.RotationFilter
	distance  *filter.Filter
}

// NewPositionFilter creates a PositionFilter with the given window size
// and cut fraction shared by all three scalar filters.
func NewPositionFilter(windowSize int, cut float64) (*PositionFilter, error) {
	az, err := filter.NewRotation(windowSize, filter.WithCut(cut))
	if err != nil {
		return nil, fmt.Errorf("position filter: azimuth: %w", err)
	}
	el, err := filter.NewRotation(windowSize, filter.WithCut(cut))
	if err != nil {
		return nil, fmt.Errorf("position filter: elevation: %w", err)
	}
	dist, err := filter.New(windowSize, filter.WithCut(cut))
	if err != nil {
		return nil, fmt.Errorf("position filter: distance: %w", err)
	}
	return &PositionFilter{azimuth: az, elevation: el, distance: dist}, nil
}

// Add feeds one primed measurement into the three scalar filters.
func (pf *PositionFilter) Add(m Measurement) {
	pf.azimuth.Add(m.Azimuth, m.Instant, m.AzimuthFOM)
	pf.elevation.Add(m.Elevation, m.Instant, m.ElevationFOM)
	pf.distance.Add(m.Distance, m.Instant, m.DistanceFOM)
}

// Result returns the current filtered estimate. Fails with the
// underlying filter's error if any of the three scalar filters is
// empty.
func (pf *PositionFilter) Result() (Estimate, error) {
	az, err := pf.azimuth.Result()
	if err != nil {
		return Estimate{}, fmt.Errorf("position filter: azimuth: %w", err)
	}
	el, err := pf.elevation.Result()
	if err != nil {
		return Estimate{}, fmt.Errorf("position filter: elevation: %w", err)
	}
	dist, err := pf.distance.Result()
	if err != nil {
		return Estimate{}, fmt.Errorf("position filter: distance: %w", err)
	}
	return Estimate{Azimuth: az.Value, Elevation: el.Value, Distance: dist.Value}, nil
}

// Compensate shifts every retained sample in all three scalar filters
// by the given per-axis deltas, used to keep the world-locked position
// of the tag stable across device motion.
func (pf *PositionFilter) Compensate(dAzimuth, dElevation, dDistance float64) {
	pf.azimuth.Compensate(dAzimuth)
	pf.elevation.Compensate(dElevation)
	pf.distance.Compensate(dDistance)
}
