package aoa

import "math"

// EstimatedElevationPrimer fills in a best-guess elevation when an
// upstream measurement omits one, so downstream code always has
// consistent 3D geometry to work with.
type EstimatedElevationPrimer struct {
	// Estimate is the best-guess elevation in radians injected when a
	// measurement arrives with HasElevation=false. Defaults to 0 (the
	// horizontal plane) at the zero value.
	Estimate float64
}

// Apply injects the configured estimate when elevation is missing, and
// passes the measurement through unchanged otherwise.
func (p EstimatedElevationPrimer) Apply(m Measurement) (Measurement, error) {
	if m.HasElevation {
		return m, nil
	}
	m.Elevation = p.Estimate
	m.HasElevation = true
	return m, nil
}

// FOVPrimer drops measurements whose azimuth magnitude exceeds a
// configured field of view.
type FOVPrimer struct {
	// FieldOfView is the half-angle field of view in radians: azimuth
	// magnitudes greater than this are rejected.
	FieldOfView float64
}

// Apply rejects m with ErrOutsideFieldOfView if its azimuth magnitude
// exceeds the configured field of view.
func (p FOVPrimer) Apply(m Measurement) (Measurement, error) {
	if math.Abs(m.Azimuth) > p.FieldOfView {
		return Measurement{}, ErrOutsideFieldOfView
	}
	return m, nil
}

// AoAPrimer resolves gimbal-lock / sign ambiguity that raw radio output
// can exhibit near the vertical: when elevation approaches +-pi/2 the
// azimuth reading becomes poorly conditioned, so it is folded toward
// zero rather than left to destabilize downstream averaging.
type AoAPrimer struct {
	// GimbalLockThreshold is the elevation magnitude (radians) above
	// which azimuth is considered unreliable. Defaults to 0 (disabled)
	// at the zero value; callers configure a value close to pi/2.
	GimbalLockThreshold float64
}

// Apply folds azimuth toward zero once elevation passes the configured
// gimbal-lock threshold.
func (p AoAPrimer) Apply(m Measurement) (Measurement, error) {
	if p.GimbalLockThreshold > 0 && math.Abs(m.Elevation) >= p.GimbalLockThreshold {
		m.Azimuth = 0
	}
	return m, nil
}

// Primer transforms or rejects a raw measurement before it reaches the
// position filter.
type Primer interface {
	Apply(Measurement) (Measurement, error)
}
