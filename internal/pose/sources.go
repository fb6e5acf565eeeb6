package pose

import (
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// -------------------------------------------------------------------------
// Rotation-vector source
// -------------------------------------------------------------------------

// RotationVectorSource reads absolute orientation from a fused sensor:
// yaw, pitch, roll, and an absolute upright reference.
type RotationVectorSource struct {
	base
	acquireStart func()
	acquireStop  func()
}

// NewRotationVectorSource creates a source backed by an external fused
// orientation feed. acquireStart/acquireStop are invoked when the first
// listener registers / last listener leaves, so the caller can start and
// stop the underlying sensor subscription.
func NewRotationVectorSource(acquireStart, acquireStop func(), logger *slog.Logger) *RotationVectorSource {
	s := &RotationVectorSource{acquireStart: acquireStart, acquireStop: acquireStop}
	s.base = newBase(s.start, s.stop, logger)
	return s
}

func (s *RotationVectorSource) start() {
	if s.acquireStart != nil {
		s.acquireStart()
	}
}

func (s *RotationVectorSource) stop() {
	if s.acquireStop != nil {
		s.acquireStop()
	}
}

// Capabilities reports this source's axes.
func (s *RotationVectorSource) Capabilities() Capability {
	return CapYaw | CapPitch | CapRoll | CapUpright
}

// Feed delivers a raw sensor quaternion (native "+Z up" frame) to the
// source, reframing it to "+Y up" before publishing.
func (s *RotationVectorSource) Feed(rotation quat.Number) {
	s.publish(Pose{Rotation: quat.Mul(zUpToYUp(), rotation)})
}

// -------------------------------------------------------------------------
// 6-DOF source
// -------------------------------------------------------------------------

// SixDOFSource reports absolute orientation plus translation: every
// capability bit set.
type SixDOFSource struct {
	base
	acquireStart func()
	acquireStop  func()
}

// NewSixDOFSource creates a 6DOF pose source.
func NewSixDOFSource(acquireStart, acquireStop func(), logger *slog.Logger) *SixDOFSource {
	s := &SixDOFSource{acquireStart: acquireStart, acquireStop: acquireStop}
	s.base = newBase(s.start, s.stop, logger)
	return s
}

func (s *SixDOFSource) start() {
	if s.acquireStart != nil {
		s.acquireStart()
	}
}

func (s *SixDOFSource) stop() {
	if s.acquireStop != nil {
		s.acquireStop()
	}
}

// Capabilities reports this source's axes: every bit is set.
func (s *SixDOFSource) Capabilities() Capability {
	return CapYaw | CapPitch | CapRoll | CapX | CapY | CapZ | CapUpright
}

// Feed delivers a raw sensor translation + quaternion, reframing
// rotation from "+Z up" to "+Y up".
func (s *SixDOFSource) Feed(translation r3.Vec, rotation quat.Number) {
	s.publish(Pose{
		Translation: translation,
		Rotation:    quat.Mul(zUpToYUp(), rotation),
	})
}

// -------------------------------------------------------------------------
// Gyro-integration source
// -------------------------------------------------------------------------

// defaultIntegrationInterval is the nominal sample period the guard in
// Feed compares stall gaps against: the integration step is capped at
// 2x the declared interval when samples stall.
const defaultIntegrationInterval = 20 * time.Millisecond

// GyroIntegrationSource integrates angular velocity only; it cannot
// assert an absolute reference so it never reports CapUpright.
type GyroIntegrationSource struct {
	base
	interval time.Duration

	current  quat.Number
	lastFeed time.Time
	haveFeed bool

	acquireStart func()
	acquireStop  func()
}

// GyroOption configures a GyroIntegrationSource.
type GyroOption func(*GyroIntegrationSource)

// WithIntegrationInterval overrides the declared sample interval used
// for the stall guard.
func WithIntegrationInterval(d time.Duration) GyroOption {
	return func(s *GyroIntegrationSource) { s.interval = d }
}

// NewGyroIntegrationSource creates a gyro-integration pose source.
func NewGyroIntegrationSource(acquireStart, acquireStop func(), logger *slog.Logger, opts ...GyroOption) *GyroIntegrationSource {
	s := &GyroIntegrationSource{
		interval:     defaultIntegrationInterval,
		current:      quat.Number{Real: 1},
		acquireStart: acquireStart,
		acquireStop:  acquireStop,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = newBase(s.start, s.stop, logger)
	return s
}

func (s *GyroIntegrationSource) start() {
	s.haveFeed = false
	s.current = quat.Number{Real: 1}
	if s.acquireStart != nil {
		s.acquireStart()
	}
}

func (s *GyroIntegrationSource) stop() {
	if s.acquireStop != nil {
		s.acquireStop()
	}
}

// Capabilities reports this source's axes.
func (s *GyroIntegrationSource) Capabilities() Capability {
	return CapYaw | CapPitch | CapRoll
}

// Feed integrates one angular-velocity sample (rad/s about each axis,
// native "+Z up" frame) received at wall-clock time `at`. The
// integration step is capped at 2x the declared interval when samples
// stall.
func (s *GyroIntegrationSource) Feed(angularVelocity r3.Vec, at time.Time) {
	step := s.interval
	if s.haveFeed {
		elapsed := at.Sub(s.lastFeed)
		maxStep := 2 * s.interval
		if elapsed > 0 && elapsed < maxStep {
			step = elapsed
		} else if elapsed >= maxStep {
			step = maxStep
		}
	}
	s.lastFeed = at
	s.haveFeed = true

	delta := angularVelocityToDelta(angularVelocity, step)
	s.current = quat.Mul(s.current, delta)
	s.current = normalizeQuat(s.current)

	s.publish(Pose{Rotation: quat.Mul(zUpToYUp(), s.current)})
}

// angularVelocityToDelta converts a small angular-velocity sample over
// duration step into an incremental rotation quaternion using the
// first-order (small-angle) approximation standard for gyro
// integration.
func angularVelocityToDelta(w r3.Vec, step time.Duration) quat.Number {
	dt := step.Seconds()
	half := r3.Scale(dt/2, w)
	return normalizeQuat(quat.Number{Real: 1, Imag: half.X, Jmag: half.Y, Kmag: half.Z})
}

func normalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// -------------------------------------------------------------------------
// Application-supplied source
// -------------------------------------------------------------------------

// ApplicationSource lets the client application push Pose samples
// directly, either as seven floats (vec+quat) or a 4x4 transform
// matrix. Capabilities are fixed at construction since the
// application, not this package, knows what it can actually provide.
type ApplicationSource struct {
	base
	caps Capability
}

// NewApplicationSource creates an application-driven pose source
// advertising the given capability set.
func NewApplicationSource(caps Capability, logger *slog.Logger) *ApplicationSource {
	s := &ApplicationSource{caps: caps}
	s.base = newBase(nil, nil, logger)
	return s
}

// Capabilities reports the capability set fixed at construction.
func (s *ApplicationSource) Capabilities() Capability {
	return s.caps
}

// Push delivers an application-supplied pose (translation + quaternion
// form) directly -- no "+Z up"->"+Y up" reframe is applied, since an
// application-supplied pose is defined directly in this package's
// convention.
func (s *ApplicationSource) Push(translation r3.Vec, rotation quat.Number) {
	s.publish(Pose{Translation: translation, Rotation: rotation})
}

// PushMatrix delivers an application-supplied pose given as a row-major
// 4x4 homogeneous transform: the upper-left 3x3 is rotation, the last
// column (rows 0-2) is translation.
func (s *ApplicationSource) PushMatrix(m [16]float64) {
	translation := r3.Vec{X: m[3], Y: m[7], Z: m[11]}
	rotation := rotationFromMatrix3x3(m)
	s.publish(Pose{Translation: translation, Rotation: rotation})
}

// rotationFromMatrix3x3 extracts a unit quaternion from the rotation
// part of a row-major 4x4 transform using the standard trace-based
// conversion.
func rotationFromMatrix3x3(m [16]float64) quat.Number {
	m00, m01, m02 := m[0], m[1], m[2]
	m10, m11, m12 := m[4], m[5], m[6]
	m20, m21, m22 := m[8], m[9], m[10]

	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1.0)
		return normalizeQuat(quat.Number{
			Real: 0.25 / s,
			Imag: (m21 - m12) * s,
			Jmag: (m02 - m20) * s,
			Kmag: (m10 - m01) * s,
		})
	case m00 > m11 && m00 > m22:
		s := 2.0 * math.Sqrt(1.0+m00-m11-m22)
		return normalizeQuat(quat.Number{
			Real: (m21 - m12) / s,
			Imag: 0.25 * s,
			Jmag: (m01 + m10) / s,
			Kmag: (m02 + m20) / s,
		})
	case m11 > m22:
		s := 2.0 * math.Sqrt(1.0+m11-m00-m22)
		return normalizeQuat(quat.Number{
			Real: (m02 - m20) / s,
			Imag: (m01 + m10) / s,
			Jmag: 0.25 * s,
			Kmag: (m12 + m21) / s,
		})
	default:
		s := 2.0 * math.Sqrt(1.0+m22-m00-m11)
		return normalizeQuat(quat.Number{
			Real: (m10 - m01) / s,
			Imag: (m02 + m20) / s,
			Jmag: (m12 + m21) / s,
			Kmag: 0.25 * s,
		})
	}
}
