// Package pose implements the device-pose observer contract: a set of
// lazy pose producers that the AoA correction engine (internal/aoa)
// consumes to compensate ranging measurements for device motion.
//
// Sensor acquisition itself is out of scope: each variant here assumes
// something external (a fused-orientation sensor, a 6DOF tracker, a
// gyroscope, or the client application) feeds it raw samples through a
// small Feed (or, for the application source, Push) method, and this package is responsible only for the
// publish/subscribe contract, capability advertisement, and the
// "+Z up" -> "+Y up" reframing required of sensor-driven sources.
package pose

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Capability is a bitmask of the axes/properties a Source can report,
// drawn from {YAW, PITCH, ROLL, X, Y, Z, UPRIGHT}.
type Capability uint8

const (
	CapYaw Capability = 1 << iota
	CapPitch
	CapRoll
	CapX
	CapY
	CapZ
	// CapUpright asserts the source's pitch/roll are absolute (not
	// relative to an arbitrary reference).
	CapUpright
)

// Has reports whether c contains every bit set in want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Pose is an immutable device-pose snapshot: a 3-vector translation and
// a unit quaternion rotation, "+Y up, -Z forward".
// Poses are ordered by arrival time by convention of the publisher, not
// by any field on the struct itself.
type Pose struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// zUpToYUp is the fixed rotation sensor-driven sources apply to move
// from the sensor's native "+Z up" frame into this package's "+Y up"
// convention: every sensor-driven source rotates incoming quaternions
// from "+Z up" to the local "+Y up" by a fixed -pi/2 pitch.
func zUpToYUp() quat.Number {
	return rotationAboutX(-math.Pi / 2)
}

// rotationAboutX returns the quaternion representing a rotation of angle
// radians about the X axis, used for the fixed pitch reframe above.
func rotationAboutX(angle float64) quat.Number {
	return quat.Number{Real: math.Cos(angle / 2), Imag: math.Sin(angle / 2)}
}

// Listener receives Pose events from a Source. Implementations must be
// non-blocking since sources invoke listeners directly on the producing
// goroutine.
type Listener func(Pose)

// Source is a lazy producer of Pose events.
type Source interface {
	// Register starts acquisition on the first listener and returns an
	// unregister function. Calling the returned function more than once
	// is a no-op.
	Register(l Listener) (unregister func())

	// Snapshot returns the most recent pose, or false if none has been
	// published yet.
	Snapshot() (Pose, bool)

	// Capabilities reports which axes/properties this source can
	// report.
	Capabilities() Capability
}
