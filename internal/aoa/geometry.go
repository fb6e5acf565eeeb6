package aoa

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/uwbcore/uwbd/internal/pose"
)

// rotateIntoNewFrame re-expresses a world-locked Cartesian vector in the
// device frame after the device's orientation changes from `from` to
// `to`. The vector is first lifted into world coordinates using `from`,
// then projected back into device coordinates using the inverse of
// `to`.
func rotateIntoNewFrame(x, y, z float64, from, to quat.Number) (nx, ny, nz float64) {
	v := quat.Number{Imag: x, Jmag: y, Kmag: z}
	world := rotateVector(from, v)
	device := rotateVector(quat.Conj(to), world)
	return device.Imag, device.Jmag, device.Kmag
}

// rotateVector applies the rotation q to the pure-imaginary quaternion
// v via q*v*conj(q), the standard quaternion vector-rotation formula.
// q is assumed to be a unit quaternion.
func rotateVector(q, v quat.Number) quat.Number {
	return quat.Mul(quat.Mul(q, v), quat.Conj(q))
}

// poseCompensationDelta returns the spherical delta a world-locked
// Cartesian position undergoes when the device rotates from `from` to
// `to`: it converts the current spherical estimate to Cartesian,
// re-expresses it in the new device frame, converts back to spherical,
// and returns the new-minus-old per-axis deltas.
func poseCompensationDelta(current Estimate, from, to pose.Pose) (dAz, dEl, dDist float64) {
	x, y, z := sphericalToCartesian(current.Azimuth, current.Elevation, current.Distance)
	nx, ny, nz := rotateIntoNewFrame(x, y, z, from.Rotation, to.Rotation)
	naz, nel, ndist := cartesianToSpherical(nx, ny, nz)
	return naz - current.Azimuth, nel - current.Elevation, ndist - current.Distance
}

// yawOf extracts the yaw component (rotation about the vertical Y axis)
// from a device pose, used as the device-motion signal back-azimuth
// resolution correlates against.
func yawOf(p pose.Pose) float64 {
	q := p.Rotation
	siny := 2 * (q.Real*q.Jmag + q.Imag*q.Kmag)
	cosy := 1 - 2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag)
	return math.Atan2(siny, cosy)
}
