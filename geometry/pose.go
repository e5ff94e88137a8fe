// Package geometry holds the stateless math the mappers are built on: rigid
// 3D poses, plane algebra with the sign conventions the structural detectors
// rely on, and cloud-overlap checks.
package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/cloud"
)

// Pose is a rigid transform: rotation followed by translation.
type Pose struct {
	Rotation    quat.Number
	Translation r3.Vector
}

// NewPose returns the pose with the given rotation and translation. The
// rotation is normalized.
func NewPose(rotation quat.Number, translation r3.Vector) Pose {
	return Pose{Rotation: normalizeQuat(rotation), Translation: translation}
}

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	return Pose{Rotation: quat.Number{Real: 1}}
}

func normalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Compose returns p applied after other: (p * other) x = p(other(x)).
func (p Pose) Compose(other Pose) Pose {
	return Pose{
		Rotation:    normalizeQuat(quat.Mul(p.Rotation, other.Rotation)),
		Translation: p.TransformPoint(other.Translation),
	}
}

// Inverse returns the inverse transform.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(p.Rotation)
	return Pose{
		Rotation:    inv,
		Translation: cloud.RotateVector(inv, p.Translation.Mul(-1)),
	}
}

// TransformPoint applies the pose to a point.
func (p Pose) TransformPoint(v r3.Vector) r3.Vector {
	return cloud.RotateVector(p.Rotation, v).Add(p.Translation)
}

// RotateVector applies only the rotation to a direction vector.
func (p Pose) RotateVector(v r3.Vector) r3.Vector {
	return cloud.RotateVector(p.Rotation, v)
}

// Delta returns the transform taking p to other: p^-1 * other.
func (p Pose) Delta(other Pose) Pose {
	return p.Inverse().Compose(other)
}

// Angle returns the rotation angle of the pose in radians.
func (p Pose) Angle() float64 {
	w := p.Rotation.Real
	if w > 1 {
		w = 1
	} else if w < -1 {
		w = -1
	}
	return 2 * math.Acos(math.Abs(w))
}

// Spatial converts to the rdk pose representation used at the service
// boundary.
func (p Pose) Spatial() spatialmath.Pose {
	q := spatialmath.Quaternion(p.Rotation)
	return spatialmath.NewPose(p.Translation, &q)
}

// PoseFromSpatial converts from the rdk pose representation.
func PoseFromSpatial(sp spatialmath.Pose) Pose {
	return NewPose(sp.Orientation().Quaternion(), sp.Point())
}
