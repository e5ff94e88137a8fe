package keyframe

import (
	"github.com/structkit/structure-slam/geometry"
)

// Updater gates odometry into keyframes: a new keyframe is created only
// after enough translation or rotation since the last one.
type Updater struct {
	deltaTrans float64
	deltaAngle float64

	first     bool
	prevPose  geometry.Pose
	accumDist float64
}

// NewUpdater returns an updater with the given movement gates.
func NewUpdater(deltaTrans, deltaAngle float64) *Updater {
	return &Updater{deltaTrans: deltaTrans, deltaAngle: deltaAngle, first: true}
}

// Update reports whether pose should become a keyframe. The first pose
// always does. Accepted poses advance the accumulated travel distance.
func (u *Updater) Update(pose geometry.Pose) bool {
	if u.first {
		u.first = false
		u.prevPose = pose
		return true
	}
	delta := u.prevPose.Delta(pose)
	dx := delta.Translation.Norm()
	da := delta.Angle()
	if dx < u.deltaTrans && da < u.deltaAngle {
		return false
	}
	u.accumDist += dx
	u.prevPose = pose
	return true
}

// AccumDistance returns the travel distance over all accepted poses.
func (u *Updater) AccumDistance() float64 {
	return u.accumDist
}
