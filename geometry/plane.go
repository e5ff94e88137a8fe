package geometry

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/structkit/structure-slam/cloud"
)

// Plane is an infinite plane in Hessian-like form: Normal·p + Offset = 0.
// The normal is unit length by construction everywhere planes are produced.
type Plane struct {
	Normal r3.Vector
	Offset float64
}

// Class partitions planes by their dominant map-frame axis.
type Class int

const (
	// ClassNone marks planes with no dominant axis; they are not mapped.
	ClassNone Class = iota
	// ClassX marks vertical planes facing the X axis.
	ClassX
	// ClassY marks vertical planes facing the Y axis.
	ClassY
	// ClassHorizontal marks floor/ceiling-like planes facing the Z axis.
	ClassHorizontal
)

func (c Class) String() string {
	switch c {
	case ClassX:
		return "x-vertical"
	case ClassY:
		return "y-vertical"
	case ClassHorizontal:
		return "horizontal"
	default:
		return "unclassified"
	}
}

// classificationGate is the dominant-coefficient magnitude a map-frame plane
// must exceed to be treated as axis aligned.
const classificationGate = 0.98

// Classify returns the class of a map-frame plane.
func Classify(p Plane) Class {
	switch {
	case math.Abs(p.Normal.X) > classificationGate:
		return ClassX
	case math.Abs(p.Normal.Y) > classificationGate:
		return ClassY
	case math.Abs(p.Normal.Z) > classificationGate:
		return ClassHorizontal
	default:
		return ClassNone
	}
}

// Vec4 returns the plane as (nx, ny, nz, d).
func (p Plane) Vec4() [4]float64 {
	return [4]float64{p.Normal.X, p.Normal.Y, p.Normal.Z, p.Offset}
}

// PlaneFromVec4 builds a plane from (nx, ny, nz, d).
func PlaneFromVec4(v [4]float64) Plane {
	return Plane{Normal: r3.Vector{X: v[0], Y: v[1], Z: v[2]}, Offset: v[3]}
}

// CorrectSign normalizes the sign convention used by the structural
// detectors: a plane with positive offset has all four coefficients negated.
// The operation is idempotent.
func CorrectSign(p Plane) Plane {
	if p.Offset > 0 {
		return Plane{Normal: p.Normal.Mul(-1), Offset: -p.Offset}
	}
	return p
}

// Width returns the separation between two sign-corrected planes: the
// larger-|offset|-weighted normal difference projected onto x+y.
func Width(p1, p2 Plane) float64 {
	var vec r3.Vector
	d1, d2 := math.Abs(p1.Offset), math.Abs(p2.Offset)
	if d1 > d2 {
		vec = p1.Normal.Mul(d1).Sub(p2.Normal.Mul(d2))
	} else {
		vec = p2.Normal.Mul(d2).Sub(p1.Normal.Mul(d1))
	}
	return math.Abs(vec.X + vec.Y)
}

// Dot returns the normal dot product; a negative value means the planes face
// each other.
func Dot(p1, p2 Plane) float64 {
	return p1.Normal.Dot(p2.Normal)
}

// TransformPlane applies a rigid transform to a plane: n' = R·n,
// d' = d − t·n'.
func TransformPlane(pose Pose, p Plane) Plane {
	n := pose.RotateVector(p.Normal)
	return Plane{Normal: n, Offset: p.Offset - pose.Translation.Dot(n)}
}

// Ominus returns the minimal-parameter difference between two planes:
// azimuth, elevation, and offset deltas. This is the error vector used for
// plane data association and the coefficient-form plane factor.
func Ominus(a, b Plane) [3]float64 {
	azA := math.Atan2(a.Normal.Y, a.Normal.X)
	azB := math.Atan2(b.Normal.Y, b.Normal.X)
	elA := math.Atan2(a.Normal.Z, math.Hypot(a.Normal.X, a.Normal.Y))
	elB := math.Atan2(b.Normal.Z, math.Hypot(b.Normal.X, b.Normal.Y))
	return [3]float64{wrapAngle(azA - azB), wrapAngle(elA - elB), a.Offset - b.Offset}
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Length returns the longest point-pair separation of the segment cloud
// projected onto the XY plane.
func Length(c *cloud.Cloud) float64 {
	pts := c.Points()
	var max float64
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			dx := pts[i].Position.X - pts[j].Position.X
			dy := pts[i].Position.Y - pts[j].Position.Y
			if d := dx*dx + dy*dy; d > max {
				max = d
			}
		}
	}
	return math.Sqrt(max)
}

// PlaneFromSegment decodes the plane equation carried by the last point of a
// segment cloud (unit normal in the normal fields, offset in curvature).
func PlaneFromSegment(c *cloud.Cloud) (Plane, bool) {
	last, ok := c.Last()
	if !ok {
		return Plane{}, false
	}
	return Plane{Normal: last.Normal, Offset: last.Curvature}, true
}
