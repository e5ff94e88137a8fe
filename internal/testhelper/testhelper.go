// Package testhelper builds synthetic planar scenes for tests.
package testhelper

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
)

// WallSegment returns a segment cloud of roughly n grid points on the plane
// normal·p + offset = 0, spanning length along one tangent direction and
// height along the other. The plane equation is encoded on every point's
// normal and curvature fields, so the last point carries it as the segment
// wire contract requires.
func WallSegment(normal r3.Vector, offset, length, height float64, n int) *cloud.Cloud {
	normal = normal.Normalize()
	origin := normal.Mul(-offset)
	t1, t2 := tangents(normal)

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	if cols < 1 {
		cols = 1
	}
	rows := (n + cols - 1) / cols

	c := cloud.NewWithCapacity(n)
	for i := 0; i < n; i++ {
		col := i % cols
		row := i / cols
		u := (float64(col)/float64(cols))*length - length/2
		v := (float64(row) / float64(rows)) * height
		c.Add(cloud.Point{
			Position:  origin.Add(t1.Mul(u)).Add(t2.Mul(v)),
			Normal:    normal,
			Curvature: offset,
		})
	}
	return c
}

// tangents returns two unit vectors spanning the plane. For vertical walls
// the first tangent lies in the XY plane so the segment's footprint length
// is measured horizontally.
func tangents(normal r3.Vector) (r3.Vector, r3.Vector) {
	up := r3.Vector{Z: 1}
	t1 := normal.Cross(up)
	if t1.Norm() < 1e-9 {
		t1 = normal.Cross(r3.Vector{X: 1})
	}
	t1 = t1.Normalize()
	return t1, normal.Cross(t1)
}

// FacingWalls returns two wall segments facing each other across the given
// axis class, positioned by their sign-corrected offsets.
func FacingWalls(axis geometry.Class, offset1, offset2, length float64, n int) (*cloud.Cloud, *cloud.Cloud) {
	n1 := r3.Vector{X: 1}
	if axis == geometry.ClassY {
		n1 = r3.Vector{Y: 1}
	}
	return WallSegment(n1, offset1, length, 2, n),
		WallSegment(n1.Mul(-1), offset2, length, 2, n)
}
