// Package cloud provides the point-cloud value type shared by the mapping
// pipeline: body/map-frame clouds with per-point normals, rigid transforms,
// voxel downsampling, and PCD export.
package cloud

import (
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
	"gonum.org/v1/gonum/num/quat"
)

// Point is a single cloud point. Normal and Curvature carry the planar-segment
// wire contract: the last point of a segment cloud encodes the plane equation
// (unit normal in Normal, signed offset in Curvature).
type Point struct {
	Position  r3.Vector
	Normal    r3.Vector
	Curvature float64
}

// Cloud is an append-only collection of points.
type Cloud struct {
	points []Point
}

// New returns an empty cloud.
func New() *Cloud {
	return &Cloud{}
}

// NewWithCapacity returns an empty cloud with preallocated storage.
func NewWithCapacity(n int) *Cloud {
	return &Cloud{points: make([]Point, 0, n)}
}

// FromPoints wraps an existing point slice. The slice is not copied.
func FromPoints(pts []Point) *Cloud {
	return &Cloud{points: pts}
}

// Size returns the number of points.
func (c *Cloud) Size() int {
	if c == nil {
		return 0
	}
	return len(c.points)
}

// Add appends a point.
func (c *Cloud) Add(p Point) {
	c.points = append(c.points, p)
}

// At returns the i-th point.
func (c *Cloud) At(i int) Point {
	return c.points[i]
}

// Points returns the backing slice.
func (c *Cloud) Points() []Point {
	if c == nil {
		return nil
	}
	return c.points
}

// Last returns the final point of the cloud.
func (c *Cloud) Last() (Point, bool) {
	if c.Size() == 0 {
		return Point{}, false
	}
	return c.points[len(c.points)-1], true
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Transform returns a new cloud with every point rotated by q and translated
// by t. Normals are rotated only.
func (c *Cloud) Transform(q quat.Number, t r3.Vector) *Cloud {
	out := NewWithCapacity(c.Size())
	for _, p := range c.points {
		out.Add(Point{
			Position:  RotateVector(q, p.Position).Add(t),
			Normal:    RotateVector(q, p.Normal),
			Curvature: p.Curvature,
		})
	}
	return out
}

type voxelKey struct {
	x, y, z int
}

func keyFor(p r3.Vector, res float64) voxelKey {
	return voxelKey{
		x: int(math.Floor(p.X / res)),
		y: int(math.Floor(p.Y / res)),
		z: int(math.Floor(p.Z / res)),
	}
}

// VoxelDownsample returns a cloud with at most one point per grid cell of the
// given resolution, keeping the first point seen in each cell. A resolution
// of zero or less returns the cloud unchanged.
func (c *Cloud) VoxelDownsample(resolution float64) *Cloud {
	if resolution <= 0 || c.Size() == 0 {
		return c
	}
	seen := make(map[voxelKey]struct{}, c.Size())
	out := NewWithCapacity(c.Size())
	for _, p := range c.points {
		k := keyFor(p.Position, resolution)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out.Add(p)
	}
	return out
}

// Merge appends all points of other.
func (c *Cloud) Merge(other *Cloud) {
	c.points = append(c.points, other.Points()...)
}

// ToPointCloud converts to the rdk pointcloud representation used for file
// interchange.
func (c *Cloud) ToPointCloud() (pointcloud.PointCloud, error) {
	pc := pointcloud.New()
	for _, p := range c.points {
		if err := pc.Set(p.Position, pointcloud.NewBasicData()); err != nil {
			return nil, errors.Wrap(err, "converting cloud point")
		}
	}
	return pc, nil
}

// WritePCD writes the cloud to w in ASCII PCD format.
func WritePCD(c *Cloud, w io.Writer) error {
	pc, err := c.ToPointCloud()
	if err != nil {
		return err
	}
	if err := pointcloud.ToPCD(pc, w, pointcloud.PCDAscii); err != nil {
		return errors.Wrap(err, "writing pcd")
	}
	return nil
}
