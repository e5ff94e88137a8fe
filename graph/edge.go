package graph

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/geometry"
)

// Edge is a factor connecting one or more vertices.
type Edge interface {
	Vertices() []Vertex
	// Dim is the residual dimension.
	Dim() int
	// Residual evaluates the error vector at the current vertex estimates.
	Residual() []float64
	Information() *mat.SymDense

	kernel() *robustKernel
	setKernel(*robustKernel)
}

type baseEdge struct {
	vertices []Vertex
	info     *mat.SymDense
	robust   *robustKernel
}

func (e *baseEdge) Vertices() []Vertex         { return e.vertices }
func (e *baseEdge) Information() *mat.SymDense { return e.info }
func (e *baseEdge) kernel() *robustKernel      { return e.robust }
func (e *baseEdge) setKernel(k *robustKernel)  { e.robust = k }

func newBaseEdge(info *mat.SymDense, vs ...Vertex) baseEdge {
	return baseEdge{vertices: vs, info: info}
}

// axisCoord picks the vector component matching a vertical plane class.
func axisCoord(v r3.Vector, class geometry.Class) float64 {
	if class == geometry.ClassY {
		return v.Y
	}
	return v.X
}

// SE3Edge is a relative-pose factor between two keyframes.
type SE3Edge struct {
	baseEdge
	Measurement geometry.Pose
}

func (e *SE3Edge) Dim() int { return 6 }

func (e *SE3Edge) Residual() []float64 {
	v1 := e.vertices[0].(*SE3Vertex)
	v2 := e.vertices[1].(*SE3Vertex)
	err := e.Measurement.Inverse().Compose(v1.Estimate().Delta(v2.Estimate()))
	q := err.Rotation
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return []float64{
		err.Translation.X, err.Translation.Y, err.Translation.Z,
		2 * q.Imag, 2 * q.Jmag, 2 * q.Kmag,
	}
}

// SE3PlaneEdge ties a plane landmark to a keyframe through the plane
// observed in the keyframe's body frame.
type SE3PlaneEdge struct {
	baseEdge
	Measurement geometry.Plane
}

func (e *SE3PlaneEdge) Dim() int { return 3 }

func (e *SE3PlaneEdge) Residual() []float64 {
	v := e.vertices[0].(*SE3Vertex)
	p := e.vertices[1].(*PlaneVertex)
	local := geometry.TransformPlane(v.Estimate().Inverse(), p.Estimate())
	d := geometry.Ominus(local, e.Measurement)
	return []float64{d[0], d[1], d[2]}
}

// SE3PointToPlaneEdge is the point-to-plane form of the plane factor: the
// measurement is the Gram matrix of the homogeneous inlier points in the
// keyframe body frame, and the residual is the summed squared point-to-plane
// distance expressed through it.
type SE3PointToPlaneEdge struct {
	baseEdge
	// Gij is the 4x4 sum of outer products of homogeneous inlier points.
	Gij *mat.Dense
}

func (e *SE3PointToPlaneEdge) Dim() int { return 1 }

func (e *SE3PointToPlaneEdge) Residual() []float64 {
	v := e.vertices[0].(*SE3Vertex)
	p := e.vertices[1].(*PlaneVertex)
	m := poseMatrix(v.Estimate())
	var mg, mgmt mat.Dense
	mg.Mul(m, e.Gij)
	mgmt.Mul(&mg, m.T())
	pi := p.Estimate().Vec4()
	coeffs := mat.NewVecDense(4, pi[:])
	var tmp mat.VecDense
	tmp.MulVec(&mgmt, coeffs)
	return []float64{mat.Dot(coeffs, &tmp)}
}

func poseMatrix(p geometry.Pose) *mat.Dense {
	cx := p.RotateVector(r3.Vector{X: 1})
	cy := p.RotateVector(r3.Vector{Y: 1})
	cz := p.RotateVector(r3.Vector{Z: 1})
	return mat.NewDense(4, 4, []float64{
		cx.X, cy.X, cz.X, p.Translation.X,
		cx.Y, cy.Y, cz.Y, p.Translation.Y,
		cx.Z, cy.Z, cz.Z, p.Translation.Z,
		0, 0, 0, 1,
	})
}

// PlaneParallelEdge softly constrains two plane normals to be parallel.
type PlaneParallelEdge struct {
	baseEdge
	Measurement r3.Vector
}

func (e *PlaneParallelEdge) Dim() int { return 3 }

func (e *PlaneParallelEdge) Residual() []float64 {
	n1 := e.vertices[0].(*PlaneVertex).Estimate().Normal
	n2 := e.vertices[1].(*PlaneVertex).Estimate().Normal
	c := n1.Cross(n2).Sub(e.Measurement)
	return []float64{c.X, c.Y, c.Z}
}

// PlanePerpendicularEdge softly constrains two plane normals to be
// perpendicular.
type PlanePerpendicularEdge struct {
	baseEdge
}

func (e *PlanePerpendicularEdge) Dim() int { return 1 }

func (e *PlanePerpendicularEdge) Residual() []float64 {
	n1 := e.vertices[0].(*PlaneVertex).Estimate().Normal
	n2 := e.vertices[1].(*PlaneVertex).Estimate().Normal
	return []float64{n1.Dot(n2)}
}

// PlaneIdentityEdge ties two plane landmarks to the same equation.
type PlaneIdentityEdge struct {
	baseEdge
	Measurement [3]float64
}

func (e *PlaneIdentityEdge) Dim() int { return 3 }

func (e *PlaneIdentityEdge) Residual() []float64 {
	p1 := e.vertices[0].(*PlaneVertex).Estimate()
	p2 := e.vertices[1].(*PlaneVertex).Estimate()
	d := geometry.Ominus(p1, p2)
	return []float64{d[0] - e.Measurement[0], d[1] - e.Measurement[1], d[2] - e.Measurement[2]}
}

// SE3CorridorEdge ties a corridor landmark to the keyframe that observed it.
type SE3CorridorEdge struct {
	baseEdge
	Measurement float64
	Axis        geometry.Class
}

func (e *SE3CorridorEdge) Dim() int { return 1 }

func (e *SE3CorridorEdge) Residual() []float64 {
	v := e.vertices[0].(*SE3Vertex)
	c := e.vertices[1].(*CorridorVertex)
	inv := v.Estimate().Inverse()
	return []float64{c.Estimate() - e.Measurement + axisCoord(inv.Translation, e.Axis)}
}

// structuralDiff is the signed difference rule the corridor/room plane
// factors use: larger magnitude minus smaller.
func structuralDiff(landmark, offset float64) float64 {
	if math.Abs(landmark) > math.Abs(offset) {
		return landmark - offset
	}
	return offset - landmark
}

// CorridorPlaneEdge ties a corridor to one of its supporting wall planes.
type CorridorPlaneEdge struct {
	baseEdge
	Measurement float64
}

func (e *CorridorPlaneEdge) Dim() int { return 1 }

func (e *CorridorPlaneEdge) Residual() []float64 {
	c := e.vertices[0].(*CorridorVertex)
	p := e.vertices[1].(*PlaneVertex)
	return []float64{structuralDiff(c.Estimate(), p.Estimate().Offset) - e.Measurement}
}

// SE3RoomEdge ties a room landmark to the keyframe that observed it.
type SE3RoomEdge struct {
	baseEdge
	Measurement [2]float64
}

func (e *SE3RoomEdge) Dim() int { return 2 }

func (e *SE3RoomEdge) Residual() []float64 {
	v := e.vertices[0].(*SE3Vertex)
	r := e.vertices[1].(*RoomVertex)
	inv := v.Estimate().Inverse()
	est := r.Estimate()
	return []float64{
		est[0] - e.Measurement[0] + inv.Translation.X,
		est[1] - e.Measurement[1] + inv.Translation.Y,
	}
}

// RoomPlaneEdge ties a room to one of its four supporting wall planes.
type RoomPlaneEdge struct {
	baseEdge
	Measurement float64
	Axis        geometry.Class
}

func (e *RoomPlaneEdge) Dim() int { return 1 }

func (e *RoomPlaneEdge) Residual() []float64 {
	r := e.vertices[0].(*RoomVertex)
	p := e.vertices[1].(*PlaneVertex)
	est := r.Estimate()
	coord := est[0]
	if e.Axis == geometry.ClassY {
		coord = est[1]
	}
	return []float64{structuralDiff(coord, p.Estimate().Offset) - e.Measurement}
}

// RoomRoomEdge relates two room centers with a 2D displacement measurement.
type RoomRoomEdge struct {
	baseEdge
	Measurement [2]float64
}

func (e *RoomRoomEdge) Dim() int { return 2 }

func (e *RoomRoomEdge) Residual() []float64 {
	a := e.vertices[0].(*RoomVertex).Estimate()
	b := e.vertices[1].(*RoomVertex).Estimate()
	return []float64{
		a[0] - b[0] - e.Measurement[0],
		a[1] - b[1] - e.Measurement[1],
	}
}

// RoomCorridorEdge relates a room center to a corridor along the corridor's
// axis.
type RoomCorridorEdge struct {
	baseEdge
	Measurement float64
	Axis        geometry.Class
}

func (e *RoomCorridorEdge) Dim() int { return 1 }

func (e *RoomCorridorEdge) Residual() []float64 {
	r := e.vertices[0].(*RoomVertex).Estimate()
	c := e.vertices[1].(*CorridorVertex).Estimate()
	coord := r[0]
	if e.Axis == geometry.ClassY {
		coord = r[1]
	}
	return []float64{coord - c - e.Measurement}
}

// CorridorCorridorEdge relates two corridors on the same axis.
type CorridorCorridorEdge struct {
	baseEdge
	Measurement float64
}

func (e *CorridorCorridorEdge) Dim() int { return 1 }

func (e *CorridorCorridorEdge) Residual() []float64 {
	a := e.vertices[0].(*CorridorVertex).Estimate()
	b := e.vertices[1].(*CorridorVertex).Estimate()
	return []float64{a - b - e.Measurement}
}

// SE3PriorXYEdge anchors the horizontal position of a keyframe.
type SE3PriorXYEdge struct {
	baseEdge
	Measurement [2]float64
}

func (e *SE3PriorXYEdge) Dim() int { return 2 }

func (e *SE3PriorXYEdge) Residual() []float64 {
	t := e.vertices[0].(*SE3Vertex).Estimate().Translation
	return []float64{t.X - e.Measurement[0], t.Y - e.Measurement[1]}
}

// SE3PriorXYZEdge anchors the full position of a keyframe.
type SE3PriorXYZEdge struct {
	baseEdge
	Measurement r3.Vector
}

func (e *SE3PriorXYZEdge) Dim() int { return 3 }

func (e *SE3PriorXYZEdge) Residual() []float64 {
	t := e.vertices[0].(*SE3Vertex).Estimate().Translation
	d := t.Sub(e.Measurement)
	return []float64{d.X, d.Y, d.Z}
}

// SE3PriorQuatEdge anchors the orientation of a keyframe.
type SE3PriorQuatEdge struct {
	baseEdge
	Measurement quat.Number
}

func (e *SE3PriorQuatEdge) Dim() int { return 3 }

func (e *SE3PriorQuatEdge) Residual() []float64 {
	q := e.vertices[0].(*SE3Vertex).Estimate().Rotation
	rel := quat.Mul(quat.Conj(e.Measurement), q)
	if rel.Real < 0 {
		rel = quat.Scale(-1, rel)
	}
	return []float64{2 * rel.Imag, 2 * rel.Jmag, 2 * rel.Kmag}
}

// SE3PriorVecEdge anchors a body-frame direction (typically gravity) against
// a measured vector.
type SE3PriorVecEdge struct {
	baseEdge
	Direction   r3.Vector
	Measurement r3.Vector
}

func (e *SE3PriorVecEdge) Dim() int { return 3 }

func (e *SE3PriorVecEdge) Residual() []float64 {
	v := e.vertices[0].(*SE3Vertex)
	est := v.Estimate().Inverse().RotateVector(e.Direction)
	m := e.Measurement
	if norm := m.Norm(); norm > 0 {
		m = m.Mul(1 / norm)
	}
	d := est.Sub(m)
	return []float64{d.X, d.Y, d.Z}
}
