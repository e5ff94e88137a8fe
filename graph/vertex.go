// Package graph wraps a typed factor graph over pose, plane, corridor, and
// room vertices with a dense Levenberg-Marquardt backend, robust kernels,
// marginal covariance extraction, and a text save/load format.
package graph

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/geometry"
)

// Vertex is a graph node with a minimal-parameter local update.
type Vertex interface {
	// ID is the vertex id assigned at creation. Ids are monotonic and never
	// reused after removals.
	ID() int
	// Dim is the dimension of the local update vector.
	Dim() int
	// Oplus applies a local update of length Dim to the estimate.
	Oplus(delta []float64)
	// Push saves the current estimate; Pop restores the last saved one.
	Push()
	Pop()
	// Fixed vertices are held constant during optimization.
	Fixed() bool
}

type baseVertex struct {
	id    int
	fixed bool
}

func (v *baseVertex) ID() int         { return v.id }
func (v *baseVertex) Fixed() bool     { return v.fixed }
func (v *baseVertex) SetFixed(f bool) { v.fixed = f }

// SE3Vertex is a keyframe pose.
type SE3Vertex struct {
	baseVertex
	estimate geometry.Pose
	stack    []geometry.Pose
}

func (v *SE3Vertex) Dim() int { return 6 }

// Estimate returns the current pose.
func (v *SE3Vertex) Estimate() geometry.Pose { return v.estimate }

// SetEstimate overwrites the current pose.
func (v *SE3Vertex) SetEstimate(p geometry.Pose) { v.estimate = p }

func (v *SE3Vertex) Oplus(delta []float64) {
	v.estimate.Translation = v.estimate.Translation.Add(
		r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]})
	dq := quat.Number{Real: 1, Imag: 0.5 * delta[3], Jmag: 0.5 * delta[4], Kmag: 0.5 * delta[5]}
	v.estimate = geometry.NewPose(quat.Mul(dq, v.estimate.Rotation), v.estimate.Translation)
}

func (v *SE3Vertex) Push() { v.stack = append(v.stack, v.estimate) }
func (v *SE3Vertex) Pop() {
	v.estimate = v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
}

// PlaneVertex is an infinite-plane landmark.
type PlaneVertex struct {
	baseVertex
	estimate geometry.Plane
	stack    []geometry.Plane
}

func (v *PlaneVertex) Dim() int { return 3 }

// Estimate returns the current plane.
func (v *PlaneVertex) Estimate() geometry.Plane { return v.estimate }

// SetEstimate overwrites the current plane.
func (v *PlaneVertex) SetEstimate(p geometry.Plane) { v.estimate = p }

// Oplus perturbs the unit normal in its tangent basis and the offset
// directly, keeping the normal unit length.
func (v *PlaneVertex) Oplus(delta []float64) {
	n := v.estimate.Normal
	b1, b2 := tangentBasis(n)
	n = n.Add(b1.Mul(delta[0])).Add(b2.Mul(delta[1]))
	if norm := n.Norm(); norm > 0 {
		n = n.Mul(1 / norm)
	}
	v.estimate.Normal = n
	v.estimate.Offset += delta[2]
}

func tangentBasis(n r3.Vector) (r3.Vector, r3.Vector) {
	ref := r3.Vector{X: 1}
	if math.Abs(n.X) > math.Abs(n.Y) {
		ref = r3.Vector{Y: 1}
	}
	b1 := n.Cross(ref)
	if norm := b1.Norm(); norm > 0 {
		b1 = b1.Mul(1 / norm)
	}
	return b1, n.Cross(b1)
}

func (v *PlaneVertex) Push() { v.stack = append(v.stack, v.estimate) }
func (v *PlaneVertex) Pop() {
	v.estimate = v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
}

// CorridorVertex is a one-dimensional corridor landmark: the signed position
// of the corridor center along its facing axis.
type CorridorVertex struct {
	baseVertex
	value float64
	stack []float64
}

func (v *CorridorVertex) Dim() int { return 1 }

// Estimate returns the axis position.
func (v *CorridorVertex) Estimate() float64 { return v.value }

// SetEstimate overwrites the axis position.
func (v *CorridorVertex) SetEstimate(x float64) { v.value = x }

func (v *CorridorVertex) Oplus(delta []float64) { v.value += delta[0] }
func (v *CorridorVertex) Push()                 { v.stack = append(v.stack, v.value) }
func (v *CorridorVertex) Pop() {
	v.value = v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
}

// RoomVertex is a two-dimensional room-center landmark in the map XY plane.
type RoomVertex struct {
	baseVertex
	value [2]float64
	stack [][2]float64
}

func (v *RoomVertex) Dim() int { return 2 }

// Estimate returns the room center.
func (v *RoomVertex) Estimate() [2]float64 { return v.value }

// SetEstimate overwrites the room center.
func (v *RoomVertex) SetEstimate(xy [2]float64) { v.value = xy }

func (v *RoomVertex) Oplus(delta []float64) {
	v.value[0] += delta[0]
	v.value[1] += delta[1]
}
func (v *RoomVertex) Push() { v.stack = append(v.stack, v.value) }
func (v *RoomVertex) Pop() {
	v.value = v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
}
