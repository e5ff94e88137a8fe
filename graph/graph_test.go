package graph

import (
	"bytes"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/geometry"
)

func TestVertexIDsAreMonotonic(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v0 := g.AddSE3Vertex(geometry.IdentityPose())
	p1 := g.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1})
	c2 := g.AddCorridorVertex(0)
	test.That(t, v0.ID(), test.ShouldEqual, 0)
	test.That(t, p1.ID(), test.ShouldEqual, 1)
	test.That(t, c2.ID(), test.ShouldEqual, 2)

	g.RemovePlaneVertex(p1)
	test.That(t, g.NumVertices(), test.ShouldEqual, 2)

	// Ids are never reused after a removal.
	r3v := g.AddRoomVertex([2]float64{1, 2})
	test.That(t, r3v.ID(), test.ShouldEqual, 3)
}

func TestRemovePlaneVertexDropsEdges(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v := g.AddSE3Vertex(geometry.IdentityPose())
	p := g.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1})
	g.AddSE3PlaneEdge(v, p, geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1},
		InformationScaledIdentity(3, 0.1))
	test.That(t, g.NumEdges(), test.ShouldEqual, 1)

	g.RemovePlaneVertex(p)
	test.That(t, g.NumEdges(), test.ShouldEqual, 0)
	test.That(t, g.NumVertices(), test.ShouldEqual, 1)
}

func TestOptimizeEmptyGraph(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	test.That(t, g.Optimize(1024), test.ShouldEqual, 0)
}

func TestOptimizePoseChain(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v0 := g.AddSE3Vertex(geometry.IdentityPose())
	v0.SetFixed(true)
	// Deliberately wrong initial estimate; the odometry edge says v1 is one
	// meter ahead of v0.
	v1 := g.AddSE3Vertex(geometry.NewPose(quat.Number{Real: 1}, r3.Vector{X: 5, Y: 3}))
	meas := geometry.NewPose(quat.Number{Real: 1}, r3.Vector{X: 1})
	g.AddSE3Edge(v0, v1, meas, InformationScaledIdentity(6, 1))

	iters := g.Optimize(1024)
	test.That(t, iters, test.ShouldBeGreaterThan, 0)
	est := v1.Estimate()
	test.That(t, est.Translation.X, test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, est.Translation.Y, test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, est.Translation.Z, test.ShouldAlmostEqual, 0, 1e-4)
	// The fixed vertex does not move.
	test.That(t, v0.Estimate().Translation.Norm(), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestOptimizePlanePrior(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v := g.AddSE3Vertex(geometry.IdentityPose())
	v.SetFixed(true)
	p := g.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1.5})
	// Observed from the origin, so the body-frame measurement equals the
	// target map-frame plane.
	target := geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -2}
	g.AddSE3PlaneEdge(v, p, target, InformationScaledIdentity(3, 1))

	iters := g.Optimize(1024)
	test.That(t, iters, test.ShouldBeGreaterThan, 0)
	test.That(t, p.Estimate().Offset, test.ShouldAlmostEqual, -2, 1e-4)
	test.That(t, p.Estimate().Normal.X, test.ShouldAlmostEqual, 1, 1e-4)
}

func TestOptimizeCorridor(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v := g.AddSE3Vertex(geometry.IdentityPose())
	v.SetFixed(true)
	c := g.AddCorridorVertex(0.3)
	// Measurement constructed at value 1.0 from the origin keyframe.
	g.AddSE3CorridorEdge(v, c, 1.0, geometry.ClassX, InformationScalar(1))

	iters := g.Optimize(1024)
	test.That(t, iters, test.ShouldBeGreaterThan, 0)
	test.That(t, c.Estimate(), test.ShouldAlmostEqual, 1.0, 1e-6)
}

func TestRobustKernel(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v := g.AddSE3Vertex(geometry.IdentityPose())
	c := g.AddCorridorVertex(0)
	e := g.AddSE3CorridorEdge(v, c, 1.0, geometry.ClassX, InformationScalar(1))

	test.That(t, AddRobustKernel(e, "Huber", 1.0), test.ShouldBeNil)
	err := AddRobustKernel(e, "Cauchy", 1.0)
	test.That(t, err, test.ShouldNotBeNil)
	err = AddRobustKernel(e, "Huber", -1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComputeMarginals(t *testing.T) {
	t.Run("well constrained plane", func(t *testing.T) {
		g := New(golog.NewTestLogger(t))
		v := g.AddSE3Vertex(geometry.IdentityPose())
		v.SetFixed(true)
		p := g.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1})
		g.AddSE3PlaneEdge(v, p, geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1},
			InformationScaledIdentity(3, 1))

		blocks, ok := g.ComputeMarginals([]Vertex{p})
		test.That(t, ok, test.ShouldBeTrue)
		block, found := blocks[p.ID()]
		test.That(t, found, test.ShouldBeTrue)
		test.That(t, block.SymmetricDim(), test.ShouldEqual, 3)
	})
	t.Run("unconstrained vertex fails factorization", func(t *testing.T) {
		g := New(golog.NewTestLogger(t))
		g.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1})
		_, ok := g.ComputeMarginals(g.Vertices())
		test.That(t, ok, test.ShouldBeFalse)
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New(golog.NewTestLogger(t))
	v0 := g.AddSE3Vertex(geometry.IdentityPose())
	v0.SetFixed(true)
	v1 := g.AddSE3Vertex(geometry.NewPose(quat.Number{Real: 1}, r3.Vector{X: 1}))
	p := g.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -2})
	c := g.AddCorridorVertex(1.5)
	room := g.AddRoomVertex([2]float64{2, 3})

	g.AddSE3Edge(v0, v1, geometry.NewPose(quat.Number{Real: 1}, r3.Vector{X: 1}),
		InformationScaledIdentity(6, 1))
	g.AddSE3PlaneEdge(v1, p, geometry.Plane{Normal: r3.Vector{X: 1}, Offset: -1},
		InformationScaledIdentity(3, 0.1))
	g.AddSE3CorridorEdge(v1, c, 1.5, geometry.ClassX, InformationScalar(0.01))
	g.AddSE3RoomEdge(v1, room, [2]float64{1, 3}, InformationScaledIdentity(2, 0.01))
	g.AddCorridorPlaneEdge(c, p, 0.5, InformationScalar(0.01))

	var buf bytes.Buffer
	test.That(t, g.Save(&buf), test.ShouldBeNil)

	g2 := New(golog.NewTestLogger(t))
	test.That(t, g2.Load(bytes.NewReader(buf.Bytes())), test.ShouldBeNil)
	test.That(t, g2.NumVertices(), test.ShouldEqual, g.NumVertices())
	test.That(t, g2.NumEdges(), test.ShouldEqual, g.NumEdges())
	// Loaded content counts as merged, not local.
	test.That(t, g2.NumVerticesLocal(), test.ShouldEqual, 0)
	test.That(t, g2.NumEdgesLocal(), test.ShouldEqual, 0)

	lv, ok := g2.vertexByID(v1.ID())
	test.That(t, ok, test.ShouldBeTrue)
	lse3 := lv.(*SE3Vertex)
	test.That(t, lse3.Estimate().Translation.X, test.ShouldAlmostEqual, 1, 1e-12)

	lv0, ok := g2.vertexByID(v0.ID())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lv0.Fixed(), test.ShouldBeTrue)

	// New vertices continue above the loaded ids.
	added := g2.AddSE3Vertex(geometry.IdentityPose())
	test.That(t, added.ID(), test.ShouldEqual, g.NumVertices())

	// The loaded residuals match the originals.
	for i, e := range g.Edges() {
		want := e.Residual()
		got := g2.Edges()[i].Residual()
		test.That(t, len(got), test.ShouldEqual, len(want))
		for k := range want {
			test.That(t, got[k], test.ShouldAlmostEqual, want[k], 1e-9)
		}
	}
}
