package mapping

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
	"github.com/structkit/structure-slam/internal/testhelper"
	"github.com/structkit/structure-slam/keyframe"
	"github.com/structkit/structure-slam/sensors"
)

func newKeyframe(g *graph.Graph, pose geometry.Pose, stamp int64) *keyframe.Keyframe {
	kf := &keyframe.Keyframe{Stamp: time.Unix(stamp, 0), Odometry: pose}
	kf.Node = g.AddSE3Vertex(pose)
	return kf
}

func TestPlaneMapperCreatesAndAssociates(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	m := NewPlaneMapper(DefaultPlaneMapperConfig(), logger)
	kf := newKeyframe(g, geometry.IdentityPose(), 1)

	seg := testhelper.WallSegment(r3.Vector{X: 1}, -2, 12, 2, 150)
	det := m.Process(g, st, kf, seg)
	test.That(t, det, test.ShouldNotBeNil)
	test.That(t, det.Class, test.ShouldEqual, geometry.ClassX)
	test.That(t, len(st.XPlanes), test.ShouldEqual, 1)
	// The landmark id equals its graph vertex id.
	test.That(t, det.Landmark.ID, test.ShouldEqual, det.Landmark.Node.ID())
	test.That(t, kf.XPlaneIDs, test.ShouldResemble, []int{det.Landmark.ID})

	// The same observation again associates instead of creating.
	before := g.NumVertices()
	det2 := m.Process(g, st, kf, seg)
	test.That(t, det2, test.ShouldNotBeNil)
	test.That(t, det2.Landmark, test.ShouldEqual, det.Landmark)
	test.That(t, g.NumVertices(), test.ShouldEqual, before)
	test.That(t, len(st.XPlanes), test.ShouldEqual, 1)
}

func TestPlaneMapperAssociationIsDeterministic(t *testing.T) {
	logger := golog.NewTestLogger(t)
	seg := testhelper.WallSegment(r3.Vector{Y: 1}, -3, 12, 2, 150)

	run := func() int {
		g := graph.New(logger)
		st := NewState()
		m := NewPlaneMapper(DefaultPlaneMapperConfig(), logger)
		kf := newKeyframe(g, geometry.IdentityPose(), 1)
		for i := 0; i < 5; i++ {
			det := m.Process(g, st, kf, seg)
			test.That(t, det, test.ShouldNotBeNil)
		}
		return len(st.YPlanes)
	}
	first := run()
	test.That(t, first, test.ShouldEqual, 1)
	test.That(t, run(), test.ShouldEqual, first)
}

func TestPlaneMapperRejections(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	m := NewPlaneMapper(DefaultPlaneMapperConfig(), logger)
	kf := newKeyframe(g, geometry.IdentityPose(), 1)

	t.Run("too few points", func(t *testing.T) {
		small := testhelper.WallSegment(r3.Vector{X: 1}, -2, 12, 2, 50)
		test.That(t, m.Process(g, st, kf, small), test.ShouldBeNil)
	})
	t.Run("no dominant axis", func(t *testing.T) {
		tilted := testhelper.WallSegment(r3.Vector{X: 1, Y: 1}, -2, 12, 2, 150)
		test.That(t, m.Process(g, st, kf, tilted), test.ShouldBeNil)
	})
	test.That(t, g.NumVertices(), test.ShouldEqual, 1)
}

func TestPlaneMapperDisjointWallVeto(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	m := NewPlaneMapper(DefaultPlaneMapperConfig(), logger)

	// Two keyframes far apart along the wall axis observe segments with the
	// same plane equation but no point overlap.
	kf1 := newKeyframe(g, geometry.IdentityPose(), 1)
	seg1 := testhelper.WallSegment(r3.Vector{X: 1}, -2, 4, 2, 150)
	det1 := m.Process(g, st, kf1, seg1)
	test.That(t, det1, test.ShouldNotBeNil)

	kf2 := newKeyframe(g, geometry.IdentityPose(), 2)
	far := testhelper.WallSegment(r3.Vector{X: 1}, -2, 4, 2, 150).
		Transform(geometry.IdentityPose().Rotation, r3.Vector{Y: 50})
	det2 := m.Process(g, st, kf2, far)
	test.That(t, det2, test.ShouldNotBeNil)
	test.That(t, det2.Landmark, test.ShouldNotEqual, det1.Landmark)
	test.That(t, len(st.XPlanes), test.ShouldEqual, 2)
}

func TestUpdateCovariances(t *testing.T) {
	st := NewState()
	lm := &PlaneLandmark{ID: 7, Class: geometry.ClassX}
	st.XPlanes = append(st.XPlanes, lm)

	t.Run("failed factorization falls back to identity", func(t *testing.T) {
		UpdateCovariances(st, nil, false)
		test.That(t, lm.Covariance, test.ShouldNotBeNil)
		test.That(t, lm.Covariance.At(0, 0), test.ShouldEqual, 1)
		test.That(t, lm.Covariance.At(1, 1), test.ShouldEqual, 1)
		test.That(t, lm.Covariance.At(0, 1), test.ShouldEqual, 0)
	})
	t.Run("block is installed when present", func(t *testing.T) {
		block := mat.NewSymDense(3, nil)
		block.SetSym(0, 0, 0.5)
		UpdateCovariances(st, map[int]*mat.SymDense{7: block}, true)
		test.That(t, lm.Covariance.At(0, 0), test.ShouldEqual, 0.5)
	})
	t.Run("missing block falls back to identity", func(t *testing.T) {
		UpdateCovariances(st, map[int]*mat.SymDense{}, true)
		test.That(t, lm.Covariance.At(0, 0), test.ShouldEqual, 1)
	})
}

func TestInformationCalculator(t *testing.T) {
	t.Run("constant mode", func(t *testing.T) {
		cfg := DefaultInformationCalculatorConfig()
		cfg.UseConstInformation = true
		ic := NewInformationCalculator(cfg)
		info := ic.Calculate(nil, nil, geometry.IdentityPose())
		test.That(t, info.At(0, 0), test.ShouldAlmostEqual, 2.0, 1e-12)
		test.That(t, info.At(3, 3), test.ShouldAlmostEqual, 10.0, 1e-12)
	})
	t.Run("perfect overlap pins the minimum stddev", func(t *testing.T) {
		ic := NewInformationCalculator(DefaultInformationCalculatorConfig())
		c := testhelper.WallSegment(r3.Vector{X: 1}, -2, 4, 2, 150)
		info := ic.Calculate(c, c, geometry.IdentityPose())
		test.That(t, info.At(0, 0), test.ShouldAlmostEqual, 1/0.1, 1e-9)
		test.That(t, info.At(3, 3), test.ShouldAlmostEqual, 1/0.05, 1e-9)
	})
	t.Run("no overlap saturates the maximum stddev", func(t *testing.T) {
		ic := NewInformationCalculator(DefaultInformationCalculatorConfig())
		c1 := testhelper.WallSegment(r3.Vector{X: 1}, -2, 4, 2, 150)
		c2 := testhelper.WallSegment(r3.Vector{X: 1}, -500, 4, 2, 150)
		info := ic.Calculate(c1, c2, geometry.IdentityPose())
		test.That(t, info.At(0, 0), test.ShouldAlmostEqual, 1/5.0, 1e-9)
		test.That(t, info.At(3, 3), test.ShouldAlmostEqual, 1/0.2, 1e-9)
	})
}

func TestCorridorWidthGating(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := NewStructureMapper(DefaultStructureMapperConfig(), logger)

	detFor := func(n r3.Vector, d float64) *DetectedPlane {
		return &DetectedPlane{
			MapPlane: geometry.Plane{Normal: n, Offset: d},
			Class:    geometry.ClassX,
			Length:   11,
		}
	}

	t.Run("width 2.2 is accepted", func(t *testing.T) {
		cands := []*DetectedPlane{
			detFor(r3.Vector{X: 1}, -1.0),
			detFor(r3.Vector{X: 1}, 1.2),
		}
		pairs := m.sortCorridors(cands)
		test.That(t, len(pairs), test.ShouldEqual, 1)
		test.That(t, pairs[0].width, test.ShouldAlmostEqual, 2.2, 1e-9)
	})
	t.Run("width 3.0 is rejected", func(t *testing.T) {
		cands := []*DetectedPlane{
			detFor(r3.Vector{X: 1}, -1.0),
			detFor(r3.Vector{X: 1}, 2.0),
		}
		test.That(t, len(m.sortCorridors(cands)), test.ShouldEqual, 0)
	})
	t.Run("same facing direction is rejected", func(t *testing.T) {
		cands := []*DetectedPlane{
			detFor(r3.Vector{X: 1}, -1.0),
			detFor(r3.Vector{X: 1}, -3.2),
		}
		test.That(t, len(m.sortCorridors(cands)), test.ShouldEqual, 0)
	})
}

func TestRoomRefinementPicksClosestWidths(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := NewStructureMapper(DefaultStructureMapperConfig(), logger)

	pair := func(width float64) planePair {
		return planePair{width: width}
	}
	xPairs := []planePair{pair(3.0), pair(4.0)}
	yPairs := []planePair{pair(3.1), pair(5.0)}

	bestX, bestY, ok := m.refineRooms(xPairs, yPairs)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bestX.width, test.ShouldAlmostEqual, 3.0, 1e-12)
	test.That(t, bestY.width, test.ShouldAlmostEqual, 3.1, 1e-12)
}

func TestLookupCorridors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	pm := NewPlaneMapper(DefaultPlaneMapperConfig(), logger)
	sm := NewStructureMapper(DefaultStructureMapperConfig(), logger)
	kf := newKeyframe(g, geometry.IdentityPose(), 1)

	seg1, seg2 := testhelper.FacingWalls(geometry.ClassX, -1.0, -1.2, 12, 150)
	det1 := pm.Process(g, st, kf, seg1)
	det2 := pm.Process(g, st, kf, seg2)
	test.That(t, det1, test.ShouldNotBeNil)
	test.That(t, det2, test.ShouldNotBeNil)

	cands := sm.CorridorCandidates([]*DetectedPlane{det1, det2})
	test.That(t, len(cands), test.ShouldEqual, 2)

	sm.LookupCorridors(g, st, cands, geometry.ClassX)
	test.That(t, len(st.XCorridors), test.ShouldEqual, 1)
	corr := st.XCorridors[0]
	test.That(t, corr.Node.Estimate(), test.ShouldAlmostEqual, -1.1, 1e-9)
	test.That(t, corr.ID, test.ShouldEqual, corr.Node.ID())

	// A second pass associates with the existing corridor.
	sm.LookupCorridors(g, st, cands, geometry.ClassX)
	test.That(t, len(st.XCorridors), test.ShouldEqual, 1)
}

func TestLookupRooms(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	pm := NewPlaneMapper(DefaultPlaneMapperConfig(), logger)
	sm := NewStructureMapper(DefaultStructureMapperConfig(), logger)
	kf := newKeyframe(g, geometry.IdentityPose(), 1)

	xSeg1, xSeg2 := testhelper.FacingWalls(geometry.ClassX, -1.5, -1.5, 4, 150)
	ySeg1, ySeg2 := testhelper.FacingWalls(geometry.ClassY, -1.55, -1.55, 4, 150)

	xDets := []*DetectedPlane{pm.Process(g, st, kf, xSeg1), pm.Process(g, st, kf, xSeg2)}
	yDets := []*DetectedPlane{pm.Process(g, st, kf, ySeg1), pm.Process(g, st, kf, ySeg2)}
	for _, d := range append(append([]*DetectedPlane{}, xDets...), yDets...) {
		test.That(t, d, test.ShouldNotBeNil)
	}

	sm.LookupRooms(g, st, sm.RoomCandidates(xDets), sm.RoomCandidates(yDets))
	test.That(t, len(st.Rooms), test.ShouldEqual, 1)
	room := st.Rooms[0]
	test.That(t, room.Node.Estimate()[0], test.ShouldAlmostEqual, 1.5, 1e-9)
	test.That(t, room.Node.Estimate()[1], test.ShouldAlmostEqual, 1.55, 1e-9)

	sm.LookupRooms(g, st, sm.RoomCandidates(xDets), sm.RoomCandidates(yDets))
	test.That(t, len(st.Rooms), test.ShouldEqual, 1)
}

func TestCorridorAssociationPicksNearest(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	m := NewStructureMapper(DefaultStructureMapperConfig(), logger)

	near := &Corridor{Axis: geometry.ClassX, Node: g.AddCorridorVertex(0.55)}
	near.ID = near.Node.ID()
	far := &Corridor{Axis: geometry.ClassX, Node: g.AddCorridorVertex(0.0)}
	far.ID = far.Node.ID()
	// The farther corridor was created first.
	st.XCorridors = append(st.XCorridors, far, near)

	// Both are inside the gate; the nearest wins regardless of creation
	// order.
	test.That(t, m.associateCorridor(st, 0.5, geometry.ClassX), test.ShouldEqual, near)
	test.That(t, m.associateCorridor(st, 0.1, geometry.ClassX), test.ShouldEqual, far)
	// Beyond the gate nothing associates.
	test.That(t, m.associateCorridor(st, 5.0, geometry.ClassX), test.ShouldBeNil)
}

func TestRoomAssociationPicksNearest(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	m := NewStructureMapper(DefaultStructureMapperConfig(), logger)

	far := &Room{Node: g.AddRoomVertex([2]float64{0, 0})}
	far.ID = far.Node.ID()
	near := &Room{Node: g.AddRoomVertex([2]float64{0.5, 0.5})}
	near.ID = near.Node.ID()
	st.Rooms = append(st.Rooms, far, near)

	test.That(t, m.associateRoom(st, [2]float64{0.45, 0.45}), test.ShouldEqual, near)
	test.That(t, m.associateRoom(st, [2]float64{0.1, 0.1}), test.ShouldEqual, far)
	test.That(t, m.associateRoom(st, [2]float64{10, 10}), test.ShouldBeNil)
}

func TestNeighbourMapper(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g := graph.New(logger)
	st := NewState()
	nm := NewNeighbourMapper(DefaultNeighbourMapperConfig(), logger)

	r1 := &Room{Node: g.AddRoomVertex([2]float64{0, 0})}
	r1.ID = r1.Node.ID()
	r2 := &Room{Node: g.AddRoomVertex([2]float64{5, 0})}
	r2.ID = r2.Node.ID()
	st.Rooms = append(st.Rooms, r1, r2)

	c1 := &Corridor{Axis: geometry.ClassX, Node: g.AddCorridorVertex(2)}
	c1.ID = c1.Node.ID()
	st.XCorridors = append(st.XCorridors, c1)

	before := g.NumEdges()
	nm.Process(g, st, sensors.RoomInventory{
		RoomRooms:     []sensors.Adjacency{{FromID: r1.ID, ToID: r2.ID}},
		RoomCorridors: []sensors.Adjacency{{FromID: r1.ID, ToID: c1.ID}},
		// Unknown ids are skipped.
		CorridorCorridors: []sensors.Adjacency{{FromID: 99, ToID: c1.ID}},
	})
	test.That(t, g.NumEdges()-before, test.ShouldEqual, 2)

	// The adjacency measurements freeze the current layout, so residuals
	// start at zero.
	for _, e := range g.Edges() {
		for _, r := range e.Residual() {
			test.That(t, r, test.ShouldAlmostEqual, 0, 1e-12)
		}
	}
}

func TestGenerateMapCloud(t *testing.T) {
	test.That(t, GenerateMapCloud(nil, 0.1), test.ShouldBeNil)

	seg := testhelper.WallSegment(r3.Vector{X: 1}, -2, 4, 2, 100)
	snaps := []keyframe.Snapshot{
		{Pose: geometry.IdentityPose(), Cloud: seg},
		{Pose: geometry.NewPose(geometry.IdentityPose().Rotation, r3.Vector{Y: 1}), Cloud: seg},
	}
	out := GenerateMapCloud(snaps, 0)
	test.That(t, out.Size(), test.ShouldEqual, 200)

	down := GenerateMapCloud(snaps, 5.0)
	test.That(t, down.Size(), test.ShouldBeLessThan, 200)
}
