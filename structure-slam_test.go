package structureslam

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/internal/testhelper"
	"github.com/structkit/structure-slam/sensors"
)

// newTestService returns a service whose background timers are effectively
// disabled; tests drive fusion cycles directly through tick.
func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FusionIntervalMsec = 3600000
	cfg.MapPublishIntervalMsec = 3600000
	cfg.ConfigParams["use_const_inf_matrix"] = "true"
	s, err := New(context.Background(), cfg, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, s.Close(context.Background()), test.ShouldBeNil)
	})
	return s
}

func odomAt(stamp time.Time, x float64) sensors.Odometry {
	return sensors.Odometry{
		Stamp: stamp,
		Pose:  geometry.NewPose(quat.Number{Real: 1}, r3.Vector{X: x}),
		Cloud: testhelper.WallSegment(r3.Vector{X: 1}, -1.0, 2, 2, 30),
	}
}

func TestAddOdometryGate(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	// The first pose always becomes a keyframe.
	test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
	// Half a meter is under the movement gate.
	test.That(t, s.AddOdometry(ctx, odomAt(t0.Add(time.Second), 0.5)), test.ShouldBeNil)
	// 2.5m from the last keyframe passes it.
	test.That(t, s.AddOdometry(ctx, odomAt(t0.Add(2*time.Second), 2.5)), test.ShouldBeNil)

	s.queueMu.Lock()
	queued := len(s.keyframeQueue)
	s.queueMu.Unlock()
	test.That(t, queued, test.ShouldEqual, 2)
}

func TestTickRegistersKeyframes(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	_, err := s.Position(ctx)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
	test.That(t, s.AddOdometry(ctx, odomAt(t0.Add(time.Second), 2.5)), test.ShouldBeNil)
	s.tick(ctx)

	test.That(t, s.store.Len(), test.ShouldEqual, 2)
	// Two keyframe vertices plus the fixed anchor.
	test.That(t, s.graph.NumVertices(), test.ShouldEqual, 3)
	// The anchor edge plus one consecutive odometry edge.
	test.That(t, s.graph.NumEdges(), test.ShouldEqual, 2)

	pos, err := s.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.Point().X, test.ShouldAlmostEqual, 2.5, 0.05)
	test.That(t, pos.Point().Y, test.ShouldAlmostEqual, 0, 0.05)
}

func TestGPSQueue(t *testing.T) {
	ctx := context.Background()
	t0 := time.Unix(100, 0)
	fix := func(stamp time.Time) sensors.GeoPoint {
		return sensors.GeoPoint{
			Stamp: stamp, Latitude: 43.6425667, Longitude: -79.3871389, Altitude: math.NaN(),
		}
	}

	t.Run("fix within the window attaches", func(t *testing.T) {
		s := newTestService(t)
		test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
		s.tick(ctx)
		edgesBefore := s.graph.NumEdges()

		test.That(t, s.AddGPS(ctx, fix(t0.Add(150*time.Millisecond))), test.ShouldBeNil)
		s.tick(ctx)

		kf := s.store.All()[0]
		test.That(t, kf.UTM, test.ShouldNotBeNil)
		test.That(t, s.graph.NumEdges(), test.ShouldEqual, edgesBefore+1)
		// The first fix is the origin.
		test.That(t, kf.UTM.X, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, kf.UTM.Y, test.ShouldAlmostEqual, 0, 1e-9)
	})

	t.Run("stale fix outside the window is dropped", func(t *testing.T) {
		s := newTestService(t)
		test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
		test.That(t, s.AddGPS(ctx, fix(t0.Add(-300*time.Millisecond))), test.ShouldBeNil)
		s.tick(ctx)

		test.That(t, s.store.All()[0].UTM, test.ShouldBeNil)
		s.queueMu.Lock()
		queued := len(s.gpsQueue)
		s.queueMu.Unlock()
		test.That(t, queued, test.ShouldEqual, 0)
	})

	t.Run("fix newer than the latest keyframe stays queued", func(t *testing.T) {
		s := newTestService(t)
		test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
		test.That(t, s.AddGPS(ctx, fix(t0.Add(300*time.Millisecond))), test.ShouldBeNil)
		s.tick(ctx)

		test.That(t, s.store.All()[0].UTM, test.ShouldBeNil)
		s.queueMu.Lock()
		queued := len(s.gpsQueue)
		s.queueMu.Unlock()
		test.That(t, queued, test.ShouldEqual, 1)
	})
}

func TestIMUQueue(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
	s.tick(ctx)
	edgesBefore := s.graph.NumEdges()

	test.That(t, s.AddIMU(ctx, sensors.IMUMeasurement{
		Stamp:        t0.Add(50 * time.Millisecond),
		Orientation:  quat.Number{Real: -1},
		Acceleration: r3.Vector{Z: -9.81},
	}), test.ShouldBeNil)
	s.tick(ctx)

	kf := s.store.All()[0]
	test.That(t, kf.Orientation, test.ShouldNotBeNil)
	test.That(t, kf.Acceleration, test.ShouldNotBeNil)
	// The quaternion is flipped into the positive-real hemisphere.
	test.That(t, kf.Orientation.Real, test.ShouldEqual, 1.0)
	// One orientation prior and one gravity-direction prior.
	test.That(t, s.graph.NumEdges(), test.ShouldEqual, edgesBefore+2)
}

func TestFloorQueue(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
	s.tick(ctx)
	edgesBefore := s.graph.NumEdges()

	test.That(t, s.AddFloorCoeffs(ctx, sensors.FloorCoeffs{
		Stamp:  t0,
		Coeffs: [4]float64{0, 0, 1, 0.1},
	}), test.ShouldBeNil)
	s.tick(ctx)

	test.That(t, s.floorNode, test.ShouldNotBeNil)
	test.That(t, s.floorNode.Fixed(), test.ShouldBeTrue)
	test.That(t, s.store.All()[0].FloorCoeffs, test.ShouldNotBeNil)
	test.That(t, s.graph.NumEdges(), test.ShouldEqual, edgesBefore+1)
}

func TestCorridorEndToEnd(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	// A straight corridor along Y bounded by walls at x=1.0 and x=-1.2. Every
	// keyframe re-detects the same two walls in its body frame.
	for i := 0; i < 4; i++ {
		stamp := t0.Add(time.Duration(i) * time.Second)
		wall1, wall2 := testhelper.FacingWalls(geometry.ClassX, -1.0, -1.2, 12, 150)
		test.That(t, s.AddOdometry(ctx, sensors.Odometry{
			Stamp: stamp,
			Pose:  geometry.NewPose(quat.Number{Real: 1}, r3.Vector{Y: 2.5 * float64(i)}),
			Cloud: testhelper.WallSegment(r3.Vector{X: 1}, -1.0, 2, 2, 30),
		}), test.ShouldBeNil)
		test.That(t, s.AddSegmentedClouds(ctx, sensors.SegmentedClouds{
			Stamp:    stamp,
			Segments: []*cloud.Cloud{wall1, wall2},
		}), test.ShouldBeNil)
		s.tick(ctx)
	}

	// Repeated observations associate instead of spawning duplicates.
	planes, corridors, rooms := s.Landmarks()
	test.That(t, planes, test.ShouldEqual, 2)
	test.That(t, corridors, test.ShouldEqual, 1)
	test.That(t, rooms, test.ShouldEqual, 0)

	// The corridor center sits between the two wall offsets, and its
	// supporting plane ids never change.
	corr := s.state.XCorridors[0]
	test.That(t, corr.Node.Estimate(), test.ShouldAlmostEqual, -1.1, 0.05)
	test.That(t, corr.Plane1ID, test.ShouldEqual, s.state.XPlanes[0].ID)
	test.That(t, corr.Plane2ID, test.ShouldEqual, s.state.XPlanes[1].ID)
}

func TestDumpState(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
	s.tick(ctx)

	dir := t.TempDir()
	test.That(t, s.DumpState(ctx, dir), test.ShouldBeNil)

	graphData, err := os.ReadFile(filepath.Join(dir, "graph.g2o"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(graphData), test.ShouldBeGreaterThan, 0)

	_, err = os.Stat(filepath.Join(dir, "000000", "data"))
	test.That(t, err, test.ShouldBeNil)

	special, err := os.ReadFile(filepath.Join(dir, "special_nodes.csv"))
	test.That(t, err, test.ShouldBeNil)
	// First vertex is the keyframe, the anchor comes right after; no floor
	// was seen.
	test.That(t, string(special), test.ShouldContainSubstring, "anchor_node 1")
	test.That(t, string(special), test.ShouldContainSubstring, "anchor_edge 0")
	test.That(t, string(special), test.ShouldContainSubstring, "floor_node -1")
}

func TestSaveMapCloud(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	t0 := time.Unix(100, 0)

	path := filepath.Join(t.TempDir(), "map.pcd")
	test.That(t, s.SaveMapCloud(ctx, path, 0.1, false), test.ShouldNotBeNil)

	test.That(t, s.AddOdometry(ctx, odomAt(t0, 0)), test.ShouldBeNil)
	s.tick(ctx)

	test.That(t, s.SaveMapCloud(ctx, path, 0.1, false), test.ShouldBeNil)
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(data), test.ShouldBeGreaterThan, 0)
}
