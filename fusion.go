package structureslam

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
	"github.com/structkit/structure-slam/keyframe"
	"github.com/structkit/structure-slam/mapping"
	"github.com/structkit/structure-slam/sensors"
)

// tick runs one fusion cycle: drain every input queue into the graph, detect
// loop closures, optimize, and publish the refreshed estimates.
func (s *Service) tick(ctx context.Context) {
	_, span := trace.StartSpan(ctx, "structureslam::Service::tick")
	defer span.End()

	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	// Every queue is drained each cycle; auxiliary measurements may attach
	// to keyframes registered moments ago.
	kfUpdated := s.flushKeyframeQueue()
	floorUpdated := s.flushFloorQueue()
	gpsUpdated := s.flushGPSQueue()
	imuUpdated := s.flushIMUQueue()
	segUpdated := s.flushSegQueue()
	invUpdated := s.flushInventoryQueue()
	if !kfUpdated && !floorUpdated && !gpsUpdated && !imuUpdated && !segUpdated && !invUpdated {
		return
	}

	loops := s.loopDetector.Detect(s.store.Committed(), s.store.New())
	for _, loop := range loops {
		info := s.infoCalc.Calculate(loop.Key1.Cloud, loop.Key2.Cloud, loop.RelPose)
		s.graph.AddSE3Edge(loop.Key1.Node, loop.Key2.Node, loop.RelPose, info)
	}
	s.store.MergeNew()

	// Let the anchor follow its keyframe so the prior constrains drift, not
	// absolute position.
	if s.anchorNode != nil && s.anchorAdaptive {
		if first, ok := s.anchorEdge.Vertices()[1].(*graph.SE3Vertex); ok {
			s.anchorNode.SetEstimate(first.Estimate())
		}
	}

	iters := s.graph.Optimize(optimizeIterations)
	if iters > 0 {
		planes := s.state.AllPlanes()
		verts := make([]graph.Vertex, 0, len(planes))
		for _, lm := range planes {
			verts = append(verts, lm.Node)
		}
		blocks, ok := s.graph.ComputeMarginals(verts)
		if !ok {
			s.logger.Warnf("marginal covariance extraction failed, falling back to identity")
		}
		mapping.UpdateCovariances(s.state, blocks, ok)
	}
	s.logger.Debugw("fusion cycle optimized",
		"iterations", iters,
		"keyframes", s.store.Len(),
		"vertices", s.graph.NumVertices(),
		"edges", s.graph.NumEdges(),
		"loops", len(loops))

	if latest := s.store.Latest(); latest != nil {
		s.odom2map = latest.Node.Estimate().Compose(latest.Odometry.Inverse())
	}

	snaps := s.store.Snapshots()
	s.snapshotMu.Lock()
	s.snapshots = snaps
	s.graphUpdated = true
	s.snapshotMu.Unlock()
}

// flushKeyframeQueue registers queued keyframes in the graph: a pose vertex
// at the corrected odometry, an anchor for the very first keyframe, and a
// relative-pose edge to the previous keyframe.
func (s *Service) flushKeyframeQueue() bool {
	s.queueMu.Lock()
	n := len(s.keyframeQueue)
	if n > maxKeyframesPerTick {
		n = maxKeyframesPerTick
	}
	batch := s.keyframeQueue[:n]
	s.keyframeQueue = s.keyframeQueue[n:]
	s.queueMu.Unlock()
	if len(batch) == 0 {
		return false
	}

	for _, kf := range batch {
		prev := s.store.Latest()
		kf.Node = s.graph.AddSE3Vertex(s.odom2map.Compose(kf.Odometry))
		s.store.Add(kf)

		if prev == nil {
			if s.cfg.FixFirstNode {
				s.anchorFirstKeyframe(kf)
			}
			continue
		}
		rel := kf.Odometry.Delta(prev.Odometry)
		info := s.infoCalc.Calculate(prev.Cloud, kf.Cloud, rel)
		s.graph.AddSE3Edge(kf.Node, prev.Node, rel, info)
	}
	return true
}

// anchorFirstKeyframe pins the map origin: a fixed identity vertex plus a
// soft identity edge to the first keyframe, weighted by the configured
// per-axis standard deviations.
func (s *Service) anchorFirstKeyframe(kf *keyframe.Keyframe) {
	s.anchorNode = s.graph.AddSE3Vertex(geometry.IdentityPose())
	s.anchorNode.SetFixed(true)
	diag := make([]float64, 6)
	for i, sd := range s.anchorStddevs {
		diag[i] = 1 / sd
	}
	s.anchorEdge = s.graph.AddSE3Edge(s.anchorNode, kf.Node, geometry.IdentityPose(),
		graph.InformationDiagonal(diag))
}

// floorEdgeInformation is 1/stddev with the usual 10m floor stddev.
const floorEdgeInformation = 1.0 / 10.0

// flushFloorQueue attaches detected floor planes to their keyframes, tying
// each to the shared fixed horizontal floor landmark.
func (s *Service) flushFloorQueue() bool {
	s.queueMu.Lock()
	queue := s.floorQueue
	s.floorQueue = nil
	s.queueMu.Unlock()
	if len(queue) == 0 {
		return false
	}
	latest := s.store.Latest()
	if latest == nil {
		s.requeueFloor(queue)
		return false
	}

	updated := false
	var keep []sensors.FloorCoeffs
	for _, msg := range queue {
		if msg.Stamp.After(latest.Stamp) {
			keep = append(keep, msg)
			continue
		}
		kf, ok := s.store.ByStamp(msg.Stamp)
		if !ok {
			continue
		}
		if s.floorNode == nil {
			s.floorNode = s.graph.AddPlaneVertex(geometry.Plane{Normal: r3.Vector{Z: 1}})
			s.floorNode.SetFixed(true)
		}
		coeffs := msg.Coeffs
		kf.FloorCoeffs = &coeffs
		s.graph.AddSE3PlaneEdge(kf.Node, s.floorNode, geometry.PlaneFromVec4(coeffs),
			graph.InformationScaledIdentity(3, floorEdgeInformation))
		updated = true
	}
	s.requeueFloor(keep)
	return updated
}

func (s *Service) requeueFloor(msgs []sensors.FloorCoeffs) {
	if len(msgs) == 0 {
		return
	}
	s.queueMu.Lock()
	s.floorQueue = append(msgs, s.floorQueue...)
	s.queueMu.Unlock()
}

// GPS prior information weights: 100m horizontal stddev, ~3m vertical.
const (
	gpsEdgeInformationXY = 1.0 / 10000.0
	gpsEdgeInformationZ  = 1.0 / 10.0
)

// flushGPSQueue attaches the nearest-in-time fix to every keyframe still
// missing one. The first fix defines the local UTM origin.
func (s *Service) flushGPSQueue() bool {
	s.queueMu.Lock()
	queue := make([]sensors.GeoPoint, len(s.gpsQueue))
	copy(queue, s.gpsQueue)
	s.queueMu.Unlock()
	if len(queue) == 0 {
		return false
	}
	latest := s.store.Latest()
	if latest == nil {
		return false
	}

	updated := false
	for _, kf := range s.store.All() {
		if kf.UTM != nil {
			continue
		}
		fix, ok := nearestGPS(queue, kf.Stamp)
		if !ok {
			continue
		}
		coord, _ := sensors.LatLonToUTM(fix.Latitude, fix.Longitude, fix.Altitude)
		if s.zeroUTM == nil {
			zero := coord
			s.zeroUTM = &zero
		}
		coord = coord.Sub(*s.zeroUTM)
		utm := coord
		kf.UTM = &utm

		if math.IsNaN(coord.Z) {
			s.graph.AddSE3PriorXYEdge(kf.Node, [2]float64{coord.X, coord.Y},
				graph.InformationScaledIdentity(2, gpsEdgeInformationXY))
		} else {
			s.graph.AddSE3PriorXYZEdge(kf.Node, coord, graph.InformationDiagonal(
				[]float64{gpsEdgeInformationXY, gpsEdgeInformationXY, gpsEdgeInformationZ}))
		}
		updated = true
	}

	// Fixes at or before the newest keyframe had their chance to match.
	s.queueMu.Lock()
	kept := s.gpsQueue[:0]
	for _, msg := range s.gpsQueue {
		if msg.Stamp.After(latest.Stamp) {
			kept = append(kept, msg)
		}
	}
	s.gpsQueue = kept
	s.queueMu.Unlock()
	return updated
}

func nearestGPS(queue []sensors.GeoPoint, stamp time.Time) (sensors.GeoPoint, bool) {
	var best sensors.GeoPoint
	bestGap := auxStampWindow
	found := false
	for _, msg := range queue {
		gap := msg.Stamp.Sub(stamp)
		if gap < 0 {
			gap = -gap
		}
		if gap <= bestGap {
			bestGap = gap
			best = msg
			found = true
		}
	}
	return best, found
}

// IMU prior information weights: 0.1rad orientation stddev, 3m/s^2
// acceleration stddev.
const (
	imuOrientationInformation  = 1.0 / 0.1
	imuAccelerationInformation = 1.0 / 3.0
)

// flushIMUQueue attaches the nearest-in-time IMU sample to every keyframe
// still missing one: an orientation prior and a gravity-direction prior.
func (s *Service) flushIMUQueue() bool {
	s.queueMu.Lock()
	queue := make([]sensors.IMUMeasurement, len(s.imuQueue))
	copy(queue, s.imuQueue)
	s.queueMu.Unlock()
	if len(queue) == 0 {
		return false
	}
	latest := s.store.Latest()
	if latest == nil {
		return false
	}

	updated := false
	for _, kf := range s.store.All() {
		if kf.Orientation != nil {
			continue
		}
		sample, ok := nearestIMU(queue, kf.Stamp)
		if !ok {
			continue
		}
		q := sample.Orientation
		if q.Real < 0 {
			q = quat.Scale(-1, q)
		}
		acc := sample.Acceleration
		kf.Orientation = &q
		kf.Acceleration = &acc

		s.graph.AddSE3PriorQuatEdge(kf.Node, q,
			graph.InformationScaledIdentity(3, imuOrientationInformation))
		s.graph.AddSE3PriorVecEdge(kf.Node, r3.Vector{Z: -1}, acc,
			graph.InformationScaledIdentity(3, imuAccelerationInformation))
		updated = true
	}

	s.queueMu.Lock()
	kept := s.imuQueue[:0]
	for _, msg := range s.imuQueue {
		if msg.Stamp.After(latest.Stamp) {
			kept = append(kept, msg)
		}
	}
	s.imuQueue = kept
	s.queueMu.Unlock()
	return updated
}

func nearestIMU(queue []sensors.IMUMeasurement, stamp time.Time) (sensors.IMUMeasurement, bool) {
	var best sensors.IMUMeasurement
	bestGap := auxStampWindow
	found := false
	for _, msg := range queue {
		gap := msg.Stamp.Sub(stamp)
		if gap < 0 {
			gap = -gap
		}
		if gap <= bestGap {
			bestGap = gap
			best = msg
			found = true
		}
	}
	return best, found
}

// flushSegQueue runs queued segment batches through the plane mapper, then
// the corridor and room detectors over everything seen this cycle.
func (s *Service) flushSegQueue() bool {
	s.queueMu.Lock()
	queue := s.segQueue
	s.segQueue = nil
	s.queueMu.Unlock()
	if len(queue) == 0 {
		return false
	}
	latest := s.store.Latest()
	if latest == nil {
		s.requeueSegs(queue)
		return false
	}

	// Association compares against map-frame clouds; rebuild them once from
	// the latest estimates before touching this cycle's segments.
	s.planeMapper.RebuildMapClouds(s.state)

	var xDetections, yDetections []*mapping.DetectedPlane
	updated := false
	for i, msg := range queue {
		if msg.Stamp.After(latest.Stamp) {
			s.requeueSegs(queue[i:])
			break
		}
		kf, ok := s.store.ByStamp(msg.Stamp)
		if !ok {
			continue
		}
		for _, seg := range msg.Segments {
			det := s.planeMapper.Process(s.graph, s.state, kf, seg)
			if det == nil {
				continue
			}
			updated = true
			switch det.Class {
			case geometry.ClassX:
				xDetections = append(xDetections, det)
			case geometry.ClassY:
				yDetections = append(yDetections, det)
			}
		}
	}

	s.structureMapper.LookupCorridors(s.graph, s.state,
		s.structureMapper.CorridorCandidates(xDetections), geometry.ClassX)
	s.structureMapper.LookupCorridors(s.graph, s.state,
		s.structureMapper.CorridorCandidates(yDetections), geometry.ClassY)
	s.structureMapper.LookupRooms(s.graph, s.state,
		s.structureMapper.RoomCandidates(xDetections),
		s.structureMapper.RoomCandidates(yDetections))
	return updated
}

func (s *Service) requeueSegs(msgs []sensors.SegmentedClouds) {
	if len(msgs) == 0 {
		return
	}
	s.queueMu.Lock()
	s.segQueue = append(msgs, s.segQueue...)
	s.queueMu.Unlock()
}

// flushInventoryQueue wires queued structural adjacencies into the graph.
func (s *Service) flushInventoryQueue() bool {
	s.queueMu.Lock()
	queue := s.inventoryQueue
	s.inventoryQueue = nil
	s.queueMu.Unlock()
	if len(queue) == 0 {
		return false
	}
	for _, msg := range queue {
		s.neighbourMapper.Process(s.graph, s.state, msg)
	}
	return true
}
