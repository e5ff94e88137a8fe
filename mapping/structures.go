package mapping

import (
	"math"

	"github.com/edaniels/golog"

	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
)

// StructureMapperConfig tunes corridor and room detection and factors.
type StructureMapperConfig struct {
	CorridorMinWidth        float64
	CorridorMaxWidth        float64
	CorridorPlaneLengthDiff float64
	CorridorMinPlaneLength  float64
	CorridorDistThreshold   float64
	RoomMinWidth            float64
	RoomPlaneLengthDiff     float64
	RoomWidthDiffThreshold  float64
	RoomMinPlaneLength      float64
	RoomMaxPlaneLength      float64
	RoomDistThreshold       float64
	KeyframeCorridorInfo    float64
	CorridorPlaneInfo       float64
	KeyframeRoomInfo        float64
	RoomPlaneInfo           float64
	HuberDelta              float64
}

// DefaultStructureMapperConfig returns the standard tuning.
func DefaultStructureMapperConfig() StructureMapperConfig {
	return StructureMapperConfig{
		CorridorMinWidth:        1.5,
		CorridorMaxWidth:        2.5,
		CorridorPlaneLengthDiff: 0.3,
		CorridorMinPlaneLength:  10.0,
		CorridorDistThreshold:   1.0,
		RoomMinWidth:            2.5,
		RoomPlaneLengthDiff:     0.3,
		RoomWidthDiffThreshold:  2.5,
		RoomMinPlaneLength:      3.0,
		RoomMaxPlaneLength:      6.0,
		RoomDistThreshold:       1.0,
		KeyframeCorridorInfo:    0.01,
		CorridorPlaneInfo:       0.01,
		KeyframeRoomInfo:        0.01,
		RoomPlaneInfo:           0.01,
		HuberDelta:              1.0,
	}
}

// StructureMapper turns plane detections into corridor and room landmarks.
type StructureMapper struct {
	cfg    StructureMapperConfig
	logger golog.Logger
}

// NewStructureMapper returns a mapper with the given tuning.
func NewStructureMapper(cfg StructureMapperConfig, logger golog.Logger) *StructureMapper {
	return &StructureMapper{cfg: cfg, logger: logger}
}

// planePair is a candidate pair of facing walls with its geometry.
type planePair struct {
	p1, p2 *DetectedPlane
	// corrected plane equations, sign-normalized.
	c1, c2     geometry.Plane
	width      float64
	lengthDiff float64
}

// CorridorCandidates filters detections down to those long enough to
// support a corridor.
func (m *StructureMapper) CorridorCandidates(detections []*DetectedPlane) []*DetectedPlane {
	var out []*DetectedPlane
	for _, d := range detections {
		if d.Length >= m.cfg.CorridorMinPlaneLength {
			out = append(out, d)
		}
	}
	return out
}

// RoomCandidates filters detections down to wall-sized segments.
func (m *StructureMapper) RoomCandidates(detections []*DetectedPlane) []*DetectedPlane {
	var out []*DetectedPlane
	for _, d := range detections {
		if d.Length >= m.cfg.RoomMinPlaneLength && d.Length <= m.cfg.RoomMaxPlaneLength {
			out = append(out, d)
		}
	}
	return out
}

// sortCorridors pairs up detections that face each other at corridor width.
func (m *StructureMapper) sortCorridors(cands []*DetectedPlane) []planePair {
	var pairs []planePair
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			c1 := geometry.CorrectSign(cands[i].MapPlane)
			c2 := geometry.CorrectSign(cands[j].MapPlane)
			if geometry.Dot(c1, c2) >= 0 {
				continue
			}
			width := geometry.Width(c1, c2)
			if width <= m.cfg.CorridorMinWidth || width >= m.cfg.CorridorMaxWidth {
				continue
			}
			lengthDiff := math.Abs(cands[i].Length - cands[j].Length)
			if lengthDiff >= m.cfg.CorridorPlaneLengthDiff {
				continue
			}
			pairs = append(pairs, planePair{
				p1: cands[i], p2: cands[j],
				c1: c1, c2: c2,
				width: width, lengthDiff: lengthDiff,
			})
		}
	}
	return pairs
}

// refineCorridors keeps the pair with the smallest length difference; the
// first minimum wins.
func (m *StructureMapper) refineCorridors(pairs []planePair) (planePair, bool) {
	best := planePair{lengthDiff: 100}
	found := false
	for _, p := range pairs {
		if p.lengthDiff < best.lengthDiff {
			best = p
			found = true
		}
	}
	return best, found
}

// sortRooms pairs up detections that face each other at room width.
func (m *StructureMapper) sortRooms(cands []*DetectedPlane) []planePair {
	var pairs []planePair
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			c1 := geometry.CorrectSign(cands[i].MapPlane)
			c2 := geometry.CorrectSign(cands[j].MapPlane)
			if geometry.Dot(c1, c2) >= 0 {
				continue
			}
			width := geometry.Width(c1, c2)
			if width <= m.cfg.RoomMinWidth {
				continue
			}
			lengthDiff := math.Abs(cands[i].Length - cands[j].Length)
			if lengthDiff >= m.cfg.RoomPlaneLengthDiff {
				continue
			}
			pairs = append(pairs, planePair{
				p1: cands[i], p2: cands[j],
				c1: c1, c2: c2,
				width: width, lengthDiff: lengthDiff,
			})
		}
	}
	return pairs
}

// refineRooms picks the X/Y pair combination with the most similar widths.
func (m *StructureMapper) refineRooms(xPairs, yPairs []planePair) (planePair, planePair, bool) {
	bestDiff := m.cfg.RoomWidthDiffThreshold
	var bestX, bestY planePair
	found := false
	for _, xp := range xPairs {
		for _, yp := range yPairs {
			if diff := math.Abs(xp.width - yp.width); diff < bestDiff {
				bestDiff = diff
				bestX, bestY = xp, yp
				found = true
			}
		}
	}
	return bestX, bestY, found
}

// axisMidpoint is the center of two sign-corrected facing planes along
// their axis.
func axisMidpoint(d1, d2 float64) float64 {
	if math.Abs(d1) > math.Abs(d2) {
		return (d1-d2)/2 + d2
	}
	return (d2-d1)/2 + d1
}

// LookupCorridors runs corridor detection over one axis and wires any
// refined corridor into the graph.
func (m *StructureMapper) LookupCorridors(g *graph.Graph, st *State, cands []*DetectedPlane, axis geometry.Class) {
	pair, ok := m.refineCorridors(m.sortCorridors(cands))
	if !ok {
		return
	}
	m.factorCorridor(g, st, pair, axis)
}

func (m *StructureMapper) factorCorridor(g *graph.Graph, st *State, pair planePair, axis geometry.Class) {
	corrPos := axisMidpoint(pair.c1.Offset, pair.c2.Offset)
	kfNode := pair.p1.KeyframeNode

	corr := m.associateCorridor(st, corrPos, axis)
	if corr == nil {
		node := g.AddCorridorVertex(corrPos)
		corr = &Corridor{
			ID:            node.ID(),
			Axis:          axis,
			Node:          node,
			Plane1:        pair.c1,
			Plane2:        pair.c2,
			Plane1ID:      pair.p1.Landmark.ID,
			Plane2ID:      pair.p2.Landmark.ID,
			KeyframeTrans: pair.p1.KeyframeTrans,
		}
		if axis == geometry.ClassY {
			st.YCorridors = append(st.YCorridors, corr)
		} else {
			st.XCorridors = append(st.XCorridors, corr)
		}
		if m.logger != nil {
			m.logger.Debugw("new corridor landmark", "id", corr.ID, "axis", axis.String())
		}
	}

	inv := kfNode.Estimate().Inverse()
	localMeas := corrPos + axisCoordOf(inv.Translation.X, inv.Translation.Y, axis)
	se3Edge := g.AddSE3CorridorEdge(kfNode, corr.Node, localMeas, axis,
		graph.InformationScalar(m.cfg.KeyframeCorridorInfo))
	m.robustify(se3Edge)

	for _, dp := range []struct {
		lm *PlaneLandmark
		d  float64
	}{
		{pair.p1.Landmark, pair.c1.Offset},
		{pair.p2.Landmark, pair.c2.Offset},
	} {
		meas := structuralMeasurement(corrPos, dp.d)
		e := g.AddCorridorPlaneEdge(corr.Node, dp.lm.Node, meas,
			graph.InformationScalar(m.cfg.CorridorPlaneInfo))
		m.robustify(e)
	}
}

func axisCoordOf(x, y float64, axis geometry.Class) float64 {
	if axis == geometry.ClassY {
		return y
	}
	return x
}

// structuralMeasurement is the signed larger-minus-smaller difference the
// corridor/room plane factors store.
func structuralMeasurement(landmark, offset float64) float64 {
	if math.Abs(landmark) > math.Abs(offset) {
		return landmark - offset
	}
	return offset - landmark
}

// associateCorridor picks the nearest existing corridor on the axis, then
// applies the distance gate; the earliest landmark breaks ties.
func (m *StructureMapper) associateCorridor(st *State, pos float64, axis geometry.Class) *Corridor {
	var best *Corridor
	bestDist := math.Inf(1)
	for _, c := range st.CorridorsByAxis(axis) {
		if dist := math.Abs(c.Node.Estimate() - pos); dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	if bestDist >= m.cfg.CorridorDistThreshold {
		return nil
	}
	return best
}

// LookupRooms runs room detection over the X and Y candidates together and
// wires any refined room into the graph.
func (m *StructureMapper) LookupRooms(g *graph.Graph, st *State, xCands, yCands []*DetectedPlane) {
	xPair, yPair, ok := m.refineRooms(m.sortRooms(xCands), m.sortRooms(yCands))
	if !ok {
		return
	}
	m.factorRoom(g, st, xPair, yPair)
}

func (m *StructureMapper) factorRoom(g *graph.Graph, st *State, xPair, yPair planePair) {
	center := [2]float64{
		-axisMidpoint(xPair.c1.Offset, xPair.c2.Offset),
		-axisMidpoint(yPair.c1.Offset, yPair.c2.Offset),
	}
	kfNode := xPair.p1.KeyframeNode

	room := m.associateRoom(st, center)
	if room == nil {
		node := g.AddRoomVertex(center)
		room = &Room{
			ID:        node.ID(),
			Node:      node,
			PlaneX1:   xPair.c1,
			PlaneX2:   xPair.c2,
			PlaneY1:   yPair.c1,
			PlaneY2:   yPair.c2,
			PlaneX1ID: xPair.p1.Landmark.ID,
			PlaneX2ID: xPair.p2.Landmark.ID,
			PlaneY1ID: yPair.p1.Landmark.ID,
			PlaneY2ID: yPair.p2.Landmark.ID,
		}
		st.Rooms = append(st.Rooms, room)
		if m.logger != nil {
			m.logger.Debugw("new room landmark", "id", room.ID)
		}
	}

	inv := kfNode.Estimate().Inverse()
	localMeas := [2]float64{
		center[0] + inv.Translation.X,
		center[1] + inv.Translation.Y,
	}
	se3Edge := g.AddSE3RoomEdge(kfNode, room.Node, localMeas,
		graph.InformationScaledIdentity(2, m.cfg.KeyframeRoomInfo))
	m.robustify(se3Edge)

	for _, dp := range []struct {
		lm   *PlaneLandmark
		d    float64
		axis geometry.Class
	}{
		{xPair.p1.Landmark, xPair.c1.Offset, geometry.ClassX},
		{xPair.p2.Landmark, xPair.c2.Offset, geometry.ClassX},
		{yPair.p1.Landmark, yPair.c1.Offset, geometry.ClassY},
		{yPair.p2.Landmark, yPair.c2.Offset, geometry.ClassY},
	} {
		coord := center[0]
		if dp.axis == geometry.ClassY {
			coord = center[1]
		}
		meas := structuralMeasurement(coord, dp.d)
		e := g.AddRoomPlaneEdge(room.Node, dp.lm.Node, meas, dp.axis,
			graph.InformationScalar(m.cfg.RoomPlaneInfo))
		m.robustify(e)
	}
}

// associateRoom picks the nearest existing room by 2D distance, then applies
// the distance gate; the earliest landmark breaks ties.
func (m *StructureMapper) associateRoom(st *State, center [2]float64) *Room {
	var best *Room
	bestDist := math.Inf(1)
	for _, r := range st.Rooms {
		est := r.Node.Estimate()
		if dist := math.Hypot(est[0]-center[0], est[1]-center[1]); dist < bestDist {
			bestDist = dist
			best = r
		}
	}
	if bestDist >= m.cfg.RoomDistThreshold {
		return nil
	}
	return best
}

func (m *StructureMapper) robustify(e graph.Edge) {
	if err := graph.AddRobustKernel(e, "Huber", m.cfg.HuberDelta); err != nil && m.logger != nil {
		m.logger.Errorw("attaching robust kernel", "error", err)
	}
}
