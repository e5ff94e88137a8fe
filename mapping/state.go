// Package mapping turns segmented planar patches into plane, corridor, and
// room landmarks in the factor graph: data association, landmark creation,
// structural constraint factors, and map-cloud generation.
package mapping

import (
	"github.com/golang/geo/r3"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
)

// PlaneLandmark is a mapped plane: the graph vertex plus the body-frame
// segments and observing keyframes that support it.
type PlaneLandmark struct {
	// ID equals the graph vertex id.
	ID    int
	Class geometry.Class
	Node  *graph.PlaneVertex

	// CloudSegs holds the body-frame segment clouds, aligned with
	// KeyframeNodes.
	CloudSegs     []*cloud.Cloud
	KeyframeNodes []*graph.SE3Vertex

	// CloudSegMap is the union of the segments in the map frame, rebuilt
	// from the current keyframe estimates each cycle.
	CloudSegMap *cloud.Cloud

	// Covariance is the marginal block from the last optimization, nil
	// until one has run.
	Covariance *mat.SymDense
}

// Plane returns the current map-frame estimate.
func (p *PlaneLandmark) Plane() geometry.Plane {
	return p.Node.Estimate()
}

// Corridor is a mapped corridor: two facing wall planes and a scalar
// position along the facing axis.
type Corridor struct {
	// ID equals the graph vertex id.
	ID   int
	Axis geometry.Class
	Node *graph.CorridorVertex

	Plane1, Plane2     geometry.Plane
	Plane1ID, Plane2ID int

	// KeyframeTrans is the translation of the keyframe that created the
	// corridor; its cross-axis coordinates position the corridor for
	// display.
	KeyframeTrans r3.Vector
}

// Room is a mapped room: four wall planes and a 2D center.
type Room struct {
	// ID equals the graph vertex id.
	ID   int
	Node *graph.RoomVertex

	PlaneX1, PlaneX2, PlaneY1, PlaneY2         geometry.Plane
	PlaneX1ID, PlaneX2ID, PlaneY1ID, PlaneY2ID int
}

// State is the landmark inventory the mappers maintain.
type State struct {
	XPlanes          []*PlaneLandmark
	YPlanes          []*PlaneLandmark
	HorizontalPlanes []*PlaneLandmark

	XCorridors []*Corridor
	YCorridors []*Corridor
	Rooms      []*Room
}

// NewState returns an empty landmark inventory.
func NewState() *State {
	return &State{}
}

// PlanesByClass returns the landmark list for a plane class.
func (s *State) PlanesByClass(c geometry.Class) []*PlaneLandmark {
	switch c {
	case geometry.ClassX:
		return s.XPlanes
	case geometry.ClassY:
		return s.YPlanes
	case geometry.ClassHorizontal:
		return s.HorizontalPlanes
	default:
		return nil
	}
}

// CorridorsByAxis returns the corridor list for an axis.
func (s *State) CorridorsByAxis(c geometry.Class) []*Corridor {
	if c == geometry.ClassY {
		return s.YCorridors
	}
	return s.XCorridors
}

// AllPlanes returns every plane landmark across classes.
func (s *State) AllPlanes() []*PlaneLandmark {
	out := make([]*PlaneLandmark, 0, len(s.XPlanes)+len(s.YPlanes)+len(s.HorizontalPlanes))
	out = append(out, s.XPlanes...)
	out = append(out, s.YPlanes...)
	return append(out, s.HorizontalPlanes...)
}

// PlaneByID looks a plane landmark up by graph vertex id.
func (s *State) PlaneByID(id int) (*PlaneLandmark, bool) {
	all := s.AllPlanes()
	if i := slices.IndexFunc(all, func(p *PlaneLandmark) bool { return p.ID == id }); i >= 0 {
		return all[i], true
	}
	return nil, false
}

// RoomByID looks a room up by graph vertex id.
func (s *State) RoomByID(id int) (*Room, bool) {
	if i := slices.IndexFunc(s.Rooms, func(r *Room) bool { return r.ID == id }); i >= 0 {
		return s.Rooms[i], true
	}
	return nil, false
}

// CorridorByID looks a corridor up by graph vertex id, across both axes.
func (s *State) CorridorByID(id int) (*Corridor, bool) {
	match := func(c *Corridor) bool { return c.ID == id }
	if i := slices.IndexFunc(s.XCorridors, match); i >= 0 {
		return s.XCorridors[i], true
	}
	if i := slices.IndexFunc(s.YCorridors, match); i >= 0 {
		return s.YCorridors[i], true
	}
	return nil, false
}
