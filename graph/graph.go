package graph

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/geometry"
)

// Graph owns the vertices and edges of the factor graph. It is not safe for
// concurrent use; callers serialize access.
type Graph struct {
	logger   golog.Logger
	vertices []Vertex
	edges    []Edge
	// nextID is monotonic: removals never free ids.
	nextID int
	// merged counts vertices/edges that came from a loaded graph rather
	// than live sensor data.
	mergedVertices int
	mergedEdges    int
}

// New returns an empty graph.
func New(logger golog.Logger) *Graph {
	return &Graph{logger: logger}
}

// NumVertices returns the total vertex count.
func (g *Graph) NumVertices() int { return len(g.vertices) }

// NumEdges returns the total edge count.
func (g *Graph) NumEdges() int { return len(g.edges) }

// NumVerticesLocal returns the count of vertices created from live data,
// excluding any merged from a loaded graph.
func (g *Graph) NumVerticesLocal() int { return len(g.vertices) - g.mergedVertices }

// NumEdgesLocal returns the count of edges created from live data.
func (g *Graph) NumEdgesLocal() int { return len(g.edges) - g.mergedEdges }

// Vertices returns the backing vertex slice.
func (g *Graph) Vertices() []Vertex { return g.vertices }

// Edges returns the backing edge slice.
func (g *Graph) Edges() []Edge { return g.edges }

func (g *Graph) addVertex(v Vertex) {
	g.vertices = append(g.vertices, v)
	g.nextID++
}

// AddSE3Vertex creates a pose vertex.
func (g *Graph) AddSE3Vertex(pose geometry.Pose) *SE3Vertex {
	v := &SE3Vertex{baseVertex: baseVertex{id: g.nextID}, estimate: pose}
	g.addVertex(v)
	return v
}

// AddPlaneVertex creates a plane landmark vertex.
func (g *Graph) AddPlaneVertex(plane geometry.Plane) *PlaneVertex {
	v := &PlaneVertex{baseVertex: baseVertex{id: g.nextID}, estimate: plane}
	g.addVertex(v)
	return v
}

// AddCorridorVertex creates a corridor landmark vertex.
func (g *Graph) AddCorridorVertex(pos float64) *CorridorVertex {
	v := &CorridorVertex{baseVertex: baseVertex{id: g.nextID}, value: pos}
	g.addVertex(v)
	return v
}

// AddRoomVertex creates a room landmark vertex.
func (g *Graph) AddRoomVertex(center [2]float64) *RoomVertex {
	v := &RoomVertex{baseVertex: baseVertex{id: g.nextID}, value: center}
	g.addVertex(v)
	return v
}

func (g *Graph) addEdge(e Edge) {
	g.edges = append(g.edges, e)
}

// AddSE3Edge creates a relative-pose factor.
func (g *Graph) AddSE3Edge(v1, v2 *SE3Vertex, meas geometry.Pose, info *mat.SymDense) *SE3Edge {
	e := &SE3Edge{baseEdge: newBaseEdge(info, v1, v2), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3PlaneEdge creates a coefficient-form plane factor.
func (g *Graph) AddSE3PlaneEdge(v *SE3Vertex, p *PlaneVertex, meas geometry.Plane, info *mat.SymDense) *SE3PlaneEdge {
	e := &SE3PlaneEdge{baseEdge: newBaseEdge(info, v, p), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3PointToPlaneEdge creates a point-to-plane factor from the Gram
// matrix of the inlier points.
func (g *Graph) AddSE3PointToPlaneEdge(v *SE3Vertex, p *PlaneVertex, gij *mat.Dense, info *mat.SymDense) *SE3PointToPlaneEdge {
	e := &SE3PointToPlaneEdge{baseEdge: newBaseEdge(info, v, p), Gij: gij}
	g.addEdge(e)
	return e
}

// AddPlaneParallelEdge softly constrains two plane normals to be parallel.
func (g *Graph) AddPlaneParallelEdge(p1, p2 *PlaneVertex, meas r3.Vector, info *mat.SymDense) *PlaneParallelEdge {
	e := &PlaneParallelEdge{baseEdge: newBaseEdge(info, p1, p2), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddPlanePerpendicularEdge softly constrains two plane normals to be
// perpendicular.
func (g *Graph) AddPlanePerpendicularEdge(p1, p2 *PlaneVertex, info *mat.SymDense) *PlanePerpendicularEdge {
	e := &PlanePerpendicularEdge{baseEdge: newBaseEdge(info, p1, p2)}
	g.addEdge(e)
	return e
}

// AddPlaneIdentityEdge ties two plane landmarks together.
func (g *Graph) AddPlaneIdentityEdge(p1, p2 *PlaneVertex, meas [3]float64, info *mat.SymDense) *PlaneIdentityEdge {
	e := &PlaneIdentityEdge{baseEdge: newBaseEdge(info, p1, p2), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3CorridorEdge ties a corridor to its observing keyframe.
func (g *Graph) AddSE3CorridorEdge(v *SE3Vertex, c *CorridorVertex, meas float64, axis geometry.Class, info *mat.SymDense) *SE3CorridorEdge {
	e := &SE3CorridorEdge{baseEdge: newBaseEdge(info, v, c), Measurement: meas, Axis: axis}
	g.addEdge(e)
	return e
}

// AddCorridorPlaneEdge ties a corridor to one of its wall planes.
func (g *Graph) AddCorridorPlaneEdge(c *CorridorVertex, p *PlaneVertex, meas float64, info *mat.SymDense) *CorridorPlaneEdge {
	e := &CorridorPlaneEdge{baseEdge: newBaseEdge(info, c, p), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3RoomEdge ties a room to its observing keyframe.
func (g *Graph) AddSE3RoomEdge(v *SE3Vertex, r *RoomVertex, meas [2]float64, info *mat.SymDense) *SE3RoomEdge {
	e := &SE3RoomEdge{baseEdge: newBaseEdge(info, v, r), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddRoomPlaneEdge ties a room to one of its four wall planes.
func (g *Graph) AddRoomPlaneEdge(r *RoomVertex, p *PlaneVertex, meas float64, axis geometry.Class, info *mat.SymDense) *RoomPlaneEdge {
	e := &RoomPlaneEdge{baseEdge: newBaseEdge(info, r, p), Measurement: meas, Axis: axis}
	g.addEdge(e)
	return e
}

// AddRoomRoomEdge relates two room centers.
func (g *Graph) AddRoomRoomEdge(r1, r2 *RoomVertex, meas [2]float64, info *mat.SymDense) *RoomRoomEdge {
	e := &RoomRoomEdge{baseEdge: newBaseEdge(info, r1, r2), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddRoomCorridorEdge relates a room center to a corridor along its axis.
func (g *Graph) AddRoomCorridorEdge(r *RoomVertex, c *CorridorVertex, meas float64, axis geometry.Class, info *mat.SymDense) *RoomCorridorEdge {
	e := &RoomCorridorEdge{baseEdge: newBaseEdge(info, r, c), Measurement: meas, Axis: axis}
	g.addEdge(e)
	return e
}

// AddCorridorCorridorEdge relates two corridors on the same axis.
func (g *Graph) AddCorridorCorridorEdge(c1, c2 *CorridorVertex, meas float64, info *mat.SymDense) *CorridorCorridorEdge {
	e := &CorridorCorridorEdge{baseEdge: newBaseEdge(info, c1, c2), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3PriorXYEdge anchors a keyframe's horizontal position.
func (g *Graph) AddSE3PriorXYEdge(v *SE3Vertex, meas [2]float64, info *mat.SymDense) *SE3PriorXYEdge {
	e := &SE3PriorXYEdge{baseEdge: newBaseEdge(info, v), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3PriorXYZEdge anchors a keyframe's position.
func (g *Graph) AddSE3PriorXYZEdge(v *SE3Vertex, meas r3.Vector, info *mat.SymDense) *SE3PriorXYZEdge {
	e := &SE3PriorXYZEdge{baseEdge: newBaseEdge(info, v), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3PriorQuatEdge anchors a keyframe's orientation.
func (g *Graph) AddSE3PriorQuatEdge(v *SE3Vertex, meas quat.Number, info *mat.SymDense) *SE3PriorQuatEdge {
	e := &SE3PriorQuatEdge{baseEdge: newBaseEdge(info, v), Measurement: meas}
	g.addEdge(e)
	return e
}

// AddSE3PriorVecEdge anchors a body-frame direction against a measured
// vector.
func (g *Graph) AddSE3PriorVecEdge(v *SE3Vertex, direction, meas r3.Vector, info *mat.SymDense) *SE3PriorVecEdge {
	e := &SE3PriorVecEdge{baseEdge: newBaseEdge(info, v), Direction: direction, Measurement: meas}
	g.addEdge(e)
	return e
}

// RemoveEdge removes an edge from the graph.
func (g *Graph) RemoveEdge(target Edge) {
	for i, e := range g.edges {
		if e == target {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return
		}
	}
}

// RemovePlaneVertex removes a plane landmark and every edge touching it.
// The vertex's id is not reused.
func (g *Graph) RemovePlaneVertex(target *PlaneVertex) {
	for i, v := range g.vertices {
		if v == Vertex(target) {
			g.vertices = append(g.vertices[:i], g.vertices[i+1:]...)
			break
		}
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		touches := false
		for _, v := range e.Vertices() {
			if v == Vertex(target) {
				touches = true
				break
			}
		}
		if !touches {
			kept = append(kept, e)
		}
	}
	g.edges = kept
}

// InformationScalar builds a 1x1 information matrix.
func InformationScalar(w float64) *mat.SymDense {
	m := mat.NewSymDense(1, nil)
	m.SetSym(0, 0, w)
	return m
}

// InformationScaledIdentity builds a w * I information matrix of the given
// dimension.
func InformationScaledIdentity(dim int, w float64) *mat.SymDense {
	m := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		m.SetSym(i, i, w)
	}
	return m
}

// InformationDiagonal builds a diagonal information matrix from the given
// entries.
func InformationDiagonal(diag []float64) *mat.SymDense {
	m := mat.NewSymDense(len(diag), nil)
	for i, d := range diag {
		m.SetSym(i, i, d)
	}
	return m
}
