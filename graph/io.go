package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/pkg/errors"

	"github.com/structkit/structure-slam/geometry"
)

// Tags of the text serialization. The SE3 vertex and edge lines are
// compatible with the common g2o text format; the structural landmark lines
// follow the same shape.
const (
	tagVertexSE3      = "VERTEX_SE3:QUAT"
	tagVertexPlane    = "VERTEX_PLANE"
	tagVertexCorridor = "VERTEX_CORRIDOR"
	tagVertexRoom     = "VERTEX_ROOM"
	tagFix            = "FIX"

	tagEdgeSE3           = "EDGE_SE3:QUAT"
	tagEdgeSE3Plane      = "EDGE_SE3_PLANE"
	tagEdgeSE3PointPlane = "EDGE_SE3_POINT_TO_PLANE"
	tagEdgePlanePar      = "EDGE_PLANE_PARALLEL"
	tagEdgePlanePerp     = "EDGE_PLANE_PERPENDICULAR"
	tagEdgePlaneIdent    = "EDGE_PLANE_IDENTITY"
	tagEdgeSE3Corridor   = "EDGE_SE3_CORRIDOR"
	tagEdgeCorridorPlane = "EDGE_CORRIDOR_PLANE"
	tagEdgeSE3Room       = "EDGE_SE3_ROOM"
	tagEdgeRoomPlane     = "EDGE_ROOM_PLANE"
	tagEdgeRoomRoom      = "EDGE_ROOM_ROOM"
	tagEdgeRoomCorridor  = "EDGE_ROOM_CORRIDOR"
	tagEdgeCorrCorr      = "EDGE_CORRIDOR_CORRIDOR"
	tagEdgePriorXY       = "EDGE_SE3_PRIOR_XY"
	tagEdgePriorXYZ      = "EDGE_SE3_PRIOR_XYZ"
	tagEdgePriorQuat     = "EDGE_SE3_PRIOR_QUAT"
	tagEdgePriorVec      = "EDGE_SE3_PRIOR_VEC"
)

func writeInfoUpper(sb *strings.Builder, info *mat.SymDense) {
	n := info.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			fmt.Fprintf(sb, " %g", info.At(i, j))
		}
	}
}

// Save writes the graph to w in the text format Load reads. Robust kernels
// are not persisted.
func (g *Graph) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, v := range g.vertices {
		switch t := v.(type) {
		case *SE3Vertex:
			p := t.Estimate()
			fmt.Fprintf(bw, "%s %d %g %g %g %g %g %g %g\n", tagVertexSE3, t.ID(),
				p.Translation.X, p.Translation.Y, p.Translation.Z,
				p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real)
		case *PlaneVertex:
			p := t.Estimate()
			fmt.Fprintf(bw, "%s %d %g %g %g %g\n", tagVertexPlane, t.ID(),
				p.Normal.X, p.Normal.Y, p.Normal.Z, p.Offset)
		case *CorridorVertex:
			fmt.Fprintf(bw, "%s %d %g\n", tagVertexCorridor, t.ID(), t.Estimate())
		case *RoomVertex:
			est := t.Estimate()
			fmt.Fprintf(bw, "%s %d %g %g\n", tagVertexRoom, t.ID(), est[0], est[1])
		}
		if v.Fixed() {
			fmt.Fprintf(bw, "%s %d\n", tagFix, v.ID())
		}
	}
	for _, e := range g.edges {
		var sb strings.Builder
		switch t := e.(type) {
		case *SE3Edge:
			m := t.Measurement
			fmt.Fprintf(&sb, "%s %d %d %g %g %g %g %g %g %g", tagEdgeSE3,
				t.vertices[0].ID(), t.vertices[1].ID(),
				m.Translation.X, m.Translation.Y, m.Translation.Z,
				m.Rotation.Imag, m.Rotation.Jmag, m.Rotation.Kmag, m.Rotation.Real)
		case *SE3PlaneEdge:
			m := t.Measurement
			fmt.Fprintf(&sb, "%s %d %d %g %g %g %g", tagEdgeSE3Plane,
				t.vertices[0].ID(), t.vertices[1].ID(),
				m.Normal.X, m.Normal.Y, m.Normal.Z, m.Offset)
		case *SE3PointToPlaneEdge:
			fmt.Fprintf(&sb, "%s %d %d", tagEdgeSE3PointPlane,
				t.vertices[0].ID(), t.vertices[1].ID())
			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					fmt.Fprintf(&sb, " %g", t.Gij.At(i, j))
				}
			}
		case *PlaneParallelEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %g %g", tagEdgePlanePar,
				t.vertices[0].ID(), t.vertices[1].ID(),
				t.Measurement.X, t.Measurement.Y, t.Measurement.Z)
		case *PlanePerpendicularEdge:
			fmt.Fprintf(&sb, "%s %d %d", tagEdgePlanePerp,
				t.vertices[0].ID(), t.vertices[1].ID())
		case *PlaneIdentityEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %g %g", tagEdgePlaneIdent,
				t.vertices[0].ID(), t.vertices[1].ID(),
				t.Measurement[0], t.Measurement[1], t.Measurement[2])
		case *SE3CorridorEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %d", tagEdgeSE3Corridor,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement, int(t.Axis))
		case *CorridorPlaneEdge:
			fmt.Fprintf(&sb, "%s %d %d %g", tagEdgeCorridorPlane,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement)
		case *SE3RoomEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %g", tagEdgeSE3Room,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement[0], t.Measurement[1])
		case *RoomPlaneEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %d", tagEdgeRoomPlane,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement, int(t.Axis))
		case *RoomRoomEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %g", tagEdgeRoomRoom,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement[0], t.Measurement[1])
		case *RoomCorridorEdge:
			fmt.Fprintf(&sb, "%s %d %d %g %d", tagEdgeRoomCorridor,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement, int(t.Axis))
		case *CorridorCorridorEdge:
			fmt.Fprintf(&sb, "%s %d %d %g", tagEdgeCorrCorr,
				t.vertices[0].ID(), t.vertices[1].ID(), t.Measurement)
		case *SE3PriorXYEdge:
			fmt.Fprintf(&sb, "%s %d %g %g", tagEdgePriorXY,
				t.vertices[0].ID(), t.Measurement[0], t.Measurement[1])
		case *SE3PriorXYZEdge:
			fmt.Fprintf(&sb, "%s %d %g %g %g", tagEdgePriorXYZ,
				t.vertices[0].ID(), t.Measurement.X, t.Measurement.Y, t.Measurement.Z)
		case *SE3PriorQuatEdge:
			fmt.Fprintf(&sb, "%s %d %g %g %g %g", tagEdgePriorQuat,
				t.vertices[0].ID(),
				t.Measurement.Imag, t.Measurement.Jmag, t.Measurement.Kmag, t.Measurement.Real)
		case *SE3PriorVecEdge:
			fmt.Fprintf(&sb, "%s %d %g %g %g %g %g %g", tagEdgePriorVec,
				t.vertices[0].ID(),
				t.Direction.X, t.Direction.Y, t.Direction.Z,
				t.Measurement.X, t.Measurement.Y, t.Measurement.Z)
		default:
			continue
		}
		writeInfoUpper(&sb, e.Information())
		sb.WriteByte('\n')
		if _, err := bw.WriteString(sb.String()); err != nil {
			return errors.Wrap(err, "writing graph")
		}
	}
	return errors.Wrap(bw.Flush(), "writing graph")
}

type lineReader struct {
	fields []string
	pos    int
	tag    string
	line   int
}

func (lr *lineReader) nextFloat() (float64, error) {
	if lr.pos >= len(lr.fields) {
		return 0, errors.Errorf("line %d: %s: missing field", lr.line, lr.tag)
	}
	f, err := strconv.ParseFloat(lr.fields[lr.pos], 64)
	lr.pos++
	return f, errors.Wrapf(err, "line %d: %s", lr.line, lr.tag)
}

func (lr *lineReader) nextInt() (int, error) {
	if lr.pos >= len(lr.fields) {
		return 0, errors.Errorf("line %d: %s: missing field", lr.line, lr.tag)
	}
	n, err := strconv.Atoi(lr.fields[lr.pos])
	lr.pos++
	return n, errors.Wrapf(err, "line %d: %s", lr.line, lr.tag)
}

func (lr *lineReader) floats(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		f, err := lr.nextFloat()
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (lr *lineReader) info(dim int) (*mat.SymDense, error) {
	m := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			f, err := lr.nextFloat()
			if err != nil {
				return nil, err
			}
			m.SetSym(i, j, f)
		}
	}
	return m, nil
}

func (g *Graph) loadVertex(v Vertex, id int) {
	g.vertices = append(g.vertices, v)
	g.mergedVertices++
	if id >= g.nextID {
		g.nextID = id + 1
	}
}

func (g *Graph) vertexByID(id int) (Vertex, bool) {
	for _, v := range g.vertices {
		if v.ID() == id {
			return v, true
		}
	}
	return nil, false
}

func se3At(g *Graph, id int) (*SE3Vertex, error) {
	v, ok := g.vertexByID(id)
	if !ok {
		return nil, errors.Errorf("unknown vertex id %d", id)
	}
	t, ok := v.(*SE3Vertex)
	if !ok {
		return nil, errors.Errorf("vertex %d is not a pose", id)
	}
	return t, nil
}

func planeAt(g *Graph, id int) (*PlaneVertex, error) {
	v, ok := g.vertexByID(id)
	if !ok {
		return nil, errors.Errorf("unknown vertex id %d", id)
	}
	t, ok := v.(*PlaneVertex)
	if !ok {
		return nil, errors.Errorf("vertex %d is not a plane", id)
	}
	return t, nil
}

func corridorAt(g *Graph, id int) (*CorridorVertex, error) {
	v, ok := g.vertexByID(id)
	if !ok {
		return nil, errors.Errorf("unknown vertex id %d", id)
	}
	t, ok := v.(*CorridorVertex)
	if !ok {
		return nil, errors.Errorf("vertex %d is not a corridor", id)
	}
	return t, nil
}

func roomAt(g *Graph, id int) (*RoomVertex, error) {
	v, ok := g.vertexByID(id)
	if !ok {
		return nil, errors.Errorf("unknown vertex id %d", id)
	}
	t, ok := v.(*RoomVertex)
	if !ok {
		return nil, errors.Errorf("vertex %d is not a room", id)
	}
	return t, nil
}

// Load merges a saved graph into g. Loaded vertices and edges are counted
// separately from live ones; ids continue above the highest loaded id.
func (g *Graph) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		lr := &lineReader{fields: fields[1:], tag: fields[0], line: lineNo}
		if err := g.loadLine(fields[0], lr); err != nil {
			return err
		}
	}
	return errors.Wrap(sc.Err(), "reading graph")
}

func (g *Graph) loadLine(tag string, lr *lineReader) error {
	switch tag {
	case tagVertexSE3:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(7)
		if err != nil {
			return err
		}
		v := &SE3Vertex{baseVertex: baseVertex{id: id}}
		v.SetEstimate(geometry.NewPose(
			quat.Number{Real: f[6], Imag: f[3], Jmag: f[4], Kmag: f[5]},
			r3.Vector{X: f[0], Y: f[1], Z: f[2]}))
		g.loadVertex(v, id)
	case tagVertexPlane:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(4)
		if err != nil {
			return err
		}
		v := &PlaneVertex{baseVertex: baseVertex{id: id}}
		v.SetEstimate(geometry.PlaneFromVec4([4]float64{f[0], f[1], f[2], f[3]}))
		g.loadVertex(v, id)
	case tagVertexCorridor:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		x, err := lr.nextFloat()
		if err != nil {
			return err
		}
		g.loadVertex(&CorridorVertex{baseVertex: baseVertex{id: id}, value: x}, id)
	case tagVertexRoom:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(2)
		if err != nil {
			return err
		}
		g.loadVertex(&RoomVertex{baseVertex: baseVertex{id: id}, value: [2]float64{f[0], f[1]}}, id)
	case tagFix:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		v, ok := g.vertexByID(id)
		if !ok {
			return errors.Errorf("FIX for unknown vertex id %d", id)
		}
		switch t := v.(type) {
		case *SE3Vertex:
			t.SetFixed(true)
		case *PlaneVertex:
			t.SetFixed(true)
		case *CorridorVertex:
			t.SetFixed(true)
		case *RoomVertex:
			t.SetFixed(true)
		}
	default:
		return g.loadEdgeLine(tag, lr)
	}
	return nil
}

//nolint:gocyclo
func (g *Graph) loadEdgeLine(tag string, lr *lineReader) error {
	loadPair := func() (int, int, error) {
		id1, err := lr.nextInt()
		if err != nil {
			return 0, 0, err
		}
		id2, err := lr.nextInt()
		return id1, id2, err
	}
	var e Edge
	switch tag {
	case tagEdgeSE3:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(7)
		if err != nil {
			return err
		}
		info, err := lr.info(6)
		if err != nil {
			return err
		}
		v1, err := se3At(g, id1)
		if err != nil {
			return err
		}
		v2, err := se3At(g, id2)
		if err != nil {
			return err
		}
		meas := geometry.NewPose(
			quat.Number{Real: f[6], Imag: f[3], Jmag: f[4], Kmag: f[5]},
			r3.Vector{X: f[0], Y: f[1], Z: f[2]})
		e = &SE3Edge{baseEdge: newBaseEdge(info, v1, v2), Measurement: meas}
	case tagEdgeSE3Plane:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(4)
		if err != nil {
			return err
		}
		info, err := lr.info(3)
		if err != nil {
			return err
		}
		v, err := se3At(g, id1)
		if err != nil {
			return err
		}
		p, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &SE3PlaneEdge{
			baseEdge:    newBaseEdge(info, v, p),
			Measurement: geometry.PlaneFromVec4([4]float64{f[0], f[1], f[2], f[3]}),
		}
	case tagEdgeSE3PointPlane:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(16)
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		v, err := se3At(g, id1)
		if err != nil {
			return err
		}
		p, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &SE3PointToPlaneEdge{
			baseEdge: newBaseEdge(info, v, p),
			Gij:      mat.NewDense(4, 4, f),
		}
	case tagEdgePlanePar:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(3)
		if err != nil {
			return err
		}
		info, err := lr.info(3)
		if err != nil {
			return err
		}
		p1, err := planeAt(g, id1)
		if err != nil {
			return err
		}
		p2, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &PlaneParallelEdge{
			baseEdge:    newBaseEdge(info, p1, p2),
			Measurement: r3.Vector{X: f[0], Y: f[1], Z: f[2]},
		}
	case tagEdgePlanePerp:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		p1, err := planeAt(g, id1)
		if err != nil {
			return err
		}
		p2, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &PlanePerpendicularEdge{baseEdge: newBaseEdge(info, p1, p2)}
	case tagEdgePlaneIdent:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(3)
		if err != nil {
			return err
		}
		info, err := lr.info(3)
		if err != nil {
			return err
		}
		p1, err := planeAt(g, id1)
		if err != nil {
			return err
		}
		p2, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &PlaneIdentityEdge{
			baseEdge:    newBaseEdge(info, p1, p2),
			Measurement: [3]float64{f[0], f[1], f[2]},
		}
	case tagEdgeSE3Corridor:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		m, err := lr.nextFloat()
		if err != nil {
			return err
		}
		axis, err := lr.nextInt()
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		v, err := se3At(g, id1)
		if err != nil {
			return err
		}
		c, err := corridorAt(g, id2)
		if err != nil {
			return err
		}
		e = &SE3CorridorEdge{
			baseEdge:    newBaseEdge(info, v, c),
			Measurement: m,
			Axis:        geometry.Class(axis),
		}
	case tagEdgeCorridorPlane:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		m, err := lr.nextFloat()
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		c, err := corridorAt(g, id1)
		if err != nil {
			return err
		}
		p, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &CorridorPlaneEdge{baseEdge: newBaseEdge(info, c, p), Measurement: m}
	case tagEdgeSE3Room:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(2)
		if err != nil {
			return err
		}
		info, err := lr.info(2)
		if err != nil {
			return err
		}
		v, err := se3At(g, id1)
		if err != nil {
			return err
		}
		room, err := roomAt(g, id2)
		if err != nil {
			return err
		}
		e = &SE3RoomEdge{
			baseEdge:    newBaseEdge(info, v, room),
			Measurement: [2]float64{f[0], f[1]},
		}
	case tagEdgeRoomPlane:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		m, err := lr.nextFloat()
		if err != nil {
			return err
		}
		axis, err := lr.nextInt()
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		room, err := roomAt(g, id1)
		if err != nil {
			return err
		}
		p, err := planeAt(g, id2)
		if err != nil {
			return err
		}
		e = &RoomPlaneEdge{
			baseEdge:    newBaseEdge(info, room, p),
			Measurement: m,
			Axis:        geometry.Class(axis),
		}
	case tagEdgeRoomRoom:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		f, err := lr.floats(2)
		if err != nil {
			return err
		}
		info, err := lr.info(2)
		if err != nil {
			return err
		}
		r1, err := roomAt(g, id1)
		if err != nil {
			return err
		}
		r2, err := roomAt(g, id2)
		if err != nil {
			return err
		}
		e = &RoomRoomEdge{
			baseEdge:    newBaseEdge(info, r1, r2),
			Measurement: [2]float64{f[0], f[1]},
		}
	case tagEdgeRoomCorridor:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		m, err := lr.nextFloat()
		if err != nil {
			return err
		}
		axis, err := lr.nextInt()
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		room, err := roomAt(g, id1)
		if err != nil {
			return err
		}
		c, err := corridorAt(g, id2)
		if err != nil {
			return err
		}
		e = &RoomCorridorEdge{
			baseEdge:    newBaseEdge(info, room, c),
			Measurement: m,
			Axis:        geometry.Class(axis),
		}
	case tagEdgeCorrCorr:
		id1, id2, err := loadPair()
		if err != nil {
			return err
		}
		m, err := lr.nextFloat()
		if err != nil {
			return err
		}
		info, err := lr.info(1)
		if err != nil {
			return err
		}
		c1, err := corridorAt(g, id1)
		if err != nil {
			return err
		}
		c2, err := corridorAt(g, id2)
		if err != nil {
			return err
		}
		e = &CorridorCorridorEdge{baseEdge: newBaseEdge(info, c1, c2), Measurement: m}
	case tagEdgePriorXY:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(2)
		if err != nil {
			return err
		}
		info, err := lr.info(2)
		if err != nil {
			return err
		}
		v, err := se3At(g, id)
		if err != nil {
			return err
		}
		e = &SE3PriorXYEdge{baseEdge: newBaseEdge(info, v), Measurement: [2]float64{f[0], f[1]}}
	case tagEdgePriorXYZ:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(3)
		if err != nil {
			return err
		}
		info, err := lr.info(3)
		if err != nil {
			return err
		}
		v, err := se3At(g, id)
		if err != nil {
			return err
		}
		e = &SE3PriorXYZEdge{
			baseEdge:    newBaseEdge(info, v),
			Measurement: r3.Vector{X: f[0], Y: f[1], Z: f[2]},
		}
	case tagEdgePriorQuat:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(4)
		if err != nil {
			return err
		}
		info, err := lr.info(3)
		if err != nil {
			return err
		}
		v, err := se3At(g, id)
		if err != nil {
			return err
		}
		e = &SE3PriorQuatEdge{
			baseEdge:    newBaseEdge(info, v),
			Measurement: quat.Number{Real: f[3], Imag: f[0], Jmag: f[1], Kmag: f[2]},
		}
	case tagEdgePriorVec:
		id, err := lr.nextInt()
		if err != nil {
			return err
		}
		f, err := lr.floats(6)
		if err != nil {
			return err
		}
		info, err := lr.info(3)
		if err != nil {
			return err
		}
		v, err := se3At(g, id)
		if err != nil {
			return err
		}
		e = &SE3PriorVecEdge{
			baseEdge:    newBaseEdge(info, v),
			Direction:   r3.Vector{X: f[0], Y: f[1], Z: f[2]},
			Measurement: r3.Vector{X: f[3], Y: f[4], Z: f[5]},
		}
	default:
		return errors.Errorf("line %d: unknown tag %q", lr.line, tag)
	}
	g.edges = append(g.edges, e)
	g.mergedEdges++
	return nil
}
