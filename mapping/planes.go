package mapping

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
	"github.com/structkit/structure-slam/keyframe"
)

// PlaneMapperConfig tunes plane landmark association and factor creation.
type PlaneMapperConfig struct {
	// MinSegmentPoints discards smaller segment clouds.
	MinSegmentPoints int
	// PlaneDistThreshold is the Mahalanobis association gate.
	PlaneDistThreshold float64
	// UsePointToPlane selects the point-to-plane factor over the
	// coefficient factor.
	UsePointToPlane bool
	// PlanePointsDist is the inlier gate of the point-to-plane factor.
	PlanePointsDist float64
	// PlaneInformation scales the coefficient-form factor.
	PlaneInformation float64
	// PointPlaneInformation scales the point-to-plane factor.
	PointPlaneInformation float64
	// UseParallelConstraint adds soft parallel factors between a new
	// landmark and every same-class landmark.
	UseParallelConstraint bool
	// UsePerpendicularConstraint adds soft perpendicular factors between a
	// new landmark and every cross-class landmark.
	UsePerpendicularConstraint bool
	// ConstraintInformation scales the parallel/perpendicular factors.
	ConstraintInformation float64
	// HuberDelta is the robust kernel size on every plane factor.
	HuberDelta float64
}

// DefaultPlaneMapperConfig returns the standard tuning.
func DefaultPlaneMapperConfig() PlaneMapperConfig {
	return PlaneMapperConfig{
		MinSegmentPoints:           100,
		PlaneDistThreshold:         0.15,
		UsePointToPlane:            false,
		PlanePointsDist:            0.1,
		PlaneInformation:           0.1,
		PointPlaneInformation:      0.001,
		UseParallelConstraint:      false,
		UsePerpendicularConstraint: false,
		ConstraintInformation:      0.001,
		HuberDelta:                 1.0,
	}
}

// DetectedPlane is one processed segment: the landmark it was associated
// with (or created as) plus the per-observation data the structural mapper
// needs.
type DetectedPlane struct {
	Landmark *PlaneLandmark
	Class    geometry.Class

	MapPlane  geometry.Plane
	BodyPlane geometry.Plane
	// Length is the XY extent of the segment in the map frame.
	Length float64

	KeyframeNode  *graph.SE3Vertex
	KeyframeTrans r3.Vector
}

// PlaneMapper associates segmented planar patches with plane landmarks and
// wires them into the graph.
type PlaneMapper struct {
	cfg    PlaneMapperConfig
	logger golog.Logger
}

// NewPlaneMapper returns a mapper with the given tuning.
func NewPlaneMapper(cfg PlaneMapperConfig, logger golog.Logger) *PlaneMapper {
	return &PlaneMapper{cfg: cfg, logger: logger}
}

// Process runs one segment cloud through association and factor creation.
// It returns nil when the segment is too small, carries no plane equation,
// or the plane has no dominant axis.
func (m *PlaneMapper) Process(g *graph.Graph, st *State, kf *keyframe.Keyframe, seg *cloud.Cloud) *DetectedPlane {
	if seg.Size() < m.cfg.MinSegmentPoints || kf.Node == nil {
		return nil
	}
	bodyPlane, ok := geometry.PlaneFromSegment(seg)
	if !ok {
		return nil
	}
	est := kf.Node.Estimate()
	mapPlane := geometry.TransformPlane(est, bodyPlane)
	class := geometry.Classify(mapPlane)
	if class == geometry.ClassNone {
		return nil
	}
	segMap := seg.Transform(est.Rotation, est.Translation)

	lm, created := m.associate(g, st, est, bodyPlane, segMap, mapPlane, class)
	lm.CloudSegs = append(lm.CloudSegs, seg)
	lm.KeyframeNodes = append(lm.KeyframeNodes, kf.Node)
	lm.CloudSegMap.Merge(segMap)
	recordPlaneID(kf, class, lm.ID)

	m.addObservationFactor(g, kf.Node, lm, bodyPlane, seg, est)
	if created {
		m.addStructureConstraints(g, st, lm)
	}

	return &DetectedPlane{
		Landmark:      lm,
		Class:         class,
		MapPlane:      mapPlane,
		BodyPlane:     bodyPlane,
		Length:        geometry.Length(segMap),
		KeyframeNode:  kf.Node,
		KeyframeTrans: est.Translation,
	}
}

func recordPlaneID(kf *keyframe.Keyframe, class geometry.Class, id int) {
	switch class {
	case geometry.ClassX:
		kf.XPlaneIDs = append(kf.XPlaneIDs, id)
	case geometry.ClassY:
		kf.YPlaneIDs = append(kf.YPlaneIDs, id)
	case geometry.ClassHorizontal:
		kf.HorizontalPlaneIDs = append(kf.HorizontalPlaneIDs, id)
	}
}

// associate finds the closest landmark of the class under the Mahalanobis
// gate, or creates a new one. The second return is true on creation.
func (m *PlaneMapper) associate(
	g *graph.Graph, st *State, est geometry.Pose,
	bodyPlane geometry.Plane, segMap *cloud.Cloud,
	mapPlane geometry.Plane, class geometry.Class,
) (*PlaneLandmark, bool) {
	invEst := est.Inverse()
	var best *PlaneLandmark
	bestDist := math.MaxFloat64
	for _, lm := range st.PlanesByClass(class) {
		local := geometry.TransformPlane(invEst, lm.Plane())
		ev := geometry.Ominus(local, bodyPlane)
		e := mat.NewVecDense(3, ev[:])
		maha := mahalanobis(e, lm.Covariance)
		if math.IsNaN(maha) || maha < 1e-3 {
			maha = mahalanobis(e, nil)
		}
		if maha < bestDist {
			bestDist = maha
			best = lm
		}
	}
	if best != nil && bestDist <= m.cfg.PlaneDistThreshold {
		// Two disjoint walls can share a plane equation; require actual
		// point overlap for vertical classes.
		if class != geometry.ClassHorizontal && best.CloudSegMap.Size() > 0 &&
			!geometry.CheckPointNeighbours(segMap, best.CloudSegMap) {
			best = nil
		}
	} else {
		best = nil
	}
	if best != nil {
		return best, false
	}

	node := g.AddPlaneVertex(mapPlane)
	lm := &PlaneLandmark{
		ID:          node.ID(),
		Class:       class,
		Node:        node,
		CloudSegMap: cloud.New(),
	}
	st.addPlane(lm)
	if m.logger != nil {
		m.logger.Debugw("new plane landmark", "id", lm.ID, "class", class.String())
	}
	return lm, true
}

func (s *State) addPlane(lm *PlaneLandmark) {
	switch lm.Class {
	case geometry.ClassX:
		s.XPlanes = append(s.XPlanes, lm)
	case geometry.ClassY:
		s.YPlanes = append(s.YPlanes, lm)
	case geometry.ClassHorizontal:
		s.HorizontalPlanes = append(s.HorizontalPlanes, lm)
	}
}

// mahalanobis returns sqrt(e^T cov^-1 e); a nil covariance means identity.
func mahalanobis(e *mat.VecDense, cov *mat.SymDense) float64 {
	if cov == nil {
		return mat.Norm(e, 2)
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return math.NaN()
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, e); err != nil {
		return math.NaN()
	}
	return math.Sqrt(mat.Dot(e, &x))
}

func (m *PlaneMapper) addObservationFactor(
	g *graph.Graph, node *graph.SE3Vertex, lm *PlaneLandmark,
	bodyPlane geometry.Plane, seg *cloud.Cloud, est geometry.Pose,
) {
	var e graph.Edge
	if m.cfg.UsePointToPlane {
		e = g.AddSE3PointToPlaneEdge(node, lm.Node,
			m.inlierGram(lm.Plane(), seg, est),
			graph.InformationScalar(m.cfg.PointPlaneInformation))
	} else {
		e = g.AddSE3PlaneEdge(node, lm.Node, bodyPlane,
			graph.InformationScaledIdentity(3, m.cfg.PlaneInformation))
	}
	if err := graph.AddRobustKernel(e, "Huber", m.cfg.HuberDelta); err != nil && m.logger != nil {
		m.logger.Errorw("attaching robust kernel", "error", err)
	}
}

// inlierGram builds the Gram matrix of the homogeneous body-frame points
// within the inlier gate of the landmark plane.
func (m *PlaneMapper) inlierGram(mapPlane geometry.Plane, seg *cloud.Cloud, est geometry.Pose) *mat.Dense {
	gij := mat.NewDense(4, 4, nil)
	for _, p := range seg.Points() {
		mp := est.TransformPoint(p.Position)
		dist := math.Abs(mapPlane.Normal.Dot(mp) + mapPlane.Offset)
		if dist >= m.cfg.PlanePointsDist {
			continue
		}
		hp := []float64{p.Position.X, p.Position.Y, p.Position.Z, 1}
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				gij.Set(i, j, gij.At(i, j)+hp[i]*hp[j])
			}
		}
	}
	return gij
}

// addStructureConstraints softly ties a new landmark to the existing ones:
// parallel within its class, perpendicular across classes.
func (m *PlaneMapper) addStructureConstraints(g *graph.Graph, st *State, lm *PlaneLandmark) {
	if m.cfg.UseParallelConstraint {
		for _, other := range st.PlanesByClass(lm.Class) {
			if other == lm {
				continue
			}
			e := g.AddPlaneParallelEdge(other.Node, lm.Node, r3.Vector{},
				graph.InformationScaledIdentity(3, m.cfg.ConstraintInformation))
			if err := graph.AddRobustKernel(e, "Huber", m.cfg.HuberDelta); err != nil && m.logger != nil {
				m.logger.Errorw("attaching robust kernel", "error", err)
			}
		}
	}
	if m.cfg.UsePerpendicularConstraint {
		for _, class := range []geometry.Class{geometry.ClassX, geometry.ClassY, geometry.ClassHorizontal} {
			if class == lm.Class {
				continue
			}
			for _, other := range st.PlanesByClass(class) {
				e := g.AddPlanePerpendicularEdge(other.Node, lm.Node,
					graph.InformationScalar(m.cfg.ConstraintInformation))
				if err := graph.AddRobustKernel(e, "Huber", m.cfg.HuberDelta); err != nil && m.logger != nil {
					m.logger.Errorw("attaching robust kernel", "error", err)
				}
			}
		}
	}
}

// RebuildMapClouds recomputes every landmark's map-frame cloud from the
// current keyframe estimates. Called once per fusion cycle so association
// sees post-optimization geometry.
func (m *PlaneMapper) RebuildMapClouds(st *State) {
	for _, lm := range st.AllPlanes() {
		rebuilt := cloud.New()
		for i, seg := range lm.CloudSegs {
			est := lm.KeyframeNodes[i].Estimate()
			rebuilt.Merge(seg.Transform(est.Rotation, est.Translation))
		}
		lm.CloudSegMap = rebuilt
	}
}

// UpdateCovariances installs the marginal covariance blocks from the last
// optimization, falling back to identity for any landmark without a block.
func UpdateCovariances(st *State, blocks map[int]*mat.SymDense, ok bool) {
	for _, lm := range st.AllPlanes() {
		if ok {
			if block, found := blocks[lm.ID]; found {
				lm.Covariance = block
				continue
			}
		}
		lm.Covariance = graph.InformationScaledIdentity(3, 1)
	}
}
