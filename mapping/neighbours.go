package mapping

import (
	"github.com/edaniels/golog"

	"github.com/structkit/structure-slam/graph"
	"github.com/structkit/structure-slam/sensors"
)

// NeighbourMapperConfig tunes the adjacency factors.
type NeighbourMapperConfig struct {
	// Information scales every adjacency factor.
	Information float64
}

// DefaultNeighbourMapperConfig returns the standard tuning.
func DefaultNeighbourMapperConfig() NeighbourMapperConfig {
	return NeighbourMapperConfig{Information: 0.01}
}

// NeighbourMapper wires externally supplied structural adjacencies into the
// graph: room-room, room-corridor, and corridor-corridor factors whose
// measurements freeze the current relative layout.
type NeighbourMapper struct {
	cfg    NeighbourMapperConfig
	logger golog.Logger
}

// NewNeighbourMapper returns a mapper with the given tuning.
func NewNeighbourMapper(cfg NeighbourMapperConfig, logger golog.Logger) *NeighbourMapper {
	return &NeighbourMapper{cfg: cfg, logger: logger}
}

// Process adds one factor per listed adjacency whose two landmarks exist.
// Unknown ids are skipped with a debug log.
func (m *NeighbourMapper) Process(g *graph.Graph, st *State, inv sensors.RoomInventory) {
	for _, adj := range inv.RoomRooms {
		r1, ok1 := st.RoomByID(adj.FromID)
		r2, ok2 := st.RoomByID(adj.ToID)
		if !ok1 || !ok2 {
			m.skip("room-room", adj)
			continue
		}
		e1 := r1.Node.Estimate()
		e2 := r2.Node.Estimate()
		g.AddRoomRoomEdge(r1.Node, r2.Node,
			[2]float64{e1[0] - e2[0], e1[1] - e2[1]},
			graph.InformationScaledIdentity(2, m.cfg.Information))
	}
	for _, adj := range inv.RoomCorridors {
		r, ok1 := st.RoomByID(adj.FromID)
		c, ok2 := st.CorridorByID(adj.ToID)
		if !ok1 || !ok2 {
			m.skip("room-corridor", adj)
			continue
		}
		est := r.Node.Estimate()
		coord := axisCoordOf(est[0], est[1], c.Axis)
		g.AddRoomCorridorEdge(r.Node, c.Node, coord-c.Node.Estimate(), c.Axis,
			graph.InformationScalar(m.cfg.Information))
	}
	for _, adj := range inv.CorridorCorridors {
		c1, ok1 := st.CorridorByID(adj.FromID)
		c2, ok2 := st.CorridorByID(adj.ToID)
		if !ok1 || !ok2 || c1.Axis != c2.Axis {
			m.skip("corridor-corridor", adj)
			continue
		}
		g.AddCorridorCorridorEdge(c1.Node, c2.Node,
			c1.Node.Estimate()-c2.Node.Estimate(),
			graph.InformationScalar(m.cfg.Information))
	}
}

func (m *NeighbourMapper) skip(kind string, adj sensors.Adjacency) {
	if m.logger != nil {
		m.logger.Debugw("skipping adjacency", "kind", kind, "from", adj.FromID, "to", adj.ToID)
	}
}
