package structureslam

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/graph"
	"github.com/structkit/structure-slam/mapping"
)

// DumpState writes everything needed to reload or inspect a session into
// dir: the graph file, one numbered directory per keyframe, the UTM origin,
// and the ids of the special vertices.
func (s *Service) DumpState(ctx context.Context, dir string) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::DumpState")
	defer span.End()

	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating dump directory")
	}

	gf, err := os.Create(filepath.Join(dir, "graph.g2o"))
	if err != nil {
		return errors.Wrap(err, "creating graph file")
	}
	defer gf.Close()
	if err := s.graph.Save(gf); err != nil {
		return err
	}

	for i, kf := range s.store.All() {
		if err := kf.Save(filepath.Join(dir, fmt.Sprintf("%06d", i))); err != nil {
			return err
		}
	}

	if s.zeroUTM != nil {
		if err := writeZeroUTM(filepath.Join(dir, "zero_utm"), *s.zeroUTM); err != nil {
			return err
		}
	}
	return s.writeSpecialNodes(filepath.Join(dir, "special_nodes.csv"))
}

func writeZeroUTM(path string, zero r3.Vector) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating zero_utm file")
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%g %g %g\n", zero.X, zero.Y, zero.Z)
	return errors.Wrap(err, "writing zero_utm file")
}

// writeSpecialNodes records the anchor and floor vertex ids plus the anchor
// edge's position in the edge list, -1 for anything not created.
func (s *Service) writeSpecialNodes(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating special nodes file")
	}
	defer f.Close()

	anchorNodeID, floorNodeID, anchorEdgeIndex := -1, -1, -1
	if s.anchorNode != nil {
		anchorNodeID = s.anchorNode.ID()
	}
	if s.floorNode != nil {
		floorNodeID = s.floorNode.ID()
	}
	if s.anchorEdge != nil {
		for i, e := range s.graph.Edges() {
			if e == graph.Edge(s.anchorEdge) {
				anchorEdgeIndex = i
				break
			}
		}
	}
	fmt.Fprintf(f, "anchor_node %d\n", anchorNodeID)
	fmt.Fprintf(f, "anchor_edge %d\n", anchorEdgeIndex)
	fmt.Fprintf(f, "floor_node %d\n", floorNodeID)
	return errors.Wrap(f.Sync(), "flushing special nodes file")
}

// SaveMapCloud regenerates the aggregate map cloud at the given resolution
// and writes it as a PCD file. With includeUTM set and a UTM origin known,
// the points are shifted into absolute UTM coordinates and the origin is
// written alongside as a ".utm" sidecar.
func (s *Service) SaveMapCloud(ctx context.Context, path string, resolution float64, includeUTM bool) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::SaveMapCloud")
	defer span.End()

	s.snapshotMu.Lock()
	snaps := s.snapshots
	s.snapshotMu.Unlock()
	s.mainMu.Lock()
	zeroUTM := s.zeroUTM
	s.mainMu.Unlock()

	generated := mapping.GenerateMapCloud(snaps, resolution)
	if generated == nil {
		return errors.New("no map cloud to save yet")
	}

	if includeUTM && zeroUTM != nil {
		shifted := cloud.NewWithCapacity(generated.Size())
		for _, p := range generated.Points() {
			p.Position = p.Position.Add(*zeroUTM)
			shifted.Add(p)
		}
		generated = shifted
		if err := writeZeroUTM(path+".utm", *zeroUTM); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating map cloud file")
	}
	defer f.Close()
	return cloud.WritePCD(generated, f)
}
