package geometry

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/structkit/structure-slam/cloud"
)

const (
	neighbourRadiusSq = 0.5
	neighbourMinCount = 100
)

// CheckPointNeighbours reports whether the two segment clouds overlap: more
// than 100 points of c1 must have a point of c2 within squared distance 0.5.
// Used to veto merging vertical planes that share an equation but belong to
// disjoint walls.
func CheckPointNeighbours(c1, c2 *cloud.Cloud) bool {
	if c1.Size() == 0 || c2.Size() == 0 {
		return false
	}
	res := math.Sqrt(neighbourRadiusSq)
	idx := newVoxelIndex(c2, res)
	count := 0
	for _, p := range c1.Points() {
		if idx.hasNeighbourWithin(p.Position, neighbourRadiusSq) {
			count++
			if count > neighbourMinCount {
				return true
			}
		}
	}
	return false
}

// FitnessScore returns the mean squared nearest-neighbour distance of c1's
// points against c2 after applying relPose to c1, counting only matches
// within maxRange. It returns math.MaxFloat64 when nothing matches.
func FitnessScore(c1, c2 *cloud.Cloud, relPose Pose, maxRange float64) float64 {
	if c1.Size() == 0 || c2.Size() == 0 {
		return math.MaxFloat64
	}
	idx := newVoxelIndex(c2, maxRange)
	maxSq := maxRange * maxRange
	var sum float64
	matched := 0
	for _, p := range c1.Points() {
		q := relPose.TransformPoint(p.Position)
		if d, ok := idx.nearestWithin(q, maxSq); ok {
			sum += d
			matched++
		}
	}
	if matched == 0 {
		return math.MaxFloat64
	}
	return sum / float64(matched)
}

// voxelIndex buckets points on a uniform grid so radius queries only touch
// the 27 cells around the query point.
type voxelIndex struct {
	res   float64
	cells map[voxelCell][]r3.Vector
}

type voxelCell struct {
	x, y, z int
}

func newVoxelIndex(c *cloud.Cloud, res float64) *voxelIndex {
	if res <= 0 {
		res = 1
	}
	idx := &voxelIndex{res: res, cells: make(map[voxelCell][]r3.Vector, c.Size())}
	for _, p := range c.Points() {
		k := idx.cellFor(p.Position)
		idx.cells[k] = append(idx.cells[k], p.Position)
	}
	return idx
}

func (idx *voxelIndex) cellFor(p r3.Vector) voxelCell {
	return voxelCell{
		x: int(math.Floor(p.X / idx.res)),
		y: int(math.Floor(p.Y / idx.res)),
		z: int(math.Floor(p.Z / idx.res)),
	}
}

func (idx *voxelIndex) hasNeighbourWithin(p r3.Vector, maxSq float64) bool {
	c := idx.cellFor(p)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				for _, q := range idx.cells[voxelCell{c.x + dx, c.y + dy, c.z + dz}] {
					d := p.Sub(q)
					if d.Norm2() < maxSq {
						return true
					}
				}
			}
		}
	}
	return false
}

func (idx *voxelIndex) nearestWithin(p r3.Vector, maxSq float64) (float64, bool) {
	c := idx.cellFor(p)
	best := maxSq
	found := false
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				for _, q := range idx.cells[voxelCell{c.x + dx, c.y + dy, c.z + dz}] {
					if d := p.Sub(q).Norm2(); d < best {
						best = d
						found = true
					}
				}
			}
		}
	}
	return best, found
}
