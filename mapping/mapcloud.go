package mapping

import (
	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/keyframe"
)

// GenerateMapCloud aggregates the keyframe snapshots into one map-frame
// cloud, voxel downsampled at the given resolution. A non-positive
// resolution skips downsampling. Returns nil when there is nothing to
// aggregate.
func GenerateMapCloud(snapshots []keyframe.Snapshot, resolution float64) *cloud.Cloud {
	if len(snapshots) == 0 {
		return nil
	}
	total := 0
	for _, s := range snapshots {
		total += s.Cloud.Size()
	}
	out := cloud.NewWithCapacity(total)
	for _, s := range snapshots {
		if s.Cloud.Size() == 0 {
			continue
		}
		out.Merge(s.Cloud.Transform(s.Pose.Rotation, s.Pose.Translation))
	}
	if out.Size() == 0 {
		return nil
	}
	return out.VoxelDownsample(resolution)
}
