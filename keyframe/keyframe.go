// Package keyframe holds the keyframe record, the movement gate deciding
// when odometry becomes a keyframe, the store with its staging list, and the
// loop detector.
package keyframe

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
)

// Keyframe is one pose node of the map with the sensor data attached to it.
type Keyframe struct {
	Stamp         time.Time
	Odometry      geometry.Pose
	AccumDistance float64
	Cloud         *cloud.Cloud

	// Node is set when the keyframe is registered in the graph.
	Node *graph.SE3Vertex

	// Optional per-keyframe sensor attachments, filled by the auxiliary
	// queue drains.
	UTM          *r3.Vector
	Acceleration *r3.Vector
	Orientation  *quat.Number
	FloorCoeffs  *[4]float64

	// Landmark ids observed from this keyframe, per plane class.
	XPlaneIDs          []int
	YPlaneIDs          []int
	HorizontalPlaneIDs []int
}

// Estimate returns the optimized pose, falling back to odometry when the
// keyframe is not yet in the graph.
func (k *Keyframe) Estimate() geometry.Pose {
	if k.Node == nil {
		return k.Odometry
	}
	return k.Node.Estimate()
}

// Save writes the keyframe to dir: a "data" text file with the pose fields
// and a "cloud.pcd" with the attached points.
func (k *Keyframe) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating keyframe directory")
	}
	f, err := os.Create(filepath.Join(dir, "data"))
	if err != nil {
		return errors.Wrap(err, "creating keyframe data file")
	}
	defer f.Close()

	est := k.Estimate()
	fmt.Fprintf(f, "stamp %d %d\n", k.Stamp.Unix(), k.Stamp.Nanosecond())
	fmt.Fprintf(f, "estimate %g %g %g %g %g %g %g\n",
		est.Translation.X, est.Translation.Y, est.Translation.Z,
		est.Rotation.Imag, est.Rotation.Jmag, est.Rotation.Kmag, est.Rotation.Real)
	fmt.Fprintf(f, "odom %g %g %g %g %g %g %g\n",
		k.Odometry.Translation.X, k.Odometry.Translation.Y, k.Odometry.Translation.Z,
		k.Odometry.Rotation.Imag, k.Odometry.Rotation.Jmag, k.Odometry.Rotation.Kmag,
		k.Odometry.Rotation.Real)
	fmt.Fprintf(f, "accum_distance %g\n", k.AccumDistance)
	if k.UTM != nil {
		fmt.Fprintf(f, "utm_coord %g %g %g\n", k.UTM.X, k.UTM.Y, k.UTM.Z)
	}
	if k.FloorCoeffs != nil {
		c := *k.FloorCoeffs
		fmt.Fprintf(f, "floor_coeffs %g %g %g %g\n", c[0], c[1], c[2], c[3])
	}
	if k.Node != nil {
		fmt.Fprintf(f, "id %d\n", k.Node.ID())
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "flushing keyframe data file")
	}

	if k.Cloud != nil && k.Cloud.Size() > 0 {
		pcd, err := os.Create(filepath.Join(dir, "cloud.pcd"))
		if err != nil {
			return errors.Wrap(err, "creating keyframe cloud file")
		}
		defer pcd.Close()
		if err := cloud.WritePCD(k.Cloud, pcd); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is the immutable keyframe view the map publisher works from.
type Snapshot struct {
	Pose  geometry.Pose
	Cloud *cloud.Cloud
}
