// Package sensors defines the input message types the fusion queues carry,
// plus NMEA sentence parsing and UTM conversion for the GPS path.
package sensors

import (
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
)

// Odometry is one odometry estimate with the cloud captured at that pose.
type Odometry struct {
	Stamp time.Time
	Pose  geometry.Pose
	Cloud *cloud.Cloud
}

// SegmentedClouds carries the planar segments extracted from one scan. Each
// segment's last point encodes its plane equation.
type SegmentedClouds struct {
	Stamp    time.Time
	Segments []*cloud.Cloud
}

// GeoPoint is one GPS fix. Altitude is NaN when the receiver did not report
// one.
type GeoPoint struct {
	Stamp     time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// IMUMeasurement is one orientation and linear-acceleration sample.
type IMUMeasurement struct {
	Stamp        time.Time
	Orientation  quat.Number
	Acceleration r3.Vector
}

// FloorCoeffs is one detected floor plane equation.
type FloorCoeffs struct {
	Stamp  time.Time
	Coeffs [4]float64
}

// Adjacency names two landmarks by graph vertex id.
type Adjacency struct {
	FromID int
	ToID   int
}

// RoomInventory is an externally supplied adjacency list over the mapped
// structural landmarks.
type RoomInventory struct {
	Stamp             time.Time
	RoomRooms         []Adjacency
	RoomCorridors     []Adjacency
	CorridorCorridors []Adjacency
}
