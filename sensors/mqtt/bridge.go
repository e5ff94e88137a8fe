// Package mqtt bridges sensor streams published over MQTT into the fusion
// queues.
package mqtt

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/edaniels/golog"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/sensors"
)

// Topic suffixes under the configured prefix.
const (
	TopicOdometry  = "odom"
	TopicSegments  = "segments"
	TopicGPS       = "gps"
	TopicNMEA      = "nmea"
	TopicIMU       = "imu"
	TopicFloor     = "floor"
	TopicInventory = "inventory"
)

const (
	subscribeQoS        = 1
	disconnectQuiesceMs = 250
)

// Sink receives the decoded messages. The SLAM service satisfies it.
type Sink interface {
	AddOdometry(ctx context.Context, msg sensors.Odometry) error
	AddSegmentedClouds(ctx context.Context, msg sensors.SegmentedClouds) error
	AddGPS(ctx context.Context, msg sensors.GeoPoint) error
	AddNMEA(ctx context.Context, stamp time.Time, sentence string) error
	AddIMU(ctx context.Context, msg sensors.IMUMeasurement) error
	AddFloorCoeffs(ctx context.Context, msg sensors.FloorCoeffs) error
	AddRoomInventory(ctx context.Context, msg sensors.RoomInventory) error
}

// Config tells the bridge where to connect and what to listen on.
type Config struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// Bridge is a connected MQTT subscriber feeding a Sink.
type Bridge struct {
	client paho.Client
	cfg    Config
	sink   Sink
	logger golog.Logger
}

// New connects to the broker and subscribes to every sensor topic.
func New(ctx context.Context, cfg Config, sink Sink, logger golog.Logger) (*Bridge, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("broker url must not be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "structure-slam"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "structure_slam"
	}

	b := &Bridge{cfg: cfg, sink: sink, logger: logger}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warnf("mqtt connection lost: %v", err)
		})
	b.client = paho.NewClient(opts)

	token := b.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connecting to mqtt broker")
	}

	for suffix, handler := range map[string]paho.MessageHandler{
		TopicOdometry:  b.handleOdometry,
		TopicSegments:  b.handleSegments,
		TopicGPS:       b.handleGPS,
		TopicNMEA:      b.handleNMEA,
		TopicIMU:       b.handleIMU,
		TopicFloor:     b.handleFloor,
		TopicInventory: b.handleInventory,
	} {
		topic := cfg.TopicPrefix + "/" + suffix
		token := b.client.Subscribe(topic, subscribeQoS, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			b.client.Disconnect(disconnectQuiesceMs)
			return nil, errors.Wrapf(err, "subscribing to %s", topic)
		}
	}
	return b, nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(disconnectQuiesceMs)
}

type vec3DTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v vec3DTO) vector() r3.Vector { return r3.Vector{X: v.X, Y: v.Y, Z: v.Z} }

type quatDTO struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (q quatDTO) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

type pointDTO struct {
	Position  vec3DTO `json:"position"`
	Normal    vec3DTO `json:"normal"`
	Curvature float64 `json:"curvature"`
}

type odometryDTO struct {
	StampNsec   int64      `json:"stamp_nsec"`
	Position    vec3DTO    `json:"position"`
	Orientation quatDTO    `json:"orientation"`
	Points      []pointDTO `json:"points"`
}

type segmentsDTO struct {
	StampNsec int64        `json:"stamp_nsec"`
	Segments  [][]pointDTO `json:"segments"`
}

type gpsDTO struct {
	StampNsec int64    `json:"stamp_nsec"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

type nmeaDTO struct {
	StampNsec int64  `json:"stamp_nsec"`
	Sentence  string `json:"sentence"`
}

type imuDTO struct {
	StampNsec    int64   `json:"stamp_nsec"`
	Orientation  quatDTO `json:"orientation"`
	Acceleration vec3DTO `json:"acceleration"`
}

type floorDTO struct {
	StampNsec int64      `json:"stamp_nsec"`
	Coeffs    [4]float64 `json:"coeffs"`
}

type adjacencyDTO struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type inventoryDTO struct {
	StampNsec         int64          `json:"stamp_nsec"`
	RoomRooms         []adjacencyDTO `json:"room_rooms"`
	RoomCorridors     []adjacencyDTO `json:"room_corridors"`
	CorridorCorridors []adjacencyDTO `json:"corridor_corridors"`
}

func decodeCloud(points []pointDTO) *cloud.Cloud {
	c := cloud.NewWithCapacity(len(points))
	for _, p := range points {
		c.Add(cloud.Point{
			Position:  p.Position.vector(),
			Normal:    p.Normal.vector(),
			Curvature: p.Curvature,
		})
	}
	return c
}

func decodeOdometry(payload []byte) (sensors.Odometry, error) {
	var dto odometryDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return sensors.Odometry{}, errors.Wrap(err, "decoding odometry message")
	}
	return sensors.Odometry{
		Stamp: time.Unix(0, dto.StampNsec),
		Pose:  geometry.NewPose(dto.Orientation.number(), dto.Position.vector()),
		Cloud: decodeCloud(dto.Points),
	}, nil
}

func decodeSegments(payload []byte) (sensors.SegmentedClouds, error) {
	var dto segmentsDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return sensors.SegmentedClouds{}, errors.Wrap(err, "decoding segments message")
	}
	msg := sensors.SegmentedClouds{Stamp: time.Unix(0, dto.StampNsec)}
	for _, seg := range dto.Segments {
		msg.Segments = append(msg.Segments, decodeCloud(seg))
	}
	return msg, nil
}

func decodeGPS(payload []byte) (sensors.GeoPoint, error) {
	var dto gpsDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return sensors.GeoPoint{}, errors.Wrap(err, "decoding gps message")
	}
	alt := math.NaN()
	if dto.Altitude != nil {
		alt = *dto.Altitude
	}
	return sensors.GeoPoint{
		Stamp:     time.Unix(0, dto.StampNsec),
		Latitude:  dto.Latitude,
		Longitude: dto.Longitude,
		Altitude:  alt,
	}, nil
}

func decodeIMU(payload []byte) (sensors.IMUMeasurement, error) {
	var dto imuDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return sensors.IMUMeasurement{}, errors.Wrap(err, "decoding imu message")
	}
	return sensors.IMUMeasurement{
		Stamp:        time.Unix(0, dto.StampNsec),
		Orientation:  dto.Orientation.number(),
		Acceleration: dto.Acceleration.vector(),
	}, nil
}

func decodeFloor(payload []byte) (sensors.FloorCoeffs, error) {
	var dto floorDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return sensors.FloorCoeffs{}, errors.Wrap(err, "decoding floor message")
	}
	return sensors.FloorCoeffs{Stamp: time.Unix(0, dto.StampNsec), Coeffs: dto.Coeffs}, nil
}

func decodeInventory(payload []byte) (sensors.RoomInventory, error) {
	var dto inventoryDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return sensors.RoomInventory{}, errors.Wrap(err, "decoding inventory message")
	}
	convert := func(in []adjacencyDTO) []sensors.Adjacency {
		out := make([]sensors.Adjacency, 0, len(in))
		for _, a := range in {
			out = append(out, sensors.Adjacency{FromID: a.From, ToID: a.To})
		}
		return out
	}
	return sensors.RoomInventory{
		Stamp:             time.Unix(0, dto.StampNsec),
		RoomRooms:         convert(dto.RoomRooms),
		RoomCorridors:     convert(dto.RoomCorridors),
		CorridorCorridors: convert(dto.CorridorCorridors),
	}, nil
}

func (b *Bridge) handleOdometry(_ paho.Client, m paho.Message) {
	msg, err := decodeOdometry(m.Payload())
	if err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddOdometry(context.Background(), msg); err != nil {
		b.logger.Errorw("feeding odometry", "error", err)
	}
}

func (b *Bridge) handleSegments(_ paho.Client, m paho.Message) {
	msg, err := decodeSegments(m.Payload())
	if err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddSegmentedClouds(context.Background(), msg); err != nil {
		b.logger.Errorw("feeding segments", "error", err)
	}
}

func (b *Bridge) handleGPS(_ paho.Client, m paho.Message) {
	msg, err := decodeGPS(m.Payload())
	if err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddGPS(context.Background(), msg); err != nil {
		b.logger.Errorw("feeding gps", "error", err)
	}
}

func (b *Bridge) handleNMEA(_ paho.Client, m paho.Message) {
	var dto nmeaDTO
	if err := json.Unmarshal(m.Payload(), &dto); err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddNMEA(context.Background(), time.Unix(0, dto.StampNsec), dto.Sentence); err != nil {
		b.logger.Errorw("feeding nmea", "error", err)
	}
}

func (b *Bridge) handleIMU(_ paho.Client, m paho.Message) {
	msg, err := decodeIMU(m.Payload())
	if err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddIMU(context.Background(), msg); err != nil {
		b.logger.Errorw("feeding imu", "error", err)
	}
}

func (b *Bridge) handleFloor(_ paho.Client, m paho.Message) {
	msg, err := decodeFloor(m.Payload())
	if err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddFloorCoeffs(context.Background(), msg); err != nil {
		b.logger.Errorw("feeding floor coefficients", "error", err)
	}
}

func (b *Bridge) handleInventory(_ paho.Client, m paho.Message) {
	msg, err := decodeInventory(m.Payload())
	if err != nil {
		b.logger.Errorw("dropping mqtt message", "topic", m.Topic(), "error", err)
		return
	}
	if err := b.sink.AddRoomInventory(context.Background(), msg); err != nil {
		b.logger.Errorw("feeding room inventory", "error", err)
	}
}
