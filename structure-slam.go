// Package structureslam implements a semantic structure-mapping SLAM
// service: streaming odometry, segmented planar patches, GPS, IMU, and floor
// detections are fused into a factor graph of pose, plane, corridor, and
// room landmarks, batch-optimized on a timer.
package structureslam

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
	"github.com/structkit/structure-slam/keyframe"
	"github.com/structkit/structure-slam/mapping"
	"github.com/structkit/structure-slam/sensors"
)

// maxKeyframesPerTick bounds how many queued keyframes one fusion tick
// registers in the graph.
const maxKeyframesPerTick = 10

// auxStampWindow is how far an auxiliary measurement's stamp may be from a
// keyframe's to attach to it.
const auxStampWindow = 200 * time.Millisecond

// optimizeIterations bounds the per-tick optimization.
const optimizeIterations = 1024

// Service is the structure-mapping SLAM engine.
type Service struct {
	logger golog.Logger
	cfg    *Config

	// mainMu serializes the fusion tick, the graph, and everything hanging
	// off it.
	mainMu          sync.Mutex
	graph           *graph.Graph
	state           *mapping.State
	store           *keyframe.Store
	loopDetector    *keyframe.LoopDetector
	planeMapper     *mapping.PlaneMapper
	structureMapper *mapping.StructureMapper
	neighbourMapper *mapping.NeighbourMapper
	infoCalc        *mapping.InformationCalculator

	odom2map       geometry.Pose
	zeroUTM        *r3.Vector
	anchorNode     *graph.SE3Vertex
	anchorEdge     *graph.SE3Edge
	anchorAdaptive bool
	anchorStddevs  [6]float64
	floorNode      *graph.PlaneVertex

	// queueMu guards the input queues and the updater feeding them.
	queueMu        sync.Mutex
	updater        *keyframe.Updater
	keyframeQueue  []*keyframe.Keyframe
	segQueue       []sensors.SegmentedClouds
	gpsQueue       []sensors.GeoPoint
	imuQueue       []sensors.IMUMeasurement
	floorQueue     []sensors.FloorCoeffs
	inventoryQueue []sensors.RoomInventory
	lastOdom       *geometry.Pose

	// snapshotMu guards the published view: keyframe snapshots and the
	// aggregate map cloud.
	snapshotMu   sync.Mutex
	snapshots    []keyframe.Snapshot
	graphUpdated bool
	mapCloud     *cloud.Cloud

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a running service: the fusion loop and map publisher workers
// are started before it returns.
func New(ctx context.Context, cfg *Config, logger golog.Logger) (*Service, error) {
	ctx, span := trace.StartSpan(ctx, "structureslam::New")
	defer span.End()

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	deltaTrans, deltaAngle := cfg.keyframeUpdaterParams(logger)
	stddevs, err := parseStddevs(cfg.FixFirstNodeStddev)
	if err != nil {
		cancelFunc()
		return nil, err
	}
	s := &Service{
		logger:          logger,
		cfg:             cfg,
		graph:           graph.New(logger),
		state:           mapping.NewState(),
		store:           keyframe.NewStore(),
		updater:         keyframe.NewUpdater(deltaTrans, deltaAngle),
		loopDetector:    keyframe.NewLoopDetector(cfg.loopDetectorConfig(logger), logger),
		planeMapper:     mapping.NewPlaneMapper(cfg.planeMapperConfig(logger), logger),
		structureMapper: mapping.NewStructureMapper(cfg.structureMapperConfig(logger), logger),
		neighbourMapper: mapping.NewNeighbourMapper(mapping.DefaultNeighbourMapperConfig(), logger),
		infoCalc:        mapping.NewInformationCalculator(cfg.informationCalculatorConfig(logger)),
		odom2map:        geometry.IdentityPose(),
		anchorAdaptive:  paramBool(logger, cfg.ConfigParams, "fix_first_node_adaptive", true),
		anchorStddevs:   stddevs,
		cancelCtx:       cancelCtx,
		cancelFunc:      cancelFunc,
	}

	var success bool
	defer func() {
		if !success {
			if err := s.Close(ctx); err != nil {
				logger.Errorw("error closing out after error", "error", err)
			}
		}
	}()

	s.startFusionLoop()
	s.startMapPublisher()

	success = true
	return s, nil
}

// AddOdometry feeds one odometry+cloud pair. Poses that do not pass the
// movement gate are dropped.
func (s *Service) AddOdometry(ctx context.Context, msg sensors.Odometry) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::AddOdometry")
	defer span.End()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	pose := msg.Pose
	s.lastOdom = &pose
	if !s.updater.Update(msg.Pose) {
		return nil
	}
	s.keyframeQueue = append(s.keyframeQueue, &keyframe.Keyframe{
		Stamp:         msg.Stamp,
		Odometry:      msg.Pose,
		AccumDistance: s.updater.AccumDistance(),
		Cloud:         msg.Cloud,
	})
	return nil
}

// AddSegmentedClouds feeds the planar segments extracted from one scan.
func (s *Service) AddSegmentedClouds(ctx context.Context, msg sensors.SegmentedClouds) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::AddSegmentedClouds")
	defer span.End()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.segQueue = append(s.segQueue, msg)
	return nil
}

// AddGPS feeds one GPS fix.
func (s *Service) AddGPS(ctx context.Context, msg sensors.GeoPoint) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::AddGPS")
	defer span.End()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.gpsQueue = append(s.gpsQueue, msg)
	return nil
}

// AddNMEA parses an RMC sentence and feeds the fix. Sentences without an
// active fix are dropped with a debug log.
func (s *Service) AddNMEA(ctx context.Context, stamp time.Time, sentence string) error {
	fix, err := sensors.ParseGPRMC(stamp, sentence)
	if err != nil {
		s.logger.Debugw("dropping nmea sentence", "error", err)
		return nil
	}
	return s.AddGPS(ctx, fix)
}

// AddIMU feeds one IMU sample.
func (s *Service) AddIMU(ctx context.Context, msg sensors.IMUMeasurement) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::AddIMU")
	defer span.End()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.imuQueue = append(s.imuQueue, msg)
	return nil
}

// AddFloorCoeffs feeds one detected floor plane.
func (s *Service) AddFloorCoeffs(ctx context.Context, msg sensors.FloorCoeffs) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::AddFloorCoeffs")
	defer span.End()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.floorQueue = append(s.floorQueue, msg)
	return nil
}

// AddRoomInventory feeds an external structural adjacency list.
func (s *Service) AddRoomInventory(ctx context.Context, msg sensors.RoomInventory) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::AddRoomInventory")
	defer span.End()

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.inventoryQueue = append(s.inventoryQueue, msg)
	return nil
}

// Position returns the current map-frame pose: the latest odometry carried
// through the odometry-to-map correction.
func (s *Service) Position(ctx context.Context) (spatialmath.Pose, error) {
	_, span := trace.StartSpan(ctx, "structureslam::Service::Position")
	defer span.End()

	s.queueMu.Lock()
	lastOdom := s.lastOdom
	s.queueMu.Unlock()
	if lastOdom == nil {
		return nil, errors.New("no odometry received yet")
	}
	s.mainMu.Lock()
	odom2map := s.odom2map
	s.mainMu.Unlock()
	return odom2map.Compose(*lastOdom).Spatial(), nil
}

// MapCloud returns the latest published aggregate map cloud, nil before the
// first publication.
func (s *Service) MapCloud() *cloud.Cloud {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()
	return s.mapCloud
}

// Landmarks returns the current landmark counts per kind, for
// introspection.
func (s *Service) Landmarks() (planes, corridors, rooms int) {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()
	return len(s.state.AllPlanes()),
		len(s.state.XCorridors) + len(s.state.YCorridors),
		len(s.state.Rooms)
}

func (s *Service) startFusionLoop() {
	s.activeBackgroundWorkers.Add(1)
	interval := time.Duration(s.cfg.FusionIntervalMsec) * time.Millisecond
	goutils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		for {
			if !goutils.SelectContextOrWait(s.cancelCtx, interval) {
				return
			}
			s.tick(s.cancelCtx)
		}
	})
}

func (s *Service) startMapPublisher() {
	s.activeBackgroundWorkers.Add(1)
	interval := time.Duration(s.cfg.MapPublishIntervalMsec) * time.Millisecond
	goutils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		for {
			if !goutils.SelectContextOrWait(s.cancelCtx, interval) {
				return
			}
			s.publishMapCloud()
		}
	})
}

// publishMapCloud regenerates the aggregate cloud from the last snapshot
// swap, skipping the work when the graph has not changed.
func (s *Service) publishMapCloud() {
	s.snapshotMu.Lock()
	updated := s.graphUpdated
	snaps := s.snapshots
	s.snapshotMu.Unlock()
	if !updated {
		return
	}
	generated := mapping.GenerateMapCloud(snaps, s.cfg.MapCloudResolution)
	s.snapshotMu.Lock()
	s.mapCloud = generated
	s.graphUpdated = false
	s.snapshotMu.Unlock()
}

// Close stops the background workers and waits for them.
func (s *Service) Close(ctx context.Context) error {
	_, span := trace.StartSpan(ctx, "structureslam::Service::Close")
	defer span.End()

	s.cancelFunc()
	s.activeBackgroundWorkers.Wait()
	return nil
}
