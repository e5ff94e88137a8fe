package structureslam

import (
	"os"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/structkit/structure-slam/keyframe"
	"github.com/structkit/structure-slam/mapping"
)

// Config is the service configuration. The structured fields cover the
// service wiring; ConfigParams is the free-form tuning map the mappers and
// detectors read through the typed accessors below.
type Config struct {
	MapFrame      string `yaml:"map_frame"`
	DataDirectory string `yaml:"data_directory"`

	FusionIntervalMsec     int     `yaml:"fusion_interval_msec"`
	MapPublishIntervalMsec int     `yaml:"map_publish_interval_msec"`
	MapCloudResolution     float64 `yaml:"map_cloud_resolution"`

	FixFirstNode       bool   `yaml:"fix_first_node"`
	FixFirstNodeStddev string `yaml:"fix_first_node_stddev"`

	ConfigParams map[string]string `yaml:"config_params"`
}

// DefaultConfig returns a config with working defaults for an indoor run.
func DefaultConfig() *Config {
	return &Config{
		MapFrame:               "map",
		FusionIntervalMsec:     3000,
		MapPublishIntervalMsec: 10000,
		MapCloudResolution:     0.05,
		FixFirstNode:           true,
		FixFirstNodeStddev:     "1 1 1 1 1 1",
		ConfigParams:           map[string]string{},
	}
}

// LoadConfig reads a yaml config file and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structured fields.
func (c *Config) Validate() error {
	if c.MapFrame == "" {
		return errors.New("map_frame must not be empty")
	}
	if c.FusionIntervalMsec <= 0 {
		return errors.New("fusion_interval_msec must be positive")
	}
	if c.MapPublishIntervalMsec <= 0 {
		return errors.New("map_publish_interval_msec must be positive")
	}
	if c.MapCloudResolution < 0 {
		return errors.New("map_cloud_resolution must not be negative")
	}
	if _, err := parseStddevs(c.FixFirstNodeStddev); err != nil {
		return err
	}
	return nil
}

// parseStddevs parses the six per-axis standard deviations of the anchor
// edge information matrix.
func parseStddevs(s string) ([6]float64, error) {
	var out [6]float64
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return out, errors.Errorf("fix_first_node_stddev needs 6 values, got %d", len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return out, errors.Wrap(err, "parsing fix_first_node_stddev")
		}
		if v <= 0 {
			return out, errors.New("fix_first_node_stddev values must be positive")
		}
		out[i] = v
	}
	return out, nil
}

// The tuning-map accessors fall back to the given default, logging the miss
// or parse failure, so a partial config_params block stays usable.

func paramFloat(logger golog.Logger, params map[string]string, key string, def float64) float64 {
	raw, ok := params[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warnf("config_params[%s]=%q is not a float, using default %v", key, raw, def)
		return def
	}
	return v
}

func paramInt(logger golog.Logger, params map[string]string, key string, def int) int {
	raw, ok := params[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warnf("config_params[%s]=%q is not an int, using default %v", key, raw, def)
		return def
	}
	return v
}

func paramBool(logger golog.Logger, params map[string]string, key string, def bool) bool {
	raw, ok := params[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warnf("config_params[%s]=%q is not a bool, using default %v", key, raw, def)
		return def
	}
	return v
}

// keyframeUpdaterParams reads the keyframe movement gates.
func (c *Config) keyframeUpdaterParams(logger golog.Logger) (deltaTrans, deltaAngle float64) {
	return paramFloat(logger, c.ConfigParams, "keyframe_delta_trans", 2.0),
		paramFloat(logger, c.ConfigParams, "keyframe_delta_angle", 2.0)
}

func (c *Config) planeMapperConfig(logger golog.Logger) mapping.PlaneMapperConfig {
	cfg := mapping.DefaultPlaneMapperConfig()
	cfg.MinSegmentPoints = paramInt(logger, c.ConfigParams, "min_seg_points", cfg.MinSegmentPoints)
	cfg.PlaneDistThreshold = paramFloat(logger, c.ConfigParams, "plane_dist_threshold", cfg.PlaneDistThreshold)
	cfg.UsePointToPlane = paramBool(logger, c.ConfigParams, "use_point_to_plane", cfg.UsePointToPlane)
	cfg.PlanePointsDist = paramFloat(logger, c.ConfigParams, "plane_points_dist", cfg.PlanePointsDist)
	cfg.PlaneInformation = paramFloat(logger, c.ConfigParams, "plane_information", cfg.PlaneInformation)
	cfg.PointPlaneInformation = paramFloat(logger, c.ConfigParams, "plane_points_information", cfg.PointPlaneInformation)
	cfg.UseParallelConstraint = paramBool(logger, c.ConfigParams, "use_parallel_plane_constraint", cfg.UseParallelConstraint)
	cfg.UsePerpendicularConstraint = paramBool(logger, c.ConfigParams, "use_perpendicular_plane_constraint", cfg.UsePerpendicularConstraint)
	cfg.ConstraintInformation = paramFloat(logger, c.ConfigParams, "plane_constraint_information", cfg.ConstraintInformation)
	cfg.HuberDelta = paramFloat(logger, c.ConfigParams, "plane_huber_delta", cfg.HuberDelta)
	return cfg
}

func (c *Config) structureMapperConfig(logger golog.Logger) mapping.StructureMapperConfig {
	cfg := mapping.DefaultStructureMapperConfig()
	cfg.CorridorMinWidth = paramFloat(logger, c.ConfigParams, "corridor_min_width", cfg.CorridorMinWidth)
	cfg.CorridorMaxWidth = paramFloat(logger, c.ConfigParams, "corridor_max_width", cfg.CorridorMaxWidth)
	cfg.CorridorPlaneLengthDiff = paramFloat(logger, c.ConfigParams, "corridor_plane_length_diff_threshold", cfg.CorridorPlaneLengthDiff)
	cfg.CorridorMinPlaneLength = paramFloat(logger, c.ConfigParams, "corridor_min_plane_length", cfg.CorridorMinPlaneLength)
	cfg.CorridorDistThreshold = paramFloat(logger, c.ConfigParams, "corridor_dist_threshold", cfg.CorridorDistThreshold)
	cfg.RoomMinWidth = paramFloat(logger, c.ConfigParams, "room_min_width", cfg.RoomMinWidth)
	cfg.RoomPlaneLengthDiff = paramFloat(logger, c.ConfigParams, "room_plane_length_diff_threshold", cfg.RoomPlaneLengthDiff)
	cfg.RoomWidthDiffThreshold = paramFloat(logger, c.ConfigParams, "room_width_diff_threshold", cfg.RoomWidthDiffThreshold)
	cfg.RoomMinPlaneLength = paramFloat(logger, c.ConfigParams, "room_min_plane_length", cfg.RoomMinPlaneLength)
	cfg.RoomMaxPlaneLength = paramFloat(logger, c.ConfigParams, "room_max_plane_length", cfg.RoomMaxPlaneLength)
	cfg.RoomDistThreshold = paramFloat(logger, c.ConfigParams, "room_dist_threshold", cfg.RoomDistThreshold)
	cfg.KeyframeCorridorInfo = paramFloat(logger, c.ConfigParams, "corridor_information", cfg.KeyframeCorridorInfo)
	cfg.CorridorPlaneInfo = paramFloat(logger, c.ConfigParams, "corridor_plane_information", cfg.CorridorPlaneInfo)
	cfg.KeyframeRoomInfo = paramFloat(logger, c.ConfigParams, "room_information", cfg.KeyframeRoomInfo)
	cfg.RoomPlaneInfo = paramFloat(logger, c.ConfigParams, "room_plane_information", cfg.RoomPlaneInfo)
	cfg.HuberDelta = paramFloat(logger, c.ConfigParams, "structure_huber_delta", cfg.HuberDelta)
	return cfg
}

func (c *Config) informationCalculatorConfig(logger golog.Logger) mapping.InformationCalculatorConfig {
	cfg := mapping.DefaultInformationCalculatorConfig()
	cfg.UseConstInformation = paramBool(logger, c.ConfigParams, "use_const_inf_matrix", cfg.UseConstInformation)
	cfg.ConstStddevX = paramFloat(logger, c.ConfigParams, "const_stddev_x", cfg.ConstStddevX)
	cfg.ConstStddevQ = paramFloat(logger, c.ConfigParams, "const_stddev_q", cfg.ConstStddevQ)
	cfg.VarGainA = paramFloat(logger, c.ConfigParams, "var_gain_a", cfg.VarGainA)
	cfg.MinStddevX = paramFloat(logger, c.ConfigParams, "min_stddev_x", cfg.MinStddevX)
	cfg.MaxStddevX = paramFloat(logger, c.ConfigParams, "max_stddev_x", cfg.MaxStddevX)
	cfg.MinStddevQ = paramFloat(logger, c.ConfigParams, "min_stddev_q", cfg.MinStddevQ)
	cfg.MaxStddevQ = paramFloat(logger, c.ConfigParams, "max_stddev_q", cfg.MaxStddevQ)
	cfg.FitnessScoreThresh = paramFloat(logger, c.ConfigParams, "fitness_score_thresh", cfg.FitnessScoreThresh)
	cfg.FitnessMaxRange = paramFloat(logger, c.ConfigParams, "fitness_score_max_range", cfg.FitnessMaxRange)
	return cfg
}

func (c *Config) loopDetectorConfig(logger golog.Logger) keyframe.LoopDetectorConfig {
	cfg := keyframe.DefaultLoopDetectorConfig()
	cfg.DistanceThresh = paramFloat(logger, c.ConfigParams, "loop_distance_thresh", cfg.DistanceThresh)
	cfg.AccumDistanceThresh = paramFloat(logger, c.ConfigParams, "loop_accum_distance_thresh", cfg.AccumDistanceThresh)
	cfg.MinEdgeInterval = paramFloat(logger, c.ConfigParams, "loop_min_edge_interval", cfg.MinEdgeInterval)
	cfg.FitnessThresh = paramFloat(logger, c.ConfigParams, "loop_fitness_thresh", cfg.FitnessThresh)
	cfg.FitnessMaxRange = paramFloat(logger, c.ConfigParams, "loop_fitness_max_range", cfg.FitnessMaxRange)
	return cfg
}
