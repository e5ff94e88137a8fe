package structureslam

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
map_frame: factory_map
fusion_interval_msec: 500
config_params:
  keyframe_delta_trans: "1.5"
  min_seg_points: "50"
  use_const_inf_matrix: "true"
  corridor_min_width: "not-a-number"
  room_plane_length_diff_threshold: "0.5"
  corridor_plane_information: "0.02"
  plane_huber_delta: "0.8"
`
	test.That(t, os.WriteFile(path, []byte(yaml), 0o644), test.ShouldBeNil)

	cfg, err := LoadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.MapFrame, test.ShouldEqual, "factory_map")
	test.That(t, cfg.FusionIntervalMsec, test.ShouldEqual, 500)
	// Unset structured fields keep their defaults.
	test.That(t, cfg.MapPublishIntervalMsec, test.ShouldEqual, 10000)
	test.That(t, cfg.FixFirstNode, test.ShouldBeTrue)

	logger := golog.NewTestLogger(t)
	deltaTrans, deltaAngle := cfg.keyframeUpdaterParams(logger)
	test.That(t, deltaTrans, test.ShouldEqual, 1.5)
	test.That(t, deltaAngle, test.ShouldEqual, 2.0)

	pmCfg := cfg.planeMapperConfig(logger)
	test.That(t, pmCfg.MinSegmentPoints, test.ShouldEqual, 50)
	test.That(t, pmCfg.HuberDelta, test.ShouldEqual, 0.8)

	icCfg := cfg.informationCalculatorConfig(logger)
	test.That(t, icCfg.UseConstInformation, test.ShouldBeTrue)

	smCfg := cfg.structureMapperConfig(logger)
	// An unparseable tuning value falls back to the default.
	test.That(t, smCfg.CorridorMinWidth, test.ShouldEqual, 1.5)
	// The room length-difference gate is tuned independently of the
	// corridor one.
	test.That(t, smCfg.RoomPlaneLengthDiff, test.ShouldEqual, 0.5)
	test.That(t, smCfg.CorridorPlaneLengthDiff, test.ShouldEqual, 0.3)
	test.That(t, smCfg.CorridorPlaneInfo, test.ShouldEqual, 0.02)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	})

	t.Run("empty map frame", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MapFrame = ""
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	})

	t.Run("non-positive fusion interval", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FusionIntervalMsec = 0
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	})

	t.Run("bad anchor stddevs", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FixFirstNodeStddev = "1 2 3"
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)

		cfg.FixFirstNodeStddev = "1 1 1 1 1 -1"
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	})
}

func TestParseStddevs(t *testing.T) {
	stddevs, err := parseStddevs("1 2 3 4 5 6")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stddevs, test.ShouldResemble, [6]float64{1, 2, 3, 4, 5, 6})
}
