package keyframe

import (
	"github.com/edaniels/golog"

	"github.com/structkit/structure-slam/geometry"
)

// Loop is a detected loop closure between a historical keyframe and a new
// one, with the relative pose taken from the current estimates.
type Loop struct {
	Key1    *Keyframe
	Key2    *Keyframe
	RelPose geometry.Pose
}

// LoopDetectorConfig tunes the loop search gates.
type LoopDetectorConfig struct {
	// DistanceThresh is the maximum estimated distance between candidate
	// pairs.
	DistanceThresh float64
	// AccumDistanceThresh is the minimum traveled distance separating a
	// candidate pair.
	AccumDistanceThresh float64
	// MinEdgeInterval is the minimum traveled distance between consecutive
	// accepted loop edges.
	MinEdgeInterval float64
	// FitnessThresh is the maximum cloud-overlap fitness score for a loop to
	// be accepted.
	FitnessThresh float64
	// FitnessMaxRange gates nearest-neighbour matches in the fitness check.
	FitnessMaxRange float64
}

// DefaultLoopDetectorConfig mirrors the usual indoor tuning.
func DefaultLoopDetectorConfig() LoopDetectorConfig {
	return LoopDetectorConfig{
		DistanceThresh:      5.0,
		AccumDistanceThresh: 8.0,
		MinEdgeInterval:     5.0,
		FitnessThresh:       0.5,
		FitnessMaxRange:     1.0,
	}
}

// LoopDetector searches (history x staging) keyframe pairs for loop
// closures.
type LoopDetector struct {
	cfg            LoopDetectorConfig
	logger         golog.Logger
	lastEdgeAccumD float64
}

// NewLoopDetector returns a detector with the given gates.
func NewLoopDetector(cfg LoopDetectorConfig, logger golog.Logger) *LoopDetector {
	return &LoopDetector{cfg: cfg, logger: logger}
}

// Detect returns the loop closures between the committed history and the
// staging keyframes.
func (d *LoopDetector) Detect(committed, staging []*Keyframe) []Loop {
	var loops []Loop
	for _, newKf := range staging {
		if newKf.AccumDistance-d.lastEdgeAccumD < d.cfg.MinEdgeInterval {
			continue
		}
		best := d.matchCandidate(committed, newKf)
		if best == nil {
			continue
		}
		d.lastEdgeAccumD = newKf.AccumDistance
		loops = append(loops, Loop{
			Key1:    best,
			Key2:    newKf,
			RelPose: best.Estimate().Delta(newKf.Estimate()),
		})
	}
	return loops
}

// matchCandidate picks the gated candidate with the best cloud-overlap
// fitness, or nil when none passes.
func (d *LoopDetector) matchCandidate(committed []*Keyframe, newKf *Keyframe) *Keyframe {
	var best *Keyframe
	bestFitness := d.cfg.FitnessThresh
	for _, old := range committed {
		if newKf.AccumDistance-old.AccumDistance < d.cfg.AccumDistanceThresh {
			continue
		}
		dist := old.Estimate().Translation.Sub(newKf.Estimate().Translation).Norm()
		if dist > d.cfg.DistanceThresh {
			continue
		}
		rel := old.Estimate().Delta(newKf.Estimate())
		fitness := geometry.FitnessScore(newKf.Cloud, old.Cloud, rel, d.cfg.FitnessMaxRange)
		if fitness <= bestFitness {
			bestFitness = fitness
			best = old
		}
	}
	if best != nil && d.logger != nil {
		d.logger.Debugw("loop closure candidate accepted", "fitness", bestFitness)
	}
	return best
}
