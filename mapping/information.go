package mapping

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/structkit/structure-slam/cloud"
	"github.com/structkit/structure-slam/geometry"
	"github.com/structkit/structure-slam/graph"
)

// InformationCalculatorConfig tunes the odometry/loop edge information
// matrices.
type InformationCalculatorConfig struct {
	UseConstInformation bool
	ConstStddevX        float64
	ConstStddevQ        float64

	VarGainA           float64
	MinStddevX         float64
	MaxStddevX         float64
	MinStddevQ         float64
	MaxStddevQ         float64
	FitnessScoreThresh float64
	FitnessMaxRange    float64
}

// DefaultInformationCalculatorConfig returns the adaptive tuning.
func DefaultInformationCalculatorConfig() InformationCalculatorConfig {
	return InformationCalculatorConfig{
		UseConstInformation: false,
		ConstStddevX:        0.5,
		ConstStddevQ:        0.1,
		VarGainA:            20.0,
		MinStddevX:          0.1,
		MaxStddevX:          5.0,
		MinStddevQ:          0.05,
		MaxStddevQ:          0.2,
		FitnessScoreThresh:  0.5,
		FitnessMaxRange:     2.0,
	}
}

// InformationCalculator derives 6x6 information matrices for relative-pose
// edges, either constant or scaled by how well the two clouds overlap under
// the relative pose.
type InformationCalculator struct {
	cfg InformationCalculatorConfig
}

// NewInformationCalculator returns a calculator with the given tuning.
func NewInformationCalculator(cfg InformationCalculatorConfig) *InformationCalculator {
	return &InformationCalculator{cfg: cfg}
}

// Calculate returns the information matrix for a relative-pose edge between
// the owners of c1 and c2, with relPose taking c1's frame into c2's.
func (ic *InformationCalculator) Calculate(c1, c2 *cloud.Cloud, relPose geometry.Pose) *mat.SymDense {
	if ic.cfg.UseConstInformation {
		return information6(ic.cfg.ConstStddevX, ic.cfg.ConstStddevQ)
	}
	fitness := geometry.FitnessScore(c1, c2, relPose, ic.cfg.FitnessMaxRange)
	wx := ic.weight(ic.cfg.MinStddevX, ic.cfg.MaxStddevX, fitness)
	wq := ic.weight(ic.cfg.MinStddevQ, ic.cfg.MaxStddevQ, fitness)
	return information6(wx, wq)
}

// weight maps a fitness score onto [min, max] through a saturating
// exponential.
func (ic *InformationCalculator) weight(min, max, fitness float64) float64 {
	x := math.Min(fitness, ic.cfg.FitnessScoreThresh)
	y := (1.0 - math.Exp(-ic.cfg.VarGainA*x)) /
		(1.0 - math.Exp(-ic.cfg.VarGainA*ic.cfg.FitnessScoreThresh))
	return min + (max-min)*y
}

func information6(stddevX, stddevQ float64) *mat.SymDense {
	return graph.InformationDiagonal([]float64{
		1 / stddevX, 1 / stddevX, 1 / stddevX,
		1 / stddevQ, 1 / stddevQ, 1 / stddevQ,
	})
}
