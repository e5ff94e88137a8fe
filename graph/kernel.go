package graph

import (
	"math"

	"github.com/pkg/errors"
)

// robustKernel down-weights outlier residuals during optimization.
type robustKernel struct {
	delta float64
}

// weight returns the scale applied to an edge's information given its
// unweighted chi-square error.
func (k *robustKernel) weight(chi2 float64) float64 {
	if k == nil || chi2 <= k.delta*k.delta {
		return 1
	}
	return k.delta / math.Sqrt(chi2)
}

// AddRobustKernel attaches a robust kernel to an edge. Only the Huber kernel
// is supported.
func AddRobustKernel(e Edge, kind string, delta float64) error {
	if kind != "Huber" {
		return errors.Errorf("unsupported robust kernel %q", kind)
	}
	if delta <= 0 {
		return errors.Errorf("robust kernel size must be positive, got %v", delta)
	}
	e.setKernel(&robustKernel{delta: delta})
	return nil
}
