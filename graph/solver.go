package graph

import (
	"gonum.org/v1/gonum/mat"
)

const (
	jacobianEps    = 1e-6
	initialLambda  = 1e-4
	maxLambda      = 1e8
	chi2Tolerance  = 1e-9
	deltaTolerance = 1e-10
)

// system indexes the free vertices of the graph into a contiguous parameter
// vector.
type system struct {
	free   []Vertex
	offset map[Vertex]int
	dim    int
}

func (g *Graph) buildSystem() *system {
	s := &system{offset: make(map[Vertex]int, len(g.vertices))}
	for _, v := range g.vertices {
		if v.Fixed() {
			continue
		}
		s.offset[v] = s.dim
		s.free = append(s.free, v)
		s.dim += v.Dim()
	}
	return s
}

// chi2 returns the robust total error over all edges.
func (g *Graph) chi2() float64 {
	var total float64
	for _, e := range g.edges {
		r := e.Residual()
		c := weightedChi2(e, r)
		total += e.kernel().weight(c) * c
	}
	return total
}

func weightedChi2(e Edge, r []float64) float64 {
	info := e.Information()
	var c float64
	for i := 0; i < len(r); i++ {
		for j := 0; j < len(r); j++ {
			c += r[i] * info.At(i, j) * r[j]
		}
	}
	return c
}

// edgeJacobians evaluates the residual and per-vertex numeric Jacobians of
// an edge at the current estimates.
func edgeJacobians(e Edge, s *system) (r0 []float64, jacs map[Vertex]*mat.Dense) {
	r0 = e.Residual()
	jacs = make(map[Vertex]*mat.Dense, len(e.Vertices()))
	for _, v := range e.Vertices() {
		if _, ok := s.offset[v]; !ok {
			continue
		}
		j := mat.NewDense(len(r0), v.Dim(), nil)
		delta := make([]float64, v.Dim())
		for d := 0; d < v.Dim(); d++ {
			delta[d] = jacobianEps
			v.Push()
			v.Oplus(delta)
			rp := e.Residual()
			v.Pop()
			delta[d] = 0
			for row := 0; row < len(r0); row++ {
				j.Set(row, d, (rp[row]-r0[row])/jacobianEps)
			}
		}
		jacs[v] = j
	}
	return r0, jacs
}

// normalEquations accumulates the Gauss-Newton system H dx = -b with robust
// weights applied per edge.
func (g *Graph) normalEquations(s *system) (h *mat.Dense, b []float64) {
	h = mat.NewDense(s.dim, s.dim, nil)
	b = make([]float64, s.dim)
	for _, e := range g.edges {
		r0, jacs := edgeJacobians(e, s)
		if len(jacs) == 0 {
			continue
		}
		w := e.kernel().weight(weightedChi2(e, r0))
		info := e.Information()
		for vi, ji := range jacs {
			oi := s.offset[vi]
			// b_i += w * Ji^T * info * r0
			for ci := 0; ci < vi.Dim(); ci++ {
				var acc float64
				for a := 0; a < len(r0); a++ {
					for bb := 0; bb < len(r0); bb++ {
						acc += ji.At(a, ci) * info.At(a, bb) * r0[bb]
					}
				}
				b[oi+ci] += w * acc
			}
			for vj, jj := range jacs {
				oj := s.offset[vj]
				// H_ij += w * Ji^T * info * Jj
				for ci := 0; ci < vi.Dim(); ci++ {
					for cj := 0; cj < vj.Dim(); cj++ {
						var acc float64
						for a := 0; a < len(r0); a++ {
							for bb := 0; bb < len(r0); bb++ {
								acc += ji.At(a, ci) * info.At(a, bb) * jj.At(bb, cj)
							}
						}
						h.Set(oi+ci, oj+cj, h.At(oi+ci, oj+cj)+w*acc)
					}
				}
			}
		}
	}
	return h, b
}

func applyStep(s *system, dx []float64) {
	for _, v := range s.free {
		off := s.offset[v]
		v.Oplus(dx[off : off+v.Dim()])
	}
}

func pushAll(s *system) {
	for _, v := range s.free {
		v.Push()
	}
}

func popAll(s *system) {
	for _, v := range s.free {
		v.Pop()
	}
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if x < 0 {
			x = -x
		}
		if x > m {
			m = x
		}
	}
	return m
}

// Optimize runs Levenberg-Marquardt for at most maxIterations and returns the
// number of iterations performed. Zero means there was nothing to optimize.
func (g *Graph) Optimize(maxIterations int) int {
	s := g.buildSystem()
	if s.dim == 0 || len(g.edges) == 0 {
		return 0
	}
	lambda := initialLambda
	chi2 := g.chi2()
	iterations := 0
	for iter := 0; iter < maxIterations; iter++ {
		iterations++
		h, b := g.normalEquations(s)
		accepted := false
		for lambda <= maxLambda {
			damped := mat.NewDense(s.dim, s.dim, nil)
			damped.Copy(h)
			for i := 0; i < s.dim; i++ {
				damped.Set(i, i, damped.At(i, i)+lambda)
			}
			rhs := mat.NewVecDense(s.dim, nil)
			for i, bi := range b {
				rhs.SetVec(i, -bi)
			}
			var dx mat.VecDense
			if err := dx.SolveVec(damped, rhs); err != nil {
				lambda *= 10
				continue
			}
			step := dx.RawVector().Data
			pushAll(s)
			applyStep(s, step)
			newChi2 := g.chi2()
			popAll(s)
			if newChi2 < chi2 {
				applyStep(s, step)
				improvement := chi2 - newChi2
				chi2 = newChi2
				lambda /= 2
				accepted = true
				if improvement < chi2Tolerance || maxAbs(step) < deltaTolerance {
					return iterations
				}
				break
			}
			lambda *= 10
		}
		if !accepted {
			if g.logger != nil && iterations == 1 {
				g.logger.Debug("optimization made no progress")
			}
			return iterations
		}
	}
	return iterations
}

// ComputeMarginals returns the marginal covariance blocks of the requested
// vertices, keyed by vertex id. It reports false when the Gauss-Newton
// Hessian cannot be factorized; callers fall back to identity covariances.
func (g *Graph) ComputeMarginals(vertices []Vertex) (map[int]*mat.SymDense, bool) {
	s := g.buildSystem()
	if s.dim == 0 {
		return nil, false
	}
	h, _ := g.normalEquations(s)
	sym := mat.NewSymDense(s.dim, nil)
	for i := 0; i < s.dim; i++ {
		for j := i; j < s.dim; j++ {
			sym.SetSym(i, j, 0.5*(h.At(i, j)+h.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, false
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, false
	}
	out := make(map[int]*mat.SymDense, len(vertices))
	for _, v := range vertices {
		off, ok := s.offset[v]
		if !ok {
			continue
		}
		block := mat.NewSymDense(v.Dim(), nil)
		for i := 0; i < v.Dim(); i++ {
			for j := i; j < v.Dim(); j++ {
				block.SetSym(i, j, cov.At(off+i, off+j))
			}
		}
		out[v.ID()] = block
	}
	return out, true
}
