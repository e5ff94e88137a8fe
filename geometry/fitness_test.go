package geometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/structkit/structure-slam/cloud"
)

func lineCloud(n int, origin r3.Vector, step r3.Vector) *cloud.Cloud {
	c := cloud.NewWithCapacity(n)
	for i := 0; i < n; i++ {
		c.Add(cloud.Point{Position: origin.Add(step.Mul(float64(i)))})
	}
	return c
}

func TestCheckPointNeighbours(t *testing.T) {
	t.Run("overlapping clouds", func(t *testing.T) {
		c1 := lineCloud(150, r3.Vector{}, r3.Vector{X: 0.05})
		c2 := lineCloud(150, r3.Vector{Y: 0.1}, r3.Vector{X: 0.05})
		test.That(t, CheckPointNeighbours(c1, c2), test.ShouldBeTrue)
	})
	t.Run("disjoint clouds", func(t *testing.T) {
		c1 := lineCloud(150, r3.Vector{}, r3.Vector{X: 0.05})
		c2 := lineCloud(150, r3.Vector{X: 100}, r3.Vector{X: 0.05})
		test.That(t, CheckPointNeighbours(c1, c2), test.ShouldBeFalse)
	})
	t.Run("too few overlapping points", func(t *testing.T) {
		c1 := lineCloud(50, r3.Vector{}, r3.Vector{X: 0.05})
		c2 := lineCloud(50, r3.Vector{}, r3.Vector{X: 0.05})
		test.That(t, CheckPointNeighbours(c1, c2), test.ShouldBeFalse)
	})
	t.Run("empty cloud", func(t *testing.T) {
		test.That(t, CheckPointNeighbours(cloud.New(), cloud.New()), test.ShouldBeFalse)
	})
}

func TestFitnessScore(t *testing.T) {
	c1 := lineCloud(20, r3.Vector{}, r3.Vector{X: 0.5})

	t.Run("identical clouds score zero", func(t *testing.T) {
		got := FitnessScore(c1, c1, IdentityPose(), 1.0)
		test.That(t, got, test.ShouldAlmostEqual, 0, 1e-12)
	})
	t.Run("constant offset", func(t *testing.T) {
		c2 := lineCloud(20, r3.Vector{Y: 0.3}, r3.Vector{X: 0.5})
		got := FitnessScore(c1, c2, IdentityPose(), 1.0)
		test.That(t, got, test.ShouldAlmostEqual, 0.09, 1e-9)
	})
	t.Run("relative pose closes the gap", func(t *testing.T) {
		c2 := lineCloud(20, r3.Vector{Y: 0.3}, r3.Vector{X: 0.5})
		rel := NewPose(IdentityPose().Rotation, r3.Vector{Y: 0.3})
		got := FitnessScore(c1, c2, rel, 1.0)
		test.That(t, got, test.ShouldAlmostEqual, 0, 1e-12)
	})
	t.Run("no matches in range", func(t *testing.T) {
		c2 := lineCloud(20, r3.Vector{Z: 50}, r3.Vector{X: 0.5})
		got := FitnessScore(c1, c2, IdentityPose(), 1.0)
		test.That(t, got, test.ShouldEqual, math.MaxFloat64)
	})
}
