// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package terms

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/numdiff"
	"github.com/curioloop/scp/scp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOptimizer(t *testing.T, cfg scp.Config) *scp.Optimizer {
	t.Helper()
	m, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	o, err := scp.New(m, cfg, scp.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return o
}

func addVar(t *testing.T, o *scp.Optimizer, name string, init float64) *scp.Variable {
	t.Helper()
	v, err := o.AddVar(name, math.Inf(-1), math.Inf(1), init)
	require.NoError(t, err)
	return v
}

func setTrust(t *testing.T, o *scp.Optimizer, radius float64) {
	t.Helper()
	tr, err := scp.NewBoxTrustRegion(o.Vars(), radius)
	require.NoError(t, err)
	require.NoError(t, o.SetTrustRegion(tr))
}

func TestParsePenalty(t *testing.T) {
	for _, p := range []Penalty{Squared, Abs, Hinge, Norm} {
		got, err := ParsePenalty(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePenalty("huber")
	assert.Error(t, err)

	var p Penalty
	require.NoError(t, p.UnmarshalText([]byte("hinge")))
	assert.Equal(t, Hinge, p)
}

func TestAffineCostValue(t *testing.T) {
	o := newOptimizer(t, scp.DefaultConfig())
	x, y := addVar(t, o, "x", 0), addVar(t, o, "y", 0)
	rx, err := NewAffine(-1, []float64{1}, []*scp.Variable{x})
	require.NoError(t, err)
	ry, err := NewAffine(2, []float64{1}, []*scp.Variable{y})
	require.NoError(t, err)

	pt := []float64{3, 0}
	cases := map[Penalty]float64{
		Squared: 8,
		Abs:     4,
		Hinge:   4,
		Norm:    math.Sqrt(8),
	}
	for p, want := range cases {
		c, err := NewAffineCost("c", 0.5, p, rx, ry)
		require.NoError(t, err)
		assert.InDelta(t, 0.5*want, c.Value(pt), 1e-12, p.String())
	}

	_, err = NewAffine(0, []float64{1, 2}, []*scp.Variable{x})
	assert.Error(t, err)
	_, err = NewAffineCost("c", -1, Squared, rx)
	assert.Error(t, err)
	_, err = NewAffineCost("c", 1, Squared)
	assert.Error(t, err)
}

func TestAffineCostConverges(t *testing.T) {
	o := newOptimizer(t, scp.DefaultConfig())
	x, y := addVar(t, o, "x", 0), addVar(t, o, "y", 0)
	setTrust(t, o, 10)

	rx, _ := NewAffine(-1, []float64{1}, []*scp.Variable{x})
	ry, _ := NewAffine(2, []float64{1}, []*scp.Variable{y})
	c, err := NewAffineCost("dist", 1, Squared, rx, ry)
	require.NoError(t, err)
	o.AddCost(c)

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.InDelta(t, -2, res.X[1], 1e-4)
	assert.InDelta(t, 0, res.Cost, 1e-6)
}

func TestAbsCostWithLinearConstraint(t *testing.T) {
	o := newOptimizer(t, scp.DefaultConfig())
	x := addVar(t, o, "x", 0)
	setTrust(t, o, 5)

	r, _ := NewAffine(-3, []float64{1}, []*scp.Variable{x})
	c, err := NewAffineCost("gap", 1, Abs, r)
	require.NoError(t, err)
	o.AddCost(c)

	// x - 1 ≤ 0
	g, _ := NewAffine(-1, []float64{1}, []*scp.Variable{x})
	lc, err := NewLinearConstraint("cap", Ineq, g)
	require.NoError(t, err)
	o.AddConstraint(lc)

	assert.Equal(t, 0.0, lc.Violation([]float64{0.5}))
	assert.Equal(t, 1.0, lc.Violation([]float64{2}))

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.InDelta(t, 2, res.Cost, 1e-4)
	assert.InDelta(t, 0, o.MaxViolation(res.X), 1e-6)
}

func TestLinearization(t *testing.T) {
	o := newOptimizer(t, scp.DefaultConfig())
	x, y := addVar(t, o, "x", 0), addVar(t, o, "y", 0)
	lin, err := newLinearization([]*scp.Variable{y, x}, 1, func(z, r []float64) {
		r[0] = z[0]*z[0] + 3*z[1]
	}, numdiff.Central)
	require.NoError(t, err)

	// around (x, y) = (1, 2): 𝐫 ≈ 7 + 4(y - 2) + 3(x - 1)
	es, err := lin.exprs([]float64{1, 2})
	require.NoError(t, err)
	require.Len(t, es, 1)

	value := func(v convex.Var) float64 {
		if v == x.Handle() {
			return 2
		}
		return 3
	}
	assert.InDelta(t, 7+4+3, es[0].Eval(value), 1e-4)
	assert.Equal(t, []float64{7}, lin.value([]float64{1, 2}))

	_, err = newLinearization(nil, 1, func(z, r []float64) {}, numdiff.Central)
	assert.Error(t, err)
	_, err = newLinearization([]*scp.Variable{x}, 0, func(z, r []float64) {}, numdiff.Central)
	assert.Error(t, err)
}

func TestFuncCostConverges(t *testing.T) {
	cfg := scp.DefaultConfig()
	cfg.DoneThresh = 1e-12
	o := newOptimizer(t, cfg)
	x := addVar(t, o, "x", 3)
	setTrust(t, o, 1)

	c, err := NewFuncCost("root", []*scp.Variable{x}, 1, func(z, r []float64) {
		r[0] = z[0]*z[0] - 4
	}, Squared, 1)
	require.NoError(t, err)
	o.AddCost(c)
	assert.InDelta(t, 25, c.Value([]float64{3}), 1e-12)

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 2, res.X[0], 1e-3)
}

func TestFuncConstraintActive(t *testing.T) {
	o := newOptimizer(t, scp.DefaultConfig())
	x := addVar(t, o, "x", 1)
	setTrust(t, o, 1)

	r, _ := NewAffine(-3, []float64{1}, []*scp.Variable{x})
	c, err := NewAffineCost("target", 1, Squared, r)
	require.NoError(t, err)
	o.AddCost(c)

	// x² - 4 ≤ 0
	g, err := NewFuncConstraint("disk", []*scp.Variable{x}, 1, func(z, r []float64) {
		r[0] = z[0]*z[0] - 4
	}, Ineq)
	require.NoError(t, err)
	o.AddConstraint(g)
	assert.InDelta(t, 5, g.Violation([]float64{3}), 1e-12)

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 2, res.X[0], 1e-4)
	assert.InDelta(t, 1, res.Cost, 1e-3)
}

func TestSetTrustRegionAfterConstraint(t *testing.T) {
	o := newOptimizer(t, scp.DefaultConfig())
	x := addVar(t, o, "x", 0)
	g, _ := NewAffine(-1, []float64{1}, []*scp.Variable{x})
	lc, err := NewLinearConstraint("cap", Eq, g)
	require.NoError(t, err)
	o.AddConstraint(lc)

	tr, err := scp.NewBoxTrustRegion(o.Vars(), 1)
	require.NoError(t, err)
	assert.ErrorIs(t, o.SetTrustRegion(tr), scp.ErrTrustRegionOrder)
	assert.Equal(t, 1.0, lc.Violation([]float64{0}))
}
