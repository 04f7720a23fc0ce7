// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"io"
	"log/slog"
	"testing"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/scp"
	"github.com/curioloop/scp/terms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solve(t *testing.T, path string, cfg scp.Config) (*scp.Result, *scp.Optimizer) {
	t.Helper()
	p, err := Load(path)
	require.NoError(t, err)
	m, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	o, err := scp.New(m, cfg, scp.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, p.Build(o))
	res, err := o.Optimize()
	require.NoError(t, err)
	return res, o
}

func TestLoadRosenbrock(t *testing.T) {
	p, err := Load("testdata/rosenbrock.yaml")
	require.NoError(t, err)
	require.Len(t, p.Variables, 2)
	assert.Equal(t, "x", p.Variables[0].Name)
	assert.Equal(t, -1.2, p.Variables[0].Init)
	assert.Nil(t, p.Variables[0].Lower)
	assert.Equal(t, 0.5, p.TrustRegion.Radius)
	require.Len(t, p.Costs, 1)
	assert.Equal(t, terms.Squared, p.Costs[0].Penalty)
	assert.Equal(t, "rosenbrock", p.Costs[0].Func)
}

func TestSolveRosenbrock(t *testing.T) {
	cfg := scp.DefaultConfig()
	cfg.DoneThresh = 1e-10
	res, _ := solve(t, "testdata/rosenbrock.yaml", cfg)
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-2)
	assert.InDelta(t, 1, res.X[1], 1e-2)
	assert.Less(t, res.Cost, 1e-3)
}

func TestSolveCircle(t *testing.T) {
	res, o := solve(t, "testdata/circle.yaml", scp.DefaultConfig())
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 2, res.X[0], 1e-4)
	assert.InDelta(t, 0, res.X[1], 1e-6)
	assert.InDelta(t, 1, res.Cost, 1e-3)
	assert.InDelta(t, 0, o.MaxViolation(res.X), 1e-4)
}

func TestSolveTOML(t *testing.T) {
	p, err := Load("testdata/abs.toml")
	require.NoError(t, err)
	require.Len(t, p.Costs, 1)
	assert.Equal(t, terms.Abs, p.Costs[0].Penalty)
	require.NotNil(t, p.Costs[0].Coeff)
	assert.Equal(t, 2.0, *p.Costs[0].Coeff)
	assert.Equal(t, terms.Ineq, p.Constraints[0].Kind)

	res, o := solve(t, "testdata/abs.toml", scp.DefaultConfig())
	assert.Equal(t, scp.Converged, res.Status)
	assert.InDelta(t, 0, res.Cost, 1e-4)
	assert.InDelta(t, 1, res.X[0]+res.X[1], 1e-4)
	assert.InDelta(t, 0, o.MaxViolation(res.X), 1e-6)
}

func TestBuildUnknownVar(t *testing.T) {
	p, err := Load("testdata/broken.yaml")
	require.NoError(t, err)
	m, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	o, err := scp.New(m, scp.DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Build(o), ErrUnknownVar)
}

func TestValidate(t *testing.T) {
	one := 1.0
	zero := 0.0
	valid := func() *Problem {
		return &Problem{
			Variables:   []Variable{{Name: "x"}},
			TrustRegion: Trust{Radius: 1},
			Costs:       []Cost{{Name: "c", Exprs: []Expr{{Constant: 1}}}},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(p *Problem){
		"no variables":   func(p *Problem) { p.Variables = nil },
		"no costs":       func(p *Problem) { p.Costs = nil },
		"duplicate":      func(p *Problem) { p.Variables = append(p.Variables, Variable{Name: "x"}) },
		"bounds":         func(p *Problem) { p.Variables[0].Lower, p.Variables[0].Upper = &one, &zero },
		"radius":         func(p *Problem) { p.TrustRegion.Radius = 0 },
		"radii":          func(p *Problem) { p.TrustRegion.Radii = []float64{1, 2} },
		"unnamed term":   func(p *Problem) { p.Costs[0].Name = "" },
		"exprs and func": func(p *Problem) { p.Costs[0].Func = "circle" },
		"empty term": func(p *Problem) {
			p.Constraints = []Constraint{{Name: "g"}}
		},
	}
	for name, mutate := range cases {
		p := valid()
		mutate(p)
		assert.ErrorIs(t, p.Validate(), ErrInvalid, name)
	}
}

func TestResolve(t *testing.T) {
	fn, m, err := resolve("rosenbrock", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, m)
	r := make([]float64, 2)
	fn([]float64{1, 1}, r)
	assert.Equal(t, []float64{0, 0}, r)
	fn([]float64{0, 1}, r)
	assert.Equal(t, []float64{10, 1}, r)

	fn, m, err = resolve("circle", []float64{1, 1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, m)
	fn([]float64{1, 3}, r[:1])
	assert.Equal(t, 0.0, r[0])

	fn, m, err = resolve("unit", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, m)
	r = make([]float64, 3)
	fn([]float64{1, 2, 0}, r)
	assert.Equal(t, []float64{0, 3, -1}, r)

	_, _, err = resolve("circle", nil, 2)
	assert.Error(t, err)
	_, _, err = resolve("rosenbrock", nil, 3)
	assert.Error(t, err)
	_, _, err = resolve("spiral", nil, 2)
	assert.ErrorIs(t, err, ErrUnknownFunc)

	assert.Equal(t, []string{"circle", "rosenbrock", "unit"}, Builtins())
}
