// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package terms

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/numdiff"
	"github.com/curioloop/scp/scp"
)

// VectorFunc evaluates an m-vector y from the values z of the variables a term was built over.
// It must not keep or modify z.
type VectorFunc func(z, y []float64)

// linearization approximates 𝐫(𝐳) ≈ 𝐫(𝐳₀) + 𝐉(𝐳 - 𝐳₀) by finite differences.
type linearization struct {
	vars []*scp.Variable
	fn   VectorFunc
	m    int
	spec numdiff.ApproxSpec

	z, y, jac []float64
}

func newLinearization(vars []*scp.Variable, m int, fn VectorFunc, method numdiff.Method) (*linearization, error) {
	switch {
	case len(vars) == 0:
		return nil, errors.New("terms: function term needs variables")
	case m <= 0:
		return nil, errors.New("terms: function term needs at least one output")
	case fn == nil:
		return nil, errors.New("terms: function is required")
	}
	bounds := make([]numdiff.Bound, len(vars))
	for i, v := range vars {
		bounds[i] = numdiff.Bound{v.Handle().Lower(), v.Handle().Upper()}
	}
	return &linearization{
		vars: vars,
		fn:   fn,
		m:    m,
		spec: numdiff.ApproxSpec{
			N:         len(vars),
			M:         m,
			Object:    fn,
			Method:    method,
			Bounds:    bounds,
			NotChkBnd: true,
		},
		z:   make([]float64, len(vars)),
		y:   make([]float64, m),
		jac: make([]float64, m*len(vars)),
	}, nil
}

func (l *linearization) gather(x []float64) []float64 {
	z := make([]float64, len(l.vars))
	for i, v := range l.vars {
		z[i] = v.At(x)
	}
	return z
}

// value returns 𝐫(𝐳) at point x.
func (l *linearization) value(x []float64) []float64 {
	y := make([]float64, l.m)
	l.fn(l.gather(x), y)
	return y
}

// exprs returns the linearized residuals around point x.
func (l *linearization) exprs(x []float64) ([]convex.AffExpr, error) {
	copy(l.z, l.gather(x))
	if err := l.spec.Linearize(l.z, l.y, l.jac); err != nil {
		return nil, err
	}
	n := len(l.vars)
	es := make([]convex.AffExpr, l.m)
	for i := range es {
		row := l.jac[i*n : (i+1)*n]
		e := convex.Const(l.y[i])
		for j, v := range l.vars {
			e.Constant -= row[j] * l.z[j]
			e.AddTerm(row[j], v.Handle())
		}
		if math.IsNaN(e.Constant) {
			return nil, fmt.Errorf("terms: residual %d is not a number", i)
		}
		es[i] = e
	}
	return es, nil
}

// FuncCost is c·penalty(𝐫(𝐱)) for a smooth vector function 𝐫, linearized at every iterate.
type FuncCost struct {
	name    string
	coeff   float64
	penalty Penalty
	lin     *linearization
}

// NewFuncCost creates a cost over m residuals computed by fn from the values of vars.
func NewFuncCost(name string, vars []*scp.Variable, m int, fn VectorFunc, penalty Penalty, coeff float64) (*FuncCost, error) {
	if coeff < 0 || math.IsNaN(coeff) {
		return nil, errors.New("terms: cost coefficient must not less than 0")
	}
	lin, err := newLinearization(vars, m, fn, numdiff.Central)
	if err != nil {
		return nil, err
	}
	return &FuncCost{name: name, coeff: coeff, penalty: penalty, lin: lin}, nil
}

func (c *FuncCost) Name() string { return c.name }

func (c *FuncCost) Value(x []float64) float64 {
	return c.coeff * c.penalty.apply(c.lin.value(x))
}

func (c *FuncCost) Convexify(x []float64) (*scp.Fragment, error) {
	es, err := c.lin.exprs(x)
	if err != nil {
		return nil, fmt.Errorf("terms: linearize %s: %w", c.name, err)
	}
	f := scp.NewFragment(c.name)
	c.penalty.model(f, c.coeff, es, c.penalty.String())
	return f, nil
}

// FuncConstraint holds every output of a smooth vector function at ≤ 0 or = 0,
// enforcing its linearization at every iterate.
type FuncConstraint struct {
	name string
	kind Kind
	lin  *linearization
}

// NewFuncConstraint creates a constraint over m outputs computed by fn from the values of vars.
func NewFuncConstraint(name string, vars []*scp.Variable, m int, fn VectorFunc, kind Kind) (*FuncConstraint, error) {
	lin, err := newLinearization(vars, m, fn, numdiff.Central)
	if err != nil {
		return nil, err
	}
	return &FuncConstraint{name: name, kind: kind, lin: lin}, nil
}

func (c *FuncConstraint) Name() string { return c.name }

func (c *FuncConstraint) Violation(x []float64) float64 {
	vio := 0.0
	for _, v := range c.lin.value(x) {
		vio = math.Max(vio, c.kind.violation(v))
	}
	return vio
}

func (c *FuncConstraint) Convexify(x []float64) (*scp.Fragment, error) {
	es, err := c.lin.exprs(x)
	if err != nil {
		return nil, fmt.Errorf("terms: linearize %s: %w", c.name, err)
	}
	f := scp.NewFragment(c.name)
	for i, e := range es {
		tag := fmt.Sprintf("%s%d", c.kind, i)
		if c.kind == Eq {
			f.AddEq(e, tag)
		} else {
			f.AddIneq(e, tag)
		}
	}
	return f, nil
}
