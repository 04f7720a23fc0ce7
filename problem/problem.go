// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problem describes optimization problems in YAML or TOML files
// and builds them into an scp.Optimizer.
//
// A problem file lists the variables, the radius of the box trust region,
// and the cost and constraint terms:
//
//	variables:
//	  - {name: x, init: -1.2}
//	  - {name: y, init: 1, lower: -5, upper: 5}
//	trust_region:
//	  radius: 0.5
//	costs:
//	  - name: banana
//	    func: rosenbrock
//	    vars: [x, y]
//	    penalty: squared
//	constraints:
//	  - name: cap
//	    kind: ineq
//	    exprs:
//	      - {constant: -2, coeffs: {x: 1, y: 1}}
//
// A term is affine when it lists exprs and nonlinear when it names a built-in func.
package problem

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/curioloop/scp/scp"
	"github.com/curioloop/scp/terms"
)

var (
	ErrUnknownVar  = errors.New("problem: unknown variable")
	ErrUnknownFunc = errors.New("problem: unknown function")
	ErrInvalid     = errors.New("problem: invalid problem")
)

// Variable declares a decision variable. Missing bounds are infinite.
type Variable struct {
	Name  string   `yaml:"name" toml:"name"`
	Lower *float64 `yaml:"lower,omitempty" toml:"lower,omitempty"`
	Upper *float64 `yaml:"upper,omitempty" toml:"upper,omitempty"`
	Init  float64  `yaml:"init" toml:"init"`
}

// Trust declares the box trust region. Radii overrides Radius per variable, in declaration order.
type Trust struct {
	Radius float64   `yaml:"radius" toml:"radius"`
	Radii  []float64 `yaml:"radii,omitempty" toml:"radii,omitempty"`
}

// Expr is the affine expression Constant + ∑ Coeffs[v]·v.
type Expr struct {
	Constant float64            `yaml:"constant" toml:"constant"`
	Coeffs   map[string]float64 `yaml:"coeffs" toml:"coeffs"`
}

// Cost declares c·penalty(residuals).
type Cost struct {
	Name    string        `yaml:"name" toml:"name"`
	Penalty terms.Penalty `yaml:"penalty" toml:"penalty"`
	// Coefficient of the penalty, 1 when omitted.
	Coeff  *float64  `yaml:"coeff,omitempty" toml:"coeff,omitempty"`
	Exprs  []Expr    `yaml:"exprs,omitempty" toml:"exprs,omitempty"`
	Func   string    `yaml:"func,omitempty" toml:"func,omitempty"`
	Vars   []string  `yaml:"vars,omitempty" toml:"vars,omitempty"`
	Params []float64 `yaml:"params,omitempty" toml:"params,omitempty"`
}

// Constraint declares residuals held at ≤ 0 or = 0.
type Constraint struct {
	Name   string     `yaml:"name" toml:"name"`
	Kind   terms.Kind `yaml:"kind" toml:"kind"`
	Exprs  []Expr     `yaml:"exprs,omitempty" toml:"exprs,omitempty"`
	Func   string     `yaml:"func,omitempty" toml:"func,omitempty"`
	Vars   []string   `yaml:"vars,omitempty" toml:"vars,omitempty"`
	Params []float64  `yaml:"params,omitempty" toml:"params,omitempty"`
}

// Problem is the content of a problem file.
type Problem struct {
	Variables   []Variable   `yaml:"variables" toml:"variables"`
	TrustRegion Trust        `yaml:"trust_region" toml:"trust_region"`
	Costs       []Cost       `yaml:"costs" toml:"costs"`
	Constraints []Constraint `yaml:"constraints" toml:"constraints"`
}

// Load reads a problem from a YAML (.yaml, .yml) or TOML (.toml) file.
func Load(path string) (*Problem, error) {
	p := &Problem{}
	if err := scp.DecodeFile(path, p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the problem is complete and consistent.
func (p *Problem) Validate() (err error) {
	seen := make(map[string]bool, len(p.Variables))
	for _, v := range p.Variables {
		switch {
		case v.Name == "":
			err = errors.New("variable name is required")
		case seen[v.Name]:
			err = fmt.Errorf("duplicate variable %q", v.Name)
		case v.Lower != nil && v.Upper != nil && *v.Lower > *v.Upper:
			err = fmt.Errorf("variable %q has lower bound above upper bound", v.Name)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		seen[v.Name] = true
	}
	switch {
	case len(p.Variables) == 0:
		err = errors.New("no variables")
	case len(p.Costs) == 0:
		err = errors.New("no costs")
	case p.TrustRegion.Radii != nil && len(p.TrustRegion.Radii) != len(p.Variables):
		err = errors.New("trust region radii must match variables")
	case p.TrustRegion.Radii == nil && !(p.TrustRegion.Radius > 0):
		err = errors.New("trust region radius must greater than 0")
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, c := range p.Costs {
		if err = checkTerm(c.Name, c.Exprs, c.Func); err != nil {
			return err
		}
	}
	for _, c := range p.Constraints {
		if err = checkTerm(c.Name, c.Exprs, c.Func); err != nil {
			return err
		}
	}
	return nil
}

func checkTerm(name string, exprs []Expr, fn string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: term name is required", ErrInvalid)
	case len(exprs) > 0 && fn != "":
		return fmt.Errorf("%w: term %q has both exprs and func", ErrInvalid, name)
	case len(exprs) == 0 && fn == "":
		return fmt.Errorf("%w: term %q needs exprs or func", ErrInvalid, name)
	}
	return nil
}

func bound(b *float64, def float64) float64 {
	if b == nil {
		return def
	}
	return *b
}

// Build adds the variables, trust region, constraints and costs of p to o, in that order.
func (p *Problem) Build(o *scp.Optimizer) error {
	vars := make(map[string]*scp.Variable, len(p.Variables))
	for _, d := range p.Variables {
		v, err := o.AddVar(d.Name, bound(d.Lower, math.Inf(-1)), bound(d.Upper, math.Inf(1)), d.Init)
		if err != nil {
			return fmt.Errorf("problem: variable %s: %w", d.Name, err)
		}
		vars[d.Name] = v
	}

	radii := p.TrustRegion.Radii
	if radii == nil {
		radii = []float64{p.TrustRegion.Radius}
	}
	tr, err := scp.NewBoxTrustRegion(o.Vars(), radii...)
	if err != nil {
		return err
	}
	if err = o.SetTrustRegion(tr); err != nil {
		return err
	}

	for _, d := range p.Constraints {
		c, err := d.build(vars)
		if err != nil {
			return fmt.Errorf("problem: constraint %s: %w", d.Name, err)
		}
		o.AddConstraint(c)
	}
	for _, d := range p.Costs {
		c, err := d.build(vars)
		if err != nil {
			return fmt.Errorf("problem: cost %s: %w", d.Name, err)
		}
		o.AddCost(c)
	}
	return nil
}

func lookup(vars map[string]*scp.Variable, names []string) ([]*scp.Variable, error) {
	vs := make([]*scp.Variable, len(names))
	for i, name := range names {
		v, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownVar, name)
		}
		vs[i] = v
	}
	return vs, nil
}

func affines(vars map[string]*scp.Variable, exprs []Expr) ([]terms.Affine, error) {
	as := make([]terms.Affine, len(exprs))
	for i, e := range exprs {
		names := slices.Sorted(maps.Keys(e.Coeffs))
		vs, err := lookup(vars, names)
		if err != nil {
			return nil, err
		}
		coeffs := make([]float64, len(names))
		for j, name := range names {
			coeffs[j] = e.Coeffs[name]
		}
		if as[i], err = terms.NewAffine(e.Constant, coeffs, vs); err != nil {
			return nil, err
		}
	}
	return as, nil
}

func (d Cost) build(vars map[string]*scp.Variable) (scp.Cost, error) {
	coeff := bound(d.Coeff, 1)
	if d.Func == "" {
		as, err := affines(vars, d.Exprs)
		if err != nil {
			return nil, err
		}
		return terms.NewAffineCost(d.Name, coeff, d.Penalty, as...)
	}
	vs, err := lookup(vars, d.Vars)
	if err != nil {
		return nil, err
	}
	fn, m, err := resolve(d.Func, d.Params, len(vs))
	if err != nil {
		return nil, err
	}
	return terms.NewFuncCost(d.Name, vs, m, fn, d.Penalty, coeff)
}

func (d Constraint) build(vars map[string]*scp.Variable) (scp.Constraint, error) {
	if d.Func == "" {
		as, err := affines(vars, d.Exprs)
		if err != nil {
			return nil, err
		}
		return terms.NewLinearConstraint(d.Name, d.Kind, as...)
	}
	vs, err := lookup(vars, d.Vars)
	if err != nil {
		return nil, err
	}
	fn, m, err := resolve(d.Func, d.Params, len(vs))
	if err != nil {
		return nil, err
	}
	return terms.NewFuncConstraint(d.Name, vs, m, fn, d.Kind)
}
