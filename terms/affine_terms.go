// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package terms

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/scp"
)

// AffineCost is c·penalty(𝐚₀(𝐱) ··· 𝐚ₖ(𝐱)) over affine residuals. It is convex for c ≥ 0.
type AffineCost struct {
	name    string
	coeff   float64
	penalty Penalty
	exprs   []Affine
}

// NewAffineCost creates a cost over affine residuals.
func NewAffineCost(name string, coeff float64, penalty Penalty, exprs ...Affine) (*AffineCost, error) {
	switch {
	case len(exprs) == 0:
		return nil, errors.New("terms: cost needs at least one expression")
	case coeff < 0 || math.IsNaN(coeff):
		return nil, errors.New("terms: cost coefficient must not less than 0")
	}
	return &AffineCost{name: name, coeff: coeff, penalty: penalty, exprs: exprs}, nil
}

func (c *AffineCost) Name() string { return c.name }

func (c *AffineCost) Value(x []float64) float64 {
	r := make([]float64, len(c.exprs))
	for i, a := range c.exprs {
		r[i] = a.Value(x)
	}
	return c.coeff * c.penalty.apply(r)
}

func (c *AffineCost) Convexify([]float64) (*scp.Fragment, error) {
	f := scp.NewFragment(c.name)
	es := make([]convex.AffExpr, len(c.exprs))
	for i, a := range c.exprs {
		es[i] = a.Expr()
	}
	c.penalty.model(f, c.coeff, es, c.penalty.String())
	return f, nil
}

// Kind selects between inequality and equality constraints.
type Kind int

const (
	// Ineq 𝒈(𝐱) ≤ 0
	Ineq Kind = iota
	// Eq 𝒉(𝐱) = 0
	Eq
)

func (k Kind) String() string {
	if k == Eq {
		return "eq"
	}
	return "ineq"
}

// ParseKind parses "ineq" or "eq".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ineq":
		return Ineq, nil
	case "eq":
		return Eq, nil
	}
	return 0, fmt.Errorf("terms: unknown constraint kind %q", s)
}

func (k *Kind) UnmarshalText(text []byte) (err error) {
	*k, err = ParseKind(string(text))
	return
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k Kind) violation(v float64) float64 {
	if k == Eq {
		return math.Abs(v)
	}
	return math.Max(0, v)
}

// LinearConstraint holds every affine expression at ≤ 0 or = 0.
type LinearConstraint struct {
	name  string
	kind  Kind
	exprs []Affine
}

func NewLinearConstraint(name string, kind Kind, exprs ...Affine) (*LinearConstraint, error) {
	if len(exprs) == 0 {
		return nil, errors.New("terms: constraint needs at least one expression")
	}
	return &LinearConstraint{name: name, kind: kind, exprs: exprs}, nil
}

func (c *LinearConstraint) Name() string { return c.name }

func (c *LinearConstraint) Violation(x []float64) float64 {
	vio := 0.0
	for _, a := range c.exprs {
		vio = math.Max(vio, c.kind.violation(a.Value(x)))
	}
	return vio
}

func (c *LinearConstraint) Convexify([]float64) (*scp.Fragment, error) {
	f := scp.NewFragment(c.name)
	for _, a := range c.exprs {
		if c.kind == Eq {
			f.AddEq(a.Expr(), "")
		} else {
			f.AddIneq(a.Expr(), "")
		}
	}
	return f, nil
}
